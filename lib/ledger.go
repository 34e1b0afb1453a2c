package lib

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dockerops/dockerops/db"
)

// ImageActionKind is what the sweep phase decided for one image.
type ImageActionKind string

const (
	ImageKept              ImageActionKind = "kept"
	ImagePulled            ImageActionKind = "pulled"
	ImageRemoved           ImageActionKind = "removed"
	ImagePullFailed        ImageActionKind = "pull-failed"
	ImageDigestCheckFailed ImageActionKind = "digest-check-failed"
)

// ImageAction is one line of the per-image pass summary.
type ImageAction struct {
	Name   string
	Action ImageActionKind
	Err    error
}

// ImageLedger is the reference-counted image catalog. A pass drives it
// through three strictly ordered phases: Reset zeroes every count, Mark
// records references while stacks are processed, and Sweep - only after
// every stack has been marked - retires unreferenced images and refreshes
// digests for the rest.
type ImageLedger struct {
	Store    *db.Store
	Runtime  RuntimeClient
	Registry RegistryClient

	// Workers bounds concurrent registry digest checks during Sweep.
	Workers int
}

func (l *ImageLedger) Reset() error {
	return errors.Wrap(l.Store.ResetImageCounts(), "resetting image reference counts")
}

// Mark records every reference of one stack definition. Duplicate
// occurrences count; an image shared by several stacks accumulates one
// increment per occurrence.
func (l *ImageLedger) Mark(refs []string) error {
	for _, ref := range refs {
		canonical := CanonicalRef(ref)
		count, err := l.Store.MarkImage(canonical)
		if err != nil {
			return errors.Wrapf(err, "recording image %q", canonical)
		}
		Log().Debugf("image %q referenced %d time(s)", canonical, count)
	}
	return nil
}

// Sweep retires every image whose count stayed zero and checks the
// registry digest of every image still in use, pulling when the upstream
// manifest changed or no digest is stored yet. Removal never depends on
// registry reachability; an unreachable registry only skips the
// pull/update decision for that image until the next pass.
func (l *ImageLedger) Sweep(ctx context.Context) ([]ImageAction, error) {
	images, err := l.Store.GetAllImages()
	if err != nil {
		return nil, errors.Wrap(err, "listing images")
	}

	var actions []ImageAction
	var inUse []db.Image
	for _, image := range images {
		if image.ReferenceCount > 0 {
			inUse = append(inUse, image)
			continue
		}
		action := ImageAction{Name: image.Name, Action: ImageRemoved}
		if err := l.Runtime.RemoveImage(ctx, image.Name); err != nil {
			// The row is deleted regardless: a later pass that references
			// the image again will re-create it and re-pull.
			LogE(err).Warningf("could not remove image %q", image.Name)
			action.Err = err
		}
		actions = append(actions, action)
	}
	if err := l.Store.DeleteImagesWithZeroCount(); err != nil {
		return actions, errors.Wrap(err, "deleting unreferenced images")
	}

	workers := l.Workers
	if workers < 1 {
		workers = 1
	}
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	var mu sync.Mutex
	for _, image := range inUse {
		image := image
		grp.Go(func() error {
			action := l.checkImage(gctx, image)
			mu.Lock()
			actions = append(actions, action)
			mu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return actions, err
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions, nil
}

func (l *ImageLedger) checkImage(ctx context.Context, image db.Image) ImageAction {
	remote, err := l.Registry.ManifestDigest(ctx, image.Name)
	if err != nil {
		LogE(err).Warningf("digest check for %q failed, keeping stored digest", image.Name)
		return ImageAction{Name: image.Name, Action: ImageDigestCheckFailed, Err: err}
	}

	if image.Digest == remote.String() {
		return ImageAction{Name: image.Name, Action: ImageKept}
	}

	if err := l.Runtime.PullImage(ctx, image.Name); err != nil {
		LogE(err).Warningf("pulling %q failed", image.Name)
		return ImageAction{Name: image.Name, Action: ImagePullFailed, Err: err}
	}
	if err := l.Store.UpdateImageDigest(image.Name, remote.String()); err != nil {
		return ImageAction{Name: image.Name, Action: ImagePullFailed, Err: err}
	}
	return ImageAction{Name: image.Name, Action: ImagePulled}
}
