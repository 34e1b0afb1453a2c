package lib

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rubyist/lockfile"

	"github.com/dockerops/dockerops/db"
)

// ErrAlreadyWatched refuses a sync for a URL that has a source-cache
// entry. The engine is single-shot per URL; teardown clears the entry.
var ErrAlreadyWatched = errors.New("source tree already synced")

// Engine composes the snapshot loader, secrets resolver, volume
// materializer, image ledger and stack reconciler into the three
// user-facing operations.
type Engine struct {
	Store    *db.Store
	Fetcher  Fetcher
	Runtime  RuntimeClient
	Registry RegistryClient
	Secrets  SecretStore

	// LockPath is the lock file taken for the duration of every mutating
	// operation. The reset/mark/sweep protocol must not interleave with a
	// concurrent pass against the same store.
	LockPath string

	DigestWorkers int
}

// PassSummary reports, per entity, what a sync pass did. Transient holds
// per-resource conditions (binding copy failures and the like) that will
// be retried on the next pass.
type PassSummary struct {
	URL       string
	Stacks    []StackOutcome
	Images    []ImageAction
	Transient []error
}

// TeardownSummary lists resources that could not be removed. The tables
// are cleared regardless, so teardown is never blocked by a stuck
// resource.
type TeardownSummary struct {
	Failures []error
}

// StatusReport is a read-only dump of the state store.
type StatusReport struct {
	Sources []db.SourceCacheEntry
	Stacks  []db.Stack
	Images  []db.Image
}

// Sync runs one finite reconciliation pass over the source tree at url.
// Structural problems with the tree abort the whole pass; per-stack and
// per-resource failures are reported in the summary and the pass goes on.
func (e *Engine) Sync(ctx context.Context, url string) (*PassSummary, error) {
	unlock, err := e.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The cache check must run under the lock: two racing invocations
	// serialize here, and the second must see the entry the first wrote.
	if _, err := e.Store.GetSourceFromCache(url); err == nil {
		return nil, errors.Wrapf(ErrAlreadyWatched, "%q", url)
	} else if err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "checking source cache")
	}

	treeRoot, err := e.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "fetching source tree")
	}
	defer func() {
		if err := e.Fetcher.Cleanup(treeRoot); err != nil {
			LogE(err).Warningf("could not clean up fetched tree %s", treeRoot)
		}
	}()

	snapshot, err := LoadSnapshot(treeRoot)
	if err != nil {
		return nil, err
	}
	Log().Infof("snapshot declares %d stack(s)", len(snapshot.Stacks))

	summary := &PassSummary{URL: url}

	// Volumes and bindings are tree-global; materializing them up front
	// satisfies the requirement that materialization completes before any
	// stack's content hash is computed.
	materializer := &Materializer{Runtime: e.Runtime, NFSBase: snapshot.NFSBase}
	bindings, transient := materializer.Materialize(ctx, treeRoot, snapshot.Volumes)
	summary.Transient = transient

	ledger := &ImageLedger{Store: e.Store, Runtime: e.Runtime, Registry: e.Registry, Workers: e.DigestWorkers}
	if err := ledger.Reset(); err != nil {
		return nil, err
	}

	reconciler := &Reconciler{Store: e.Store, Runtime: e.Runtime}
	for _, stack := range snapshot.Stacks {
		outcome := e.processStack(ctx, url, stack, bindings, ledger, reconciler)
		if outcome.Err != nil {
			LogE(outcome.Err).Errorf("stack %q", stack.Name)
		}
		summary.Stacks = append(summary.Stacks, outcome)
	}

	// Phase barrier: every stack above has been marked, sweep runs once.
	actions, err := ledger.Sweep(ctx)
	if err != nil {
		return summary, err
	}
	summary.Images = actions

	if err := e.Store.AddSourceToCache(url, time.Now()); err != nil {
		return summary, errors.Wrap(err, "recording source cache entry")
	}
	return summary, nil
}

// processStack runs the per-stack pipeline: secrets gate first (a missing
// secret aborts the stack before any mutation), then materialization of
// the definition, then marking, then the deploy decision.
func (e *Engine) processStack(ctx context.Context, url string, stack SnapshotStack, bindings map[string]string, ledger *ImageLedger, reconciler *Reconciler) StackOutcome {
	env, err := ResolveSecrets(e.Secrets, stack.Secrets)
	if err != nil {
		return StackOutcome{Name: stack.Name, Action: StackSkipped, Err: err}
	}

	definition, err := RewriteMounts(stack.Definition, bindings)
	if err != nil {
		return StackOutcome{Name: stack.Name, Action: StackSkipped, Err: err}
	}

	refs, err := ExtractImageRefs(definition)
	if err != nil {
		return StackOutcome{Name: stack.Name, Action: StackSkipped, Err: err}
	}
	if err := ledger.Mark(refs); err != nil {
		return StackOutcome{Name: stack.Name, Action: StackFailed, Err: err}
	}

	return reconciler.Reconcile(ctx, url, stack, definition, env)
}

// Status never mutates anything and therefore takes no lock.
func (e *Engine) Status() (*StatusReport, error) {
	sources, err := e.Store.GetAllSources()
	if err != nil {
		return nil, errors.Wrap(err, "listing sources")
	}
	stacks, err := e.Store.GetAllStacks()
	if err != nil {
		return nil, errors.Wrap(err, "listing stacks")
	}
	images, err := e.Store.GetAllImages()
	if err != nil {
		return nil, errors.Wrap(err, "listing images")
	}
	return &StatusReport{Sources: sources, Stacks: stacks, Images: images}, nil
}

// Teardown removes every recorded stack and image from the runtime and
// clears the state store. Individual removal failures are collected and
// reported; they never abort the operation.
func (e *Engine) Teardown(ctx context.Context) (*TeardownSummary, error) {
	unlock, err := e.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	summary := &TeardownSummary{}

	stacks, err := e.Store.GetAllStacks()
	if err != nil {
		return nil, errors.Wrap(err, "listing stacks")
	}
	for _, stack := range stacks {
		Log().Infof("removing stack %q", stack.Name)
		if err := e.Runtime.RemoveStack(ctx, stack.Name); err != nil {
			LogE(err).Warningf("could not remove stack %q", stack.Name)
			summary.Failures = append(summary.Failures, err)
		}
	}

	images, err := e.Store.GetAllImages()
	if err != nil {
		return nil, errors.Wrap(err, "listing images")
	}
	for _, image := range images {
		Log().Infof("removing image %q", image.Name)
		if err := e.Runtime.RemoveImage(ctx, image.Name); err != nil {
			LogE(err).Warningf("could not remove image %q", image.Name)
			summary.Failures = append(summary.Failures, err)
		}
	}

	if err := e.Store.DeleteAllStacks(); err != nil {
		return summary, errors.Wrap(err, "clearing stacks")
	}
	if err := e.Store.DeleteAllImages(); err != nil {
		return summary, errors.Wrap(err, "clearing images")
	}
	if err := e.Store.ClearSourceCache(); err != nil {
		return summary, errors.Wrap(err, "clearing source cache")
	}
	return summary, nil
}

func (e *Engine) acquireLock() (func(), error) {
	if e.LockPath == "" {
		return func() {}, nil
	}
	file, err := os.OpenFile(e.LockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "opening lock file")
	}
	lock := lockfile.NewFcntlLockfileFromFile(file)
	if err := lock.LockWriteB(); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "locking state store")
	}
	return func() {
		lock.Unlock()
		file.Close()
	}, nil
}
