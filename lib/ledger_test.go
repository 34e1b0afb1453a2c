package lib

import (
	"context"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

func findAction(actions []ImageAction, name string) (ImageAction, bool) {
	for _, action := range actions {
		if action.Name == name {
			return action, true
		}
	}
	return ImageAction{}, false
}

func TestLedgerMarkCanonicalizes(t *testing.T) {
	store := withStore(t)
	ledger := &ImageLedger{Store: store, Runtime: &fakeRuntime{}, Registry: &fakeRegistry{}}

	if err := ledger.Mark([]string{"nginx", "nginx:latest"}); err != nil {
		t.Fatal(err)
	}
	image, err := store.GetImageByName("nginx:latest")
	if err != nil {
		t.Fatal(err)
	}
	if image.ReferenceCount != 2 {
		t.Errorf("reference count is %d, expected 2 (implicit and explicit tag are the same image)", image.ReferenceCount)
	}
}

func TestSweepRemovesUnreferenced(t *testing.T) {
	store := withStore(t)
	runtime := &fakeRuntime{}
	ledger := &ImageLedger{Store: store, Runtime: runtime, Registry: &fakeRegistry{}}

	if err := ledger.Mark([]string{"nginx:alpine", "redis:7"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Next pass references only nginx; redis must be swept.
	if err := ledger.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Mark([]string{"nginx:alpine"}); err != nil {
		t.Fatal(err)
	}
	actions, err := ledger.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	action, ok := findAction(actions, "redis:7")
	if !ok || action.Action != ImageRemoved {
		t.Errorf("expected redis:7 removed, actions: %+v", actions)
	}
	if !containsString(runtime.removedImages, "redis:7") {
		t.Error("runtime was not asked to remove redis:7")
	}
	if _, err := store.GetImageByName("redis:7"); err == nil {
		t.Error("swept image still has a row")
	}
}

func TestSweepRemovalFailureStillDeletesRow(t *testing.T) {
	store := withStore(t)
	runtime := &fakeRuntime{removeImageErr: map[string]error{
		"redis:7": errors.New("image in use"),
	}}
	ledger := &ImageLedger{Store: store, Runtime: runtime, Registry: &fakeRegistry{}}

	if err := ledger.Mark([]string{"nginx:alpine", "redis:7"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Mark([]string{"nginx:alpine"}); err != nil {
		t.Fatal(err)
	}

	actions, err := ledger.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	action, ok := findAction(actions, "redis:7")
	if !ok || action.Action != ImageRemoved || action.Err == nil {
		t.Errorf("expected a removed action carrying the error, got %+v", action)
	}
	// The row goes away even though the runtime refused: a later pass that
	// references the image again recreates it and re-pulls.
	if _, err := store.GetImageByName("redis:7"); err == nil {
		t.Error("row for the stuck image survived the sweep")
	}
}

func TestSweepPullsOnDigestChange(t *testing.T) {
	store := withStore(t)
	runtime := &fakeRuntime{}
	registry := &fakeRegistry{digests: map[string]digest.Digest{
		"nginx:alpine": digest.FromString("v1"),
	}}
	ledger := &ImageLedger{Store: store, Runtime: runtime, Registry: registry}

	// First sweep: no stored digest yet, so the image is pulled.
	if err := ledger.Mark([]string{"nginx:alpine"}); err != nil {
		t.Fatal(err)
	}
	actions, err := ledger.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if action, _ := findAction(actions, "nginx:alpine"); action.Action != ImagePulled {
		t.Fatalf("expected a pull on first sight, got %q", action.Action)
	}

	// Unchanged digest: kept, no second pull.
	if err := ledger.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Mark([]string{"nginx:alpine"}); err != nil {
		t.Fatal(err)
	}
	actions, err = ledger.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if action, _ := findAction(actions, "nginx:alpine"); action.Action != ImageKept {
		t.Errorf("expected kept on unchanged digest, got %q", action.Action)
	}
	if len(runtime.pulled) != 1 {
		t.Errorf("pulled %d times, expected 1", len(runtime.pulled))
	}

	// Upstream moved: pulled again and the stored digest follows.
	registry.digests["nginx:alpine"] = digest.FromString("v2")
	if err := ledger.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Mark([]string{"nginx:alpine"}); err != nil {
		t.Fatal(err)
	}
	actions, err = ledger.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if action, _ := findAction(actions, "nginx:alpine"); action.Action != ImagePulled {
		t.Errorf("expected a pull after upstream change, got %q", action.Action)
	}
	image, err := store.GetImageByName("nginx:alpine")
	if err != nil {
		t.Fatal(err)
	}
	if image.Digest != digest.FromString("v2").String() {
		t.Errorf("stored digest %q did not follow upstream", image.Digest)
	}
}

func TestSweepUnreachableRegistryKeepsDigest(t *testing.T) {
	store := withStore(t)
	runtime := &fakeRuntime{}
	registry := &fakeRegistry{}
	ledger := &ImageLedger{Store: store, Runtime: runtime, Registry: registry}

	if err := ledger.Mark([]string{"nginx:alpine"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	stored, err := store.GetImageByName("nginx:alpine")
	if err != nil {
		t.Fatal(err)
	}

	registry.unreachable = true
	if err := ledger.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Mark([]string{"nginx:alpine"}); err != nil {
		t.Fatal(err)
	}
	actions, err := ledger.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	action, _ := findAction(actions, "nginx:alpine")
	if action.Action != ImageDigestCheckFailed {
		t.Errorf("expected digest-check-failed, got %q", action.Action)
	}
	after, err := store.GetImageByName("nginx:alpine")
	if err != nil {
		t.Fatal(err)
	}
	if after.Digest != stored.Digest {
		t.Error("stored digest changed while the registry was unreachable")
	}
	if len(runtime.pulled) != 1 {
		t.Errorf("pulled %d times, expected 1 (no pull without a digest verdict)", len(runtime.pulled))
	}
}
