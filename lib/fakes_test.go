package lib

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/dockerops/dockerops/db"
)

// fakeRuntime records every call instead of talking to a daemon.
type fakeRuntime struct {
	mu sync.Mutex

	deployed       []string
	deployErr      map[string]error
	removedStacks  []string
	removeStackErr map[string]error
	pulled         []string
	removedImages  []string
	removeImageErr map[string]error
	volumes        []string
}

func (f *fakeRuntime) DeployStack(ctx context.Context, name string, definition []byte, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deployErr[name]; err != nil {
		return err
	}
	f.deployed = append(f.deployed, name)
	return nil
}

func (f *fakeRuntime) RemoveStack(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeStackErr[name]; err != nil {
		return err
	}
	f.removedStacks = append(f.removedStacks, name)
	return nil
}

func (f *fakeRuntime) PullImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return nil
}

func (f *fakeRuntime) RemoveImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeImageErr[ref]; err != nil {
		return err
	}
	f.removedImages = append(f.removedImages, ref)
	return nil
}

func (f *fakeRuntime) EnsureVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, name)
	return nil
}

func (f *fakeRuntime) deployCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deployed)
}

// fakeRegistry serves digests from a map; unset references get a digest
// derived from the reference so repeated checks are stable.
type fakeRegistry struct {
	digests     map[string]digest.Digest
	unreachable bool
}

func (f *fakeRegistry) ManifestDigest(ctx context.Context, ref string) (digest.Digest, error) {
	if f.unreachable {
		return "", errors.New("registry unreachable")
	}
	if d, ok := f.digests[ref]; ok {
		return d, nil
	}
	return digest.FromString(ref), nil
}

// fakeFetcher hands out a prebuilt local tree and counts how often it is
// asked; Cleanup is a no-op because the test owns the directory.
type fakeFetcher struct {
	dir     string
	fetched int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.fetched++
	return f.dir, nil
}

func (f *fakeFetcher) Cleanup(dir string) error { return nil }

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func withStore(t *testing.T) *db.Store {
	t.Helper()
	store := &db.Store{}
	if err := store.Init(":memory:"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T, treeRoot string, runtime *fakeRuntime, registry *fakeRegistry, secretsRoot string) *Engine {
	t.Helper()
	if runtime.deployErr == nil {
		runtime.deployErr = map[string]error{}
	}
	return &Engine{
		Store:         withStore(t),
		Fetcher:       &fakeFetcher{dir: treeRoot},
		Runtime:       runtime,
		Registry:      registry,
		Secrets:       NewDirSecretStore(secretsRoot),
		DigestWorkers: 2,
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func composeWithMount(image, mount string) string {
	return strings.Join([]string{
		"version: \"3.8\"",
		"services:",
		"  main:",
		"    image: " + image,
		"    volumes:",
		"      - " + mount,
		"",
	}, "\n")
}
