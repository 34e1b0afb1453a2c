package lib

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// VolumeKind tags the two ways a declared volume can be materialized.
type VolumeKind string

const (
	VolumeKindVolume  VolumeKind = "volume"
	VolumeKindBinding VolumeKind = "binding"
)

// VolumeSpec is one entry of the volume-set file. For kind "volume", Path
// is unused and ID names the orchestrator-managed volume. For kind
// "binding", Path is the repository-relative directory mirrored to the
// network store under ID.
type VolumeSpec struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"type"`
	Path string `yaml:"path"`
}

// SecretSpec is one entry of a per-stack secret list: the id of a file in
// the secret store and the environment variable it resolves to.
type SecretSpec struct {
	ID  string `yaml:"id"`
	Env string `yaml:"env"`
}

// Fetcher produces a local copy of a remote source tree.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Cleanup(dir string) error
}

// RuntimeClient is the narrow surface of the container runtime the engine
// needs. Secrets in env are passed opaquely and must never be persisted.
type RuntimeClient interface {
	DeployStack(ctx context.Context, name string, definition []byte, env map[string]string) error
	RemoveStack(ctx context.Context, name string) error
	PullImage(ctx context.Context, ref string) error
	RemoveImage(ctx context.Context, ref string) error
	EnsureVolume(ctx context.Context, name string) error
}

// RegistryClient answers what the registry currently serves for an image
// reference.
type RegistryClient interface {
	ManifestDigest(ctx context.Context, ref string) (digest.Digest, error)
}

// SecretStore reads secret values by id. Read must return an error
// satisfying os.IsNotExist for unknown ids.
type SecretStore interface {
	Read(id string) ([]byte, error)
}
