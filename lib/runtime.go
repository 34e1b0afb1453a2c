package lib

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
)

// DockerClient drives the local docker daemon. Image and volume
// operations go through the engine API; stack deploy/rm are CLI-level
// constructs with no single API call, so those shell out to the docker
// binary the way an operator would run them.
type DockerClient struct {
	api *client.Client
	bin string
}

func NewDockerClient() (*DockerClient, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "connecting to docker daemon")
	}
	return &DockerClient{api: api, bin: "docker"}, nil
}

// DeployStack streams the materialized definition to `docker stack deploy`
// on stdin. The secrets env rides on the subprocess environment only; it
// is never written to disk and never logged.
func (d *DockerClient) DeployStack(ctx context.Context, name string, definition []byte, env map[string]string) error {
	cmd := exec.CommandContext(ctx, d.bin, "stack", "deploy", "--compose-file", "-", name)
	cmd.Stdin = bytes.NewReader(definition)
	cmd.Env = os.Environ()
	for key, value := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "docker stack deploy %s: %s", name, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *DockerClient) RemoveStack(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, d.bin, "stack", "rm", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "docker stack rm %s: %s", name, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *DockerClient) PullImage(ctx context.Context, ref string) error {
	body, err := d.api.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return errors.Wrapf(err, "pulling %s", ref)
	}
	defer body.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, body); err != nil {
		return errors.Wrapf(err, "pulling %s", ref)
	}
	return nil
}

func (d *DockerClient) RemoveImage(ctx context.Context, ref string) error {
	_, err := d.api.ImageRemove(ctx, ref, types.ImageRemoveOptions{PruneChildren: true})
	if err != nil {
		return errors.Wrapf(err, "removing %s", ref)
	}
	return nil
}

// EnsureVolume is idempotent: creating an existing volume by name returns
// the existing volume.
func (d *DockerClient) EnsureVolume(ctx context.Context, name string) error {
	_, err := d.api.VolumeCreate(ctx, volume.VolumeCreateBody{Name: name})
	if err != nil {
		return errors.Wrapf(err, "creating volume %s", name)
	}
	return nil
}
