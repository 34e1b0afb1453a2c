package lib

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// GitFetcher clones a source tree with the git CLI into a throwaway
// directory under BaseDir.
type GitFetcher struct {
	BaseDir string
}

func NewGitFetcher() GitFetcher {
	return GitFetcher{BaseDir: os.TempDir()}
}

func (f GitFetcher) Fetch(ctx context.Context, url string) (string, error) {
	dir := filepath.Join(f.BaseDir, "dockerops-"+uuid.NewString())

	cloneURL := url
	if strings.HasPrefix(url, "github.com/") {
		cloneURL = "https://" + url
	}

	Log().Infof("cloning %s", cloneURL)
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", cloneURL, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return "", errors.Wrapf(err, "cloning %s: %s", url, strings.TrimSpace(string(out)))
	}
	return dir, nil
}

func (f GitFetcher) Cleanup(dir string) error {
	return os.RemoveAll(dir)
}
