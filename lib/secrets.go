package lib

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DirSecretStore reads secrets from files under a fixed root directory,
// one file per secret id.
type DirSecretStore struct {
	Root string
}

func NewDirSecretStore(root string) DirSecretStore {
	return DirSecretStore{Root: root}
}

func (s DirSecretStore) Read(id string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Root, id))
}

// ResolveSecrets maps every declared secret of a stack to its value. A
// missing secret is fatal for the stack: the error is returned before any
// deploy or state mutation can happen. Values are returned for the deploy
// environment only and must not end up in logs or files.
func ResolveSecrets(store SecretStore, specs []SecretSpec) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(specs))
	for _, spec := range specs {
		value, err := store.Read(spec.ID)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Errorf("secret %q not found in secret store", spec.ID)
			}
			return nil, errors.Wrapf(err, "reading secret %q", spec.ID)
		}
		env[spec.Env] = strings.TrimSuffix(string(value), "\n")
	}
	return env, nil
}
