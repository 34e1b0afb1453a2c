package lib

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	stacksFileName  = "stacks.yaml"
	volumesFileName = "volumes.yaml"
	nfsFileName     = "nfs.yaml"
	secretsFileName = "secrets.yaml"
)

// composeFileNames are the accepted definition file names inside a stack
// directory, probed in order.
var composeFileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// SnapshotStack is one declared stack of a snapshot, with its raw
// definition bytes and its secret requirements.
type SnapshotStack struct {
	Name        string
	ComposePath string // relative to the tree root
	Definition  []byte
	Secrets     []SecretSpec
}

// Snapshot is the parsed content of a fetched source tree.
type Snapshot struct {
	Root    string
	Stacks  []SnapshotStack
	Volumes []VolumeSpec
	NFSBase string
}

// LoadSnapshot parses the declarative files of a fetched source tree.
// Everything it rejects is a structural error: the pass must not start
// mutating state based on a malformed tree.
func LoadSnapshot(root string) (*Snapshot, error) {
	stacksPath := filepath.Join(root, stacksFileName)
	data, err := os.ReadFile(stacksPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", stacksFileName)
	}

	var declared []struct {
		Name string `yaml:"name"`
	}
	if err := yaml.Unmarshal(data, &declared); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", stacksFileName)
	}

	snapshot := &Snapshot{Root: root}

	for _, decl := range declared {
		if decl.Name == "" {
			return nil, errors.Errorf("%s: stack entry without a name", stacksFileName)
		}
		stack, err := loadStack(root, decl.Name)
		if err != nil {
			return nil, err
		}
		snapshot.Stacks = append(snapshot.Stacks, stack)
	}

	if err := loadVolumeSet(root, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func loadStack(root, name string) (SnapshotStack, error) {
	dir := filepath.Join(root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return SnapshotStack{}, errors.Errorf("declared stack %q has no matching directory", name)
	}

	stack := SnapshotStack{Name: name}
	for _, candidate := range composeFileNames {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return SnapshotStack{}, errors.Wrapf(err, "reading definition of stack %q", name)
			}
			stack.ComposePath = filepath.ToSlash(filepath.Join(name, candidate))
			stack.Definition = data
			break
		}
	}
	if stack.ComposePath == "" {
		return SnapshotStack{}, errors.Errorf("stack %q has no definition file", name)
	}

	// Secrets are optional: no file means no secrets for this stack.
	secretsPath := filepath.Join(dir, secretsFileName)
	data, err := os.ReadFile(secretsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return stack, nil
		}
		return SnapshotStack{}, errors.Wrapf(err, "reading secrets of stack %q", name)
	}
	if err := yaml.Unmarshal(data, &stack.Secrets); err != nil {
		return SnapshotStack{}, errors.Wrapf(err, "parsing secrets of stack %q", name)
	}
	for _, secret := range stack.Secrets {
		if secret.ID == "" || secret.Env == "" {
			return SnapshotStack{}, errors.Errorf("stack %q: secret entries need both id and env", name)
		}
	}
	return stack, nil
}

func loadVolumeSet(root string, snapshot *Snapshot) error {
	data, err := os.ReadFile(filepath.Join(root, volumesFileName))
	if err != nil {
		if os.IsNotExist(err) {
			// No volume set means no transformation for this tree.
			return nil
		}
		return errors.Wrapf(err, "reading %s", volumesFileName)
	}
	if err := yaml.Unmarshal(data, &snapshot.Volumes); err != nil {
		return errors.Wrapf(err, "parsing %s", volumesFileName)
	}

	needsNFS := false
	for _, vol := range snapshot.Volumes {
		switch VolumeKind(vol.Kind) {
		case VolumeKindVolume:
		case VolumeKindBinding:
			needsNFS = true
		default:
			return errors.Errorf("%s: volume %q has unknown type %q", volumesFileName, vol.ID, vol.Kind)
		}
		if vol.ID == "" {
			return errors.Errorf("%s: volume entry without an id", volumesFileName)
		}
	}

	nfsData, err := os.ReadFile(filepath.Join(root, nfsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			if needsNFS {
				return errors.Errorf("volume set declares bindings but %s is missing", nfsFileName)
			}
			return nil
		}
		return errors.Wrapf(err, "reading %s", nfsFileName)
	}
	var nfs struct {
		Path string `yaml:"path"`
	}
	if err := yaml.Unmarshal(nfsData, &nfs); err != nil {
		return errors.Wrapf(err, "parsing %s", nfsFileName)
	}
	if nfs.Path == "" && needsNFS {
		return errors.Errorf("%s: empty network store path", nfsFileName)
	}
	snapshot.NFSBase = nfs.Path
	return nil
}
