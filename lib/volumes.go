package lib

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	copydir "github.com/otiai10/copy"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Materializer turns the declared volume set into something the
// orchestrator can actually mount: managed volumes are created by name,
// binding directories are mirrored from the source tree into the network
// store, and stack definitions are rewritten to point at the mirror.
type Materializer struct {
	Runtime RuntimeClient
	NFSBase string
}

// Materialize ensures every declared volume and mirrors every declared
// binding. Binding copy failures are transient per-resource conditions:
// they are collected and returned, not fatal, and will be retried on the
// next pass. The returned map holds the rewrite targets for every binding
// id, including ones whose mirror failed (the target path is part of the
// definition either way, so the content hash stays stable).
func (m *Materializer) Materialize(ctx context.Context, treeRoot string, specs []VolumeSpec) (map[string]string, []error) {
	bindings := make(map[string]string)
	var transient []error

	for _, spec := range specs {
		switch VolumeKind(spec.Kind) {
		case VolumeKindVolume:
			if err := m.Runtime.EnsureVolume(ctx, spec.ID); err != nil {
				transient = append(transient, errors.Wrapf(err, "ensuring volume %q", spec.ID))
				continue
			}
			Log().Debugf("volume %q present", spec.ID)
		case VolumeKindBinding:
			target := filepath.Join(m.NFSBase, spec.ID)
			bindings[spec.ID] = target
			if err := mirrorBinding(filepath.Join(treeRoot, spec.Path), target); err != nil {
				transient = append(transient, errors.Wrapf(err, "mirroring binding %q", spec.ID))
				continue
			}
			Log().Debugf("binding %q mirrored to %s", spec.ID, target)
		}
	}
	return bindings, transient
}

// mirrorBinding deletes any existing content at the target before copying,
// so files removed in the source tree do not linger in the mirror.
func mirrorBinding(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return errors.Wrap(err, "binding source directory")
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return copydir.Copy(src, dst)
}

// RewriteMounts returns the definition with every service mount whose
// source token exactly equals a binding id replaced by the binding's
// network-store path. All other mount entries pass through untouched; the
// output is re-marshaled from an order-preserving document, so identical
// inputs produce identical bytes for hashing.
func RewriteMounts(definition []byte, bindings map[string]string) ([]byte, error) {
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(definition, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing stack definition")
	}

	for _, item := range doc {
		if key, ok := item.Key.(string); !ok || key != "services" {
			continue
		}
		services, ok := item.Value.(yaml.MapSlice)
		if !ok {
			continue
		}
		for _, service := range services {
			body, ok := service.Value.(yaml.MapSlice)
			if !ok {
				continue
			}
			for i, field := range body {
				if key, ok := field.Key.(string); !ok || key != "volumes" {
					continue
				}
				entries, ok := field.Value.([]interface{})
				if !ok {
					continue
				}
				for j, entry := range entries {
					entries[j] = rewriteMountEntry(entry, bindings)
				}
				body[i].Value = entries
			}
		}
	}

	return yaml.Marshal(doc)
}

func rewriteMountEntry(entry interface{}, bindings map[string]string) interface{} {
	switch v := entry.(type) {
	case string:
		// Short syntax "source:target[:mode]". A single-element entry has
		// no source token and is left alone.
		parts := strings.SplitN(v, ":", 2)
		if len(parts) != 2 {
			return v
		}
		if target, ok := bindings[parts[0]]; ok {
			return target + ":" + parts[1]
		}
		return v
	case yaml.MapSlice:
		// Long syntax with an explicit source key.
		for i, field := range v {
			key, ok := field.Key.(string)
			if !ok || key != "source" {
				continue
			}
			if source, ok := field.Value.(string); ok {
				if target, ok := bindings[source]; ok {
					v[i].Value = target
				}
			}
		}
		return v
	default:
		return entry
	}
}
