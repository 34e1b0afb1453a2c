package lib

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const dockerHubRegistry = "registry-1.docker.io"

// ImageRef is an image reference split for registry access.
type ImageRef struct {
	Registry   string
	Repository string
	Tag        string
}

// CanonicalRef normalizes an image reference for use as the unique key of
// the image ledger: an implicit tag is made explicit, everything else is
// kept as written. Digest-pinned references are already unambiguous.
func CanonicalRef(ref string) string {
	if strings.Contains(ref, "@") {
		return ref
	}
	slash := strings.LastIndex(ref, "/")
	if strings.LastIndex(ref, ":") > slash {
		return ref
	}
	return ref + ":latest"
}

// ParseImageRef splits a reference into registry, repository and tag the
// way the docker CLI does: the first path segment is a registry host only
// if it contains a dot or a port, or is "localhost"; otherwise the image
// lives on Docker Hub, where bare names get the "library/" prefix.
func ParseImageRef(ref string) ImageRef {
	parsed := ImageRef{
		Registry:   dockerHubRegistry,
		Repository: CanonicalRef(ref),
		Tag:        "latest",
	}

	if i := strings.LastIndex(parsed.Repository, ":"); i > strings.LastIndex(parsed.Repository, "/") {
		parsed.Tag = parsed.Repository[i+1:]
		parsed.Repository = parsed.Repository[:i]
	}

	if i := strings.Index(parsed.Repository, "/"); i >= 0 {
		first := parsed.Repository[:i]
		if strings.Contains(first, ".") || strings.Contains(first, ":") || first == "localhost" {
			parsed.Registry = first
			parsed.Repository = parsed.Repository[i+1:]
		}
	}

	if parsed.Registry == dockerHubRegistry && !strings.Contains(parsed.Repository, "/") {
		parsed.Repository = "library/" + parsed.Repository
	}

	return parsed
}

// ExtractImageRefs walks a stack definition and returns every value of an
// "image" key, in document order, duplicates included. The caller counts
// occurrences, so nothing is deduplicated here.
func ExtractImageRefs(definition []byte) ([]string, error) {
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(definition, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing stack definition")
	}
	var refs []string
	collectImageRefs(doc, &refs)
	return refs, nil
}

func collectImageRefs(node interface{}, refs *[]string) {
	switch v := node.(type) {
	case yaml.MapSlice:
		for _, item := range v {
			if key, ok := item.Key.(string); ok && key == "image" {
				if s, ok := item.Value.(string); ok && s != "" {
					*refs = append(*refs, s)
					continue
				}
			}
			collectImageRefs(item.Value, refs)
		}
	case []interface{}:
		for _, item := range v {
			collectImageRefs(item, refs)
		}
	}
}
