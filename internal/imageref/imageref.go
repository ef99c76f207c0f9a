// Package imageref parses container image references and resolves them to
// logical component names relative to a repository anchor segment.
package imageref

import (
	"fmt"
	"strings"
)

// Docker Hub host aliases normalized to the canonical host.
var dockerHubHosts = map[string]bool{
	"docker.io":            true,
	"index.docker.io":      true,
	"registry-1.docker.io": true,
}

const dockerHubCanonical = "docker.io"

// Reference is a parsed container image reference. Tag is empty for
// digest-only references, which contribute no observed version.
type Reference struct {
	Registry  string
	Path      []string
	Component string
	Tag       string
}

// MalformedImageError reports an image reference with no parseable
// repository path.
type MalformedImageError struct {
	Image  string
	Reason string
}

func (e *MalformedImageError) Error() string {
	return fmt.Sprintf("malformed image reference %q: %s", e.Image, e.Reason)
}

// AnchorNotFoundError reports that the anchor token does not occur as a
// path segment in the image's repository path.
type AnchorNotFoundError struct {
	Image  string
	Anchor string
}

func (e *AnchorNotFoundError) Error() string {
	return fmt.Sprintf("anchor %q not found in image reference %q", e.Anchor, e.Image)
}

// Parse splits an image reference into registry, repository path and tag,
// then resolves the component name as every path segment strictly after the
// last occurrence of the anchor segment, joined with "/".
//
// The tag is taken from the final colon of the last path segment, so a
// registry host port is never mistaken for a tag. A digest suffix
// ("@sha256:...") is stripped first; a reference carrying only a digest
// yields an empty Tag. Untagged references default to "latest".
func Parse(image, anchor string) (Reference, error) {
	trimmed := strings.TrimSpace(image)
	if trimmed == "" {
		return Reference{}, &MalformedImageError{Image: image, Reason: "empty reference"}
	}

	working := trimmed
	hadDigest := false
	if at := strings.Index(working, "@"); at >= 0 {
		working = working[:at]
		hadDigest = true
	}
	if working == "" {
		return Reference{}, &MalformedImageError{Image: image, Reason: "no repository path before digest"}
	}

	segments := strings.Split(working, "/")

	tag := ""
	last := segments[len(segments)-1]
	if colon := strings.LastIndex(last, ":"); colon >= 0 {
		tag = last[colon+1:]
		segments[len(segments)-1] = last[:colon]
	} else if !hadDigest {
		tag = "latest"
	}
	if segments[len(segments)-1] == "" {
		return Reference{}, &MalformedImageError{Image: image, Reason: "empty repository path"}
	}

	registry := ""
	path := segments
	if len(segments) > 1 && isRegistryHost(segments[0]) {
		registry = segments[0]
		path = segments[1:]
	}

	registry, path = normalizeDockerHub(registry, path)

	component, err := resolveComponent(path, anchor)
	if err != nil {
		return Reference{}, &AnchorNotFoundError{Image: image, Anchor: anchor}
	}

	return Reference{
		Registry:  registry,
		Path:      path,
		Component: component,
		Tag:       tag,
	}, nil
}

// A first segment containing a dot or a port colon is a registry host,
// never a repository namespace.
func isRegistryHost(segment string) bool {
	return strings.Contains(segment, ".") || strings.Contains(segment, ":")
}

func normalizeDockerHub(registry string, path []string) (string, []string) {
	if dockerHubHosts[registry] {
		registry = dockerHubCanonical
	}
	// Docker Hub single-segment paths live in the implicit library/ namespace.
	if (registry == "" || registry == dockerHubCanonical) && len(path) == 1 {
		path = []string{"library", path[0]}
	}
	return registry, path
}

// resolveComponent joins every segment strictly after the last occurrence
// of the anchor. When the anchor is the final segment there is nothing
// after it; the anchor itself names the component.
func resolveComponent(path []string, anchor string) (string, error) {
	idx := -1
	for i, seg := range path {
		if seg == anchor {
			idx = i
		}
	}
	if idx == -1 {
		return "", fmt.Errorf("anchor %q not in path", anchor)
	}
	rest := path[idx+1:]
	if len(rest) == 0 {
		return anchor, nil
	}
	return strings.Join(rest, "/"), nil
}
