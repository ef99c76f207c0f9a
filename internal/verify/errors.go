package verify

import (
	"fmt"
	"strings"
)

// AmbiguousComponentError reports that one component name is carried by
// containers from different image repositories. Distinct tags of a single
// repository are a rollout in progress, not ambiguity.
type AmbiguousComponentError struct {
	Component    string
	Repositories []string
}

func (e *AmbiguousComponentError) Error() string {
	return fmt.Sprintf("component %q resolves from multiple image repositories: %s",
		e.Component, strings.Join(e.Repositories, ", "))
}

// ManifestParseError reports malformed manifest input. It is fatal before
// any cluster access occurs.
type ManifestParseError struct {
	Err error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("parsing manifest: %v", e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// AliasConflictError reports two manifest keys aliased to the same image
// path component name.
type AliasConflictError struct {
	ImageName string
	Keys      []string
}

func (e *AliasConflictError) Error() string {
	return fmt.Sprintf("component aliases %s all map to image name %q",
		strings.Join(e.Keys, " and "), e.ImageName)
}
