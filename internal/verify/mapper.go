// Package verify maps discovered containers onto manifest components and
// compares the observed image tags against the expected versions.
package verify

import (
	"context"
	"sort"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/releasegate-sh/verifier/internal/filter"
	"github.com/releasegate-sh/verifier/internal/imageref"
	"github.com/releasegate-sh/verifier/internal/model"
)

// Carrier is one container occurrence of a component, kept together with the
// workload that runs it.
type Carrier struct {
	Workload  *model.Workload
	Container *model.Container
}

// Index groups carriers by manifest component name. Only names present in
// the manifest are indexed; everything else in the namespace is ignored.
type Index map[string][]Carrier

// Mapper resolves container images against the configured anchor and builds
// the component index for one snapshot. It is safe to reuse across cycles.
type Mapper struct {
	anchor   string
	manifest map[string]string
	skip     filter.Patterns
	// image path name -> manifest key, reversed from the alias flag so lookup
	// happens on the resolved side.
	aliases map[string]string
}

// NewMapper validates the alias table up front: two manifest keys aliased to
// the same image name would make reverse translation ambiguous.
func NewMapper(anchor string, manifest map[string]string, aliases map[string]string, skip filter.Patterns) (*Mapper, error) {
	reversed := make(map[string]string, len(aliases))
	for key, imageName := range aliases {
		if prev, ok := reversed[imageName]; ok {
			keys := []string{prev, key}
			sort.Strings(keys)
			return nil, &AliasConflictError{ImageName: imageName, Keys: keys}
		}
		reversed[imageName] = key
	}
	return &Mapper{
		anchor:   anchor,
		manifest: manifest,
		skip:     skip,
		aliases:  reversed,
	}, nil
}

// Map resolves every container in the snapshot and indexes the carriers of
// manifest components. Resolution failures are recorded on the owning
// workload and never abort the cycle; an ambiguous component (one name fed
// by different image repositories) is fatal.
func (m *Mapper) Map(ctx context.Context, workloads []*model.Workload) (Index, error) {
	logger := log.FromContext(ctx)

	index := make(Index, len(m.manifest))
	// component -> repository set, for ambiguity detection.
	repos := make(map[string]map[string]bool)

	for _, w := range workloads {
		for i := range w.Containers {
			c := &w.Containers[i]

			if pattern, ok := m.skip.Match(c.Name, w.Name); ok {
				c.Skipped = true
				c.SkipPattern = pattern
			}

			ref, err := imageref.Parse(c.Image, m.anchor)
			if err != nil {
				if !c.Skipped {
					w.Errs = append(w.Errs, err.Error())
					logger.V(1).Info("image resolution failed",
						"workload", w.Key(), "container", c.Name, "error", err.Error())
				}
				continue
			}

			name := ref.Component
			if aliased, ok := m.aliases[name]; ok {
				name = aliased
			}
			c.Component = name
			c.Tag = ref.Tag

			if _, wanted := m.manifest[name]; !wanted {
				continue
			}

			index[name] = append(index[name], Carrier{Workload: w, Container: c})

			if c.Skipped {
				continue
			}
			repo := repository(ref)
			if repos[name] == nil {
				repos[name] = make(map[string]bool)
			}
			repos[name][repo] = true
		}
	}

	for name, set := range repos {
		if len(set) < 2 {
			continue
		}
		list := make([]string, 0, len(set))
		for repo := range set {
			list = append(list, repo)
		}
		sort.Strings(list)
		return nil, &AmbiguousComponentError{Component: name, Repositories: list}
	}

	return index, nil
}

// repository is the tag-independent image identity. Two tags of the same
// repository are a rollout; two repositories are an ambiguity.
func repository(ref imageref.Reference) string {
	parts := make([]string, 0, len(ref.Path)+1)
	if ref.Registry != "" {
		parts = append(parts, ref.Registry)
	}
	parts = append(parts, ref.Path...)
	return strings.Join(parts, "/")
}
