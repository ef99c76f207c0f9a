// Package filter implements the skip-container and required-workload
// pattern matching used during verification.
package filter

import "strings"

// Patterns is a list of substring patterns matched against container and
// workload names. A nil or empty list matches nothing.
type Patterns []string

// Match returns the first pattern contained in any of the given names.
func (p Patterns) Match(names ...string) (string, bool) {
	for _, pattern := range p {
		for _, name := range names {
			if pattern != "" && strings.Contains(name, pattern) {
				return pattern, true
			}
		}
	}
	return "", false
}

func (p Patterns) Empty() bool {
	return len(p) == 0
}

// Required tracks workload name patterns that must exist in the cluster.
// Matching is by substring, so "frontend" matches "my-app-frontend".
type Required struct {
	patterns []string
}

func NewRequired(patterns []string) *Required {
	return &Required{patterns: patterns}
}

func (r *Required) Patterns() []string {
	return r.patterns
}

// Missing returns the patterns with no substring match among the given
// workload names.
func (r *Required) Missing(names []string) []string {
	var missing []string
	for _, required := range r.patterns {
		found := false
		for _, name := range names {
			if strings.Contains(name, required) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, required)
		}
	}
	return missing
}

// Matches reports whether the workload name satisfies any required pattern.
func (r *Required) Matches(name string) bool {
	for _, required := range r.patterns {
		if strings.Contains(name, required) {
			return true
		}
	}
	return false
}
