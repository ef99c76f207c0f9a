package verify

import (
	"sort"

	"github.com/releasegate-sh/verifier/internal/model"
)

// Verify compares the indexed carriers against the manifest and produces one
// entry per manifest key, in key order.
//
// A key with no carriers is missing. A key whose carriers are all skipped is
// skipped. Otherwise the distinct observed tags decide: exactly the expected
// tag is a match, anything else (including an empty observation from
// digest-only images) is not.
func Verify(manifest map[string]string, index Index) []model.ComponentEntry {
	keys := make([]string, 0, len(manifest))
	for key := range manifest {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]model.ComponentEntry, 0, len(keys))
	for _, key := range keys {
		entry := model.ComponentEntry{
			Name:     key,
			Expected: manifest[key],
		}

		carriers := index[key]
		if len(carriers) == 0 {
			entry.Status = model.ComponentMissing
			entries = append(entries, entry)
			continue
		}

		entry.Workloads = carrierRefs(carriers)

		active := make([]Carrier, 0, len(carriers))
		for _, c := range carriers {
			if !c.Container.Skipped {
				active = append(active, c)
			}
		}
		if len(active) == 0 {
			entry.Status = model.ComponentSkipped
			entries = append(entries, entry)
			continue
		}

		entry.Observed = observedTags(active)
		if len(entry.Observed) == 0 {
			// Every active carrier is digest-pinned; there is no tag to
			// compare, so the expected version cannot be confirmed.
			entry.Status = model.ComponentMissing
		} else if len(entry.Observed) == 1 && entry.Observed[0] == entry.Expected {
			entry.Status = model.ComponentMatch
		} else {
			entry.Status = model.ComponentMismatch
		}
		entries = append(entries, entry)
	}
	return entries
}

func observedTags(carriers []Carrier) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, c := range carriers {
		tag := c.Container.Tag
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func carrierRefs(carriers []Carrier) []model.WorkloadRef {
	seen := make(map[string]bool)
	var refs []model.WorkloadRef
	for _, c := range carriers {
		key := c.Workload.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, model.WorkloadRef{
			Kind:      c.Workload.Kind,
			Name:      c.Workload.Name,
			Namespace: c.Workload.Namespace,
		})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].Name < refs[j].Name
	})
	return refs
}
