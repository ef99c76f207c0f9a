// Package discovery lists the supported workload kinds in a namespace and
// normalizes them into the uniform model.Workload shape, including live pod
// observations and rollout revision markers.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/releasegate-sh/verifier/internal/filter"
	"github.com/releasegate-sh/verifier/internal/model"
)

// ErrClusterUnreachable marks a connectivity-level failure: every enabled
// kind failed to list, so the cycle cannot produce a usable snapshot.
var ErrClusterUnreachable = errors.New("cluster unreachable")

const defaultPodPageLimit = 100

// Options selects which kinds are discovered. Deployments are always on.
type Options struct {
	Namespace           string
	IncludeStatefulSets bool
	IncludeDaemonSets   bool
	IncludeJobs         bool
	SkipWorkloads       filter.Patterns
	PodPageLimit        int64
}

// Discoverer produces one fresh cluster snapshot per call. It holds no
// state across cycles.
type Discoverer struct {
	reader client.Reader
	opts   Options
}

func New(reader client.Reader, opts Options) *Discoverer {
	if opts.PodPageLimit <= 0 {
		opts.PodPageLimit = defaultPodPageLimit
	}
	return &Discoverer{reader: reader, opts: opts}
}

type kindResult struct {
	workloads []*model.Workload
	skipped   []string
	err       error
}

// Discover lists every enabled kind concurrently and merges the results
// into a deterministic order (kind, then name). Per-kind listing failures
// are collected and do not abort the other kinds; when every enabled kind
// fails, the single returned error wraps ErrClusterUnreachable.
func (d *Discoverer) Discover(ctx context.Context) ([]*model.Workload, []string, []error) {
	logger := log.FromContext(ctx)

	type lister struct {
		kind model.WorkloadKind
		list func(context.Context) ([]*model.Workload, []string, error)
	}

	listers := []lister{
		{kind: model.KindDeployment, list: d.listDeployments},
	}
	if d.opts.IncludeStatefulSets {
		listers = append(listers, lister{kind: model.KindStatefulSet, list: d.listStatefulSets})
	}
	if d.opts.IncludeDaemonSets {
		listers = append(listers, lister{kind: model.KindDaemonSet, list: d.listDaemonSets})
	}
	if d.opts.IncludeJobs {
		listers = append(listers, lister{kind: model.KindJob, list: d.listJobs})
		listers = append(listers, lister{kind: model.KindCronJob, list: d.listCronJobs})
	}

	results := make([]kindResult, len(listers))
	var wg sync.WaitGroup
	for i, l := range listers {
		wg.Add(1)
		go func(i int, l lister) {
			defer wg.Done()
			workloads, skipped, err := l.list(ctx)
			results[i] = kindResult{workloads: workloads, skipped: skipped, err: err}
		}(i, l)
	}
	wg.Wait()

	var workloads []*model.Workload
	var skipped []string
	var errs []error
	failed := 0
	for i, res := range results {
		if res.err != nil {
			failed++
			errs = append(errs, res.err)
			logger.Error(res.err, "workload listing failed", "kind", listers[i].kind)
			continue
		}
		workloads = append(workloads, res.workloads...)
		skipped = append(skipped, res.skipped...)
	}

	if failed == len(listers) {
		return nil, nil, []error{fmt.Errorf("listing failed for every enabled kind: %w", ErrClusterUnreachable)}
	}

	sort.Slice(workloads, func(i, j int) bool {
		if workloads[i].Kind != workloads[j].Kind {
			return workloads[i].Kind < workloads[j].Kind
		}
		return workloads[i].Name < workloads[j].Name
	})
	sort.Strings(skipped)

	logger.V(1).Info("cluster snapshot complete",
		"namespace", d.opts.Namespace,
		"workloads", len(workloads),
		"skipped", len(skipped),
	)

	return workloads, skipped, errs
}

// skipMatched applies the skip patterns to a workload name.
func (d *Discoverer) skipMatched(name string) bool {
	_, ok := d.opts.SkipWorkloads.Match(name)
	return ok
}
