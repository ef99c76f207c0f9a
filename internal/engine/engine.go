// Package engine runs the convergence loop: it repeatedly snapshots the
// namespace, verifies the manifest against it and audits workload stability
// until the gate passes, times out or fails fatally.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/releasegate-sh/verifier/internal/discovery"
	"github.com/releasegate-sh/verifier/internal/filter"
	"github.com/releasegate-sh/verifier/internal/model"
	"github.com/releasegate-sh/verifier/internal/stability"
	"github.com/releasegate-sh/verifier/internal/verify"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultTimeout      = 5 * time.Minute
)

// Discoverer produces one namespace snapshot per call.
type Discoverer interface {
	Discover(ctx context.Context) ([]*model.Workload, []string, []error)
}

// Sink receives lifecycle events and per-workload observations. Publishing
// never influences the gate outcome.
type Sink interface {
	GateEvent(ctx context.Context, ev model.GateEvent)
	Observation(ctx context.Context, obs model.WorkloadObservation)
}

// Config is the immutable run configuration. Zero durations fall back to
// the defaults.
type Config struct {
	Namespace         string
	Manifest          map[string]string
	RequiredWorkloads []string
	PollInterval      time.Duration
	Timeout           time.Duration
	DryRun            bool

	RunID  string
	Source model.SourceMetadata
}

type Engine struct {
	cfg      Config
	disc     Discoverer
	mapper   *verify.Mapper
	auditor  *stability.Auditor
	required *filter.Required
	sink     Sink

	// snapshot of the workloads audited on the current tick, keyed by
	// Workload.Key, for observation publishing.
	audited map[string]*model.Workload
}

// New wires the loop. sink may be nil when no publishing is configured.
func New(cfg Config, disc Discoverer, mapper *verify.Mapper, auditor *stability.Auditor, sink Sink) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	registerMetrics()
	return &Engine{
		cfg:      cfg,
		disc:     disc,
		mapper:   mapper,
		auditor:  auditor,
		required: filter.NewRequired(cfg.RequiredWorkloads),
		sink:     sink,
	}
}

// Run drives ticks until the namespace converges, the wall-clock timeout
// fires, or a fatal error aborts the run. The returned result is always the
// last complete snapshot: a fatal tick keeps the previous tick's components
// and verdicts with the fatal error appended.
func (e *Engine) Run(ctx context.Context) model.VerificationResult {
	logger := log.FromContext(ctx)
	start := time.Now()

	e.emitGateEvent(ctx, model.NewGateEvent(
		model.GatePhaseStarted, e.cfg.RunID, e.cfg.Namespace, 0, 0, nil, e.cfg.Source))

	var last model.VerificationResult
	tick := 0
	for {
		tick++
		tickStart := time.Now()
		result, fatal := e.tick(ctx, tick)
		if fatal != nil {
			logger.Error(fatal, "verification aborted", "tick", tick)
			last.Status = model.StatusFail
			last.Errors = append(last.Errors, fatal.Error())
			last.Ticks = tick
			last.Elapsed = time.Since(start)
			return last
		}

		result.Ticks = tick
		result.Elapsed = time.Since(start)
		recordTick(&result, time.Since(tickStart))
		e.emit(ctx, tick, time.Since(start), &result)
		logger.Info("tick complete",
			"tick", tick,
			"converged", result.Converged(),
			"components", len(result.Components),
			"workloads", len(result.Workloads),
		)

		if result.Converged() {
			result.Status = model.StatusPass
			return result
		}
		last = result

		if e.cfg.DryRun {
			result.Status = model.StatusFail
			return result
		}
		if time.Since(start) >= e.cfg.Timeout {
			result.Status = model.StatusTimeout
			result.Errors = append(result.Errors,
				fmt.Sprintf("timed out after %s (%d ticks)", e.cfg.Timeout, tick))
			return result
		}

		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			result.Status = model.StatusFail
			result.Errors = append(result.Errors, fmt.Sprintf("aborted: %v", ctx.Err()))
			result.Elapsed = time.Since(start)
			return result
		}
	}
}

// tick runs one Discovery -> Mapper -> Verifier -> Auditor pass. The second
// return value is non-nil only for fatal conditions (connectivity loss,
// component ambiguity); everything else lands in the result's error list.
func (e *Engine) tick(ctx context.Context, tick int) (model.VerificationResult, error) {
	logger := log.FromContext(ctx).WithValues("tick", tick)
	ctx = log.IntoContext(ctx, logger)

	var result model.VerificationResult

	workloads, skipped, errs := e.disc.Discover(ctx)
	for _, err := range errs {
		if errors.Is(err, discovery.ErrClusterUnreachable) {
			return result, err
		}
		result.Errors = append(result.Errors, err.Error())
	}
	if len(skipped) > 0 {
		logger.V(1).Info("workloads skipped by pattern", "workloads", skipped)
	}

	index, err := e.mapper.Map(ctx, workloads)
	if err != nil {
		return result, err
	}
	result.Components = verify.Verify(e.cfg.Manifest, index)

	verdicts, audited := e.auditScope(index, workloads)
	result.Workloads = verdicts
	e.audited = audited
	for _, w := range workloads {
		result.Errors = append(result.Errors, w.Errs...)
	}
	return result, nil
}

// auditScope audits every workload that carries a manifest component through
// a non-skipped container, plus every required-workload match, and reports a
// missing verdict per required pattern with no match.
func (e *Engine) auditScope(index verify.Index, workloads []*model.Workload) ([]model.WorkloadVerdict, map[string]*model.Workload) {
	audit := make(map[string]*model.Workload)
	for _, carriers := range index {
		for _, c := range carriers {
			if c.Container.Skipped {
				continue
			}
			audit[c.Workload.Key()] = c.Workload
		}
	}

	names := make([]string, 0, len(workloads))
	for _, w := range workloads {
		names = append(names, w.Name)
		if e.required.Matches(w.Name) {
			audit[w.Key()] = w
		}
	}

	verdicts := make([]model.WorkloadVerdict, 0, len(audit))
	for _, w := range audit {
		verdicts = append(verdicts, e.auditor.Audit(w))
	}
	for _, pattern := range e.required.Missing(names) {
		verdicts = append(verdicts, model.WorkloadVerdict{
			Name:       pattern,
			Namespace:  e.cfg.Namespace,
			Verdict:    model.VerdictMissing,
			Violations: []string{fmt.Sprintf("no workload name matches required pattern %q", pattern)},
		})
	}

	sort.Slice(verdicts, func(i, j int) bool {
		if verdicts[i].Kind != verdicts[j].Kind {
			return verdicts[i].Kind < verdicts[j].Kind
		}
		return verdicts[i].Name < verdicts[j].Name
	})
	return verdicts, audit
}

func (e *Engine) emit(ctx context.Context, tick int, elapsed time.Duration, result *model.VerificationResult) {
	if e.sink == nil {
		return
	}
	e.sink.GateEvent(ctx, model.NewGateEvent(
		model.GatePhaseTick, e.cfg.RunID, e.cfg.Namespace, tick, elapsed, result, e.cfg.Source))
	for _, verdict := range result.Workloads {
		var desired, ready int32
		key := fmt.Sprintf("%s/%s/%s", verdict.Kind, verdict.Namespace, verdict.Name)
		if w, ok := e.audited[key]; ok {
			desired, ready = w.DesiredReplicas, w.ReadyReplicas
		}
		e.sink.Observation(ctx, model.NewWorkloadObservation(
			e.cfg.RunID, tick, verdict, desired, ready, e.cfg.Source))
	}
}

func (e *Engine) emitGateEvent(ctx context.Context, ev model.GateEvent) {
	if e.sink == nil {
		return
	}
	e.sink.GateEvent(ctx, ev)
}
