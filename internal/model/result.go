package model

import "time"

// Status is the terminal outcome of a verification run.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusTimeout Status = "timeout"
)

// ExitCode maps the run status to the process exit code CI callers rely on.
func (s Status) ExitCode() int {
	switch s {
	case StatusPass:
		return 0
	case StatusTimeout:
		return 2
	default:
		return 1
	}
}

type ComponentStatus string

const (
	ComponentMatch    ComponentStatus = "match"
	ComponentMismatch ComponentStatus = "mismatch"
	ComponentMissing  ComponentStatus = "missing"
	ComponentSkipped  ComponentStatus = "skipped"
)

type Verdict string

const (
	VerdictStable     Verdict = "stable"
	VerdictConverging Verdict = "converging"
	VerdictUnstable   Verdict = "unstable"
	VerdictMissing    Verdict = "missing"
)

// WorkloadRef identifies a workload in reports and published events.
type WorkloadRef struct {
	Kind      WorkloadKind `json:"kind"`
	Name      string       `json:"name"`
	Namespace string       `json:"namespace"`
}

// ComponentEntry is the per-manifest-key verification verdict.
type ComponentEntry struct {
	Name     string
	Expected string
	// Distinct tags seen across matching containers, sorted. Normally one;
	// more than one signals a rollout in progress.
	Observed []string
	Status   ComponentStatus
	// Workloads carrying this component.
	Workloads []WorkloadRef
}

// WorkloadVerdict is the stability classification of one audited workload.
type WorkloadVerdict struct {
	Kind       WorkloadKind
	Name       string
	Namespace  string
	Verdict    Verdict
	Violations []string
}

// VerificationResult is the complete snapshot produced by one polling cycle
// and fully replaced on the next. The final cycle's snapshot feeds the report.
type VerificationResult struct {
	Status     Status
	Components []ComponentEntry
	Workloads  []WorkloadVerdict
	Elapsed    time.Duration
	Ticks      int
	Errors     []string
}

// Converged reports whether this snapshot satisfies the pass condition:
// every component matches (or is skipped) and every audited workload is
// stable.
func (r *VerificationResult) Converged() bool {
	for _, c := range r.Components {
		if c.Status != ComponentMatch && c.Status != ComponentSkipped {
			return false
		}
	}
	for _, w := range r.Workloads {
		if w.Verdict != VerdictStable {
			return false
		}
	}
	return true
}
