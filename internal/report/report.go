// Package report renders the final verification result as the JSON document
// CI pipelines consume on stdout.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/releasegate-sh/verifier/internal/model"
)

// Report is the externally consumed run summary. Field names are part of
// the output contract.
type Report struct {
	Status         model.Status `json:"status"`
	Timestamp      string       `json:"timestamp"`
	RunID          string       `json:"runId"`
	Context        string       `json:"context,omitempty"`
	Namespace      string       `json:"namespace"`
	ElapsedSeconds float64      `json:"elapsedSeconds"`
	Ticks          int          `json:"ticks"`
	Summary        Summary      `json:"summary"`
	Components     []Component  `json:"components"`
	Workloads      []Workload   `json:"workloads"`
	Errors         []string     `json:"errors,omitempty"`
}

// Summary carries the counts a pipeline can alert on without walking the
// component and workload lists.
type Summary struct {
	Components          int `json:"components"`
	ComponentsMatching  int `json:"componentsMatching"`
	Workloads           int `json:"workloads"`
	WorkloadsStable     int `json:"workloadsStable"`
	WorkloadsConverging int `json:"workloadsConverging"`
	WorkloadsUnstable   int `json:"workloadsUnstable"`
	WorkloadsMissing    int `json:"workloadsMissing"`
}

type Component struct {
	Name     string                `json:"name"`
	Expected string                `json:"expected"`
	Observed []string              `json:"observed,omitempty"`
	Status   model.ComponentStatus `json:"status"`
	Carriers []model.WorkloadRef   `json:"carriers,omitempty"`
}

type Workload struct {
	Kind       model.WorkloadKind `json:"kind,omitempty"`
	Name       string             `json:"name"`
	Namespace  string             `json:"namespace"`
	Verdict    model.Verdict      `json:"verdict"`
	Violations []string           `json:"violations,omitempty"`
}

// Metadata identifies the run independently of its outcome.
type Metadata struct {
	RunID     string
	Context   string
	Namespace string
	At        time.Time
}

// Build assembles the report from the final tick's result.
func Build(meta Metadata, result *model.VerificationResult) Report {
	r := Report{
		Status:         result.Status,
		Timestamp:      meta.At.UTC().Format(time.RFC3339),
		RunID:          meta.RunID,
		Context:        meta.Context,
		Namespace:      meta.Namespace,
		ElapsedSeconds: result.Elapsed.Seconds(),
		Ticks:          result.Ticks,
		Components:     make([]Component, 0, len(result.Components)),
		Workloads:      make([]Workload, 0, len(result.Workloads)),
		Errors:         result.Errors,
	}

	r.Summary.Components = len(result.Components)
	for _, c := range result.Components {
		if c.Status == model.ComponentMatch || c.Status == model.ComponentSkipped {
			r.Summary.ComponentsMatching++
		}
		r.Components = append(r.Components, Component{
			Name:     c.Name,
			Expected: c.Expected,
			Observed: c.Observed,
			Status:   c.Status,
			Carriers: c.Workloads,
		})
	}

	r.Summary.Workloads = len(result.Workloads)
	for _, w := range result.Workloads {
		switch w.Verdict {
		case model.VerdictStable:
			r.Summary.WorkloadsStable++
		case model.VerdictConverging:
			r.Summary.WorkloadsConverging++
		case model.VerdictUnstable:
			r.Summary.WorkloadsUnstable++
		case model.VerdictMissing:
			r.Summary.WorkloadsMissing++
		}
		r.Workloads = append(r.Workloads, Workload{
			Kind:       w.Kind,
			Name:       w.Name,
			Namespace:  w.Namespace,
			Verdict:    w.Verdict,
			Violations: w.Violations,
		})
	}
	return r
}

// Write renders the report as indented JSON followed by a newline.
func (r Report) Write(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
