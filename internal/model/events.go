package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type GatePhase string

const (
	GatePhaseStarted   GatePhase = "STARTED"
	GatePhaseTick      GatePhase = "TICK"
	GatePhaseCompleted GatePhase = "COMPLETED"
)

type SourceMetadata struct {
	ClusterID string `json:"clusterId"`
	Version   string `json:"version"`
}

// GateEvent is a lifecycle record of one verification run, published to the
// configured sinks. COMPLETED events carry the final report verbatim.
type GateEvent struct {
	EventID        string          `json:"eventId"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Source         SourceMetadata  `json:"source"`
	RunID          string          `json:"runId"`
	Namespace      string          `json:"namespace"`
	Phase          GatePhase       `json:"phase"`
	Tick           int             `json:"tick"`
	ElapsedSeconds float64         `json:"elapsedSeconds"`
	Status         Status          `json:"status,omitempty"`
	ComponentsOK   int             `json:"componentsOk"`
	Components     int             `json:"components"`
	WorkloadsOK    int             `json:"workloadsOk"`
	Workloads      int             `json:"workloads"`
	Report         json.RawMessage `json:"report,omitempty"`
}

// NewGateEvent stamps identity and counters onto a gate lifecycle event.
func NewGateEvent(phase GatePhase, runID, namespace string, tick int, elapsed time.Duration, result *VerificationResult, source SourceMetadata) GateEvent {
	ev := GateEvent{
		EventID:        uuid.New().String(),
		OccurredAt:     time.Now().UTC(),
		Source:         source,
		RunID:          runID,
		Namespace:      namespace,
		Phase:          phase,
		Tick:           tick,
		ElapsedSeconds: elapsed.Seconds(),
	}
	if result == nil {
		return ev
	}
	ev.Status = result.Status
	ev.Components = len(result.Components)
	ev.Workloads = len(result.Workloads)
	for _, c := range result.Components {
		if c.Status == ComponentMatch || c.Status == ComponentSkipped {
			ev.ComponentsOK++
		}
	}
	for _, w := range result.Workloads {
		if w.Verdict == VerdictStable {
			ev.WorkloadsOK++
		}
	}
	return ev
}

// WorkloadObservation is one workload's audited state for one tick,
// published in batches.
type WorkloadObservation struct {
	EventID         string         `json:"eventId"`
	OccurredAt      time.Time      `json:"occurredAt"`
	Source          SourceMetadata `json:"source"`
	RunID           string         `json:"runId"`
	Tick            int            `json:"tick"`
	Workload        WorkloadRef    `json:"workload"`
	Verdict         Verdict        `json:"verdict"`
	Violations      []string       `json:"violations,omitempty"`
	DesiredReplicas int32          `json:"desiredReplicas"`
	ReadyReplicas   int32          `json:"readyReplicas"`
}

func NewWorkloadObservation(runID string, tick int, verdict WorkloadVerdict, desired, ready int32, source SourceMetadata) WorkloadObservation {
	return WorkloadObservation{
		EventID:    uuid.New().String(),
		OccurredAt: time.Now().UTC(),
		Source:     source,
		RunID:      runID,
		Tick:       tick,
		Workload: WorkloadRef{
			Kind:      verdict.Kind,
			Name:      verdict.Name,
			Namespace: verdict.Namespace,
		},
		Verdict:         verdict.Verdict,
		Violations:      verdict.Violations,
		DesiredReplicas: desired,
		ReadyReplicas:   ready,
	}
}
