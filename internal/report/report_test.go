package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/releasegate-sh/verifier/internal/model"
)

func sampleResult() *model.VerificationResult {
	return &model.VerificationResult{
		Status: model.StatusFail,
		Components: []model.ComponentEntry{
			{Name: "api", Expected: "2.0.0", Observed: []string{"1.9.0"}, Status: model.ComponentMismatch},
			{Name: "worker", Expected: "1.0.0", Observed: []string{"1.0.0"}, Status: model.ComponentMatch,
				Workloads: []model.WorkloadRef{{Kind: model.KindDeployment, Name: "worker", Namespace: "prod"}}},
		},
		Workloads: []model.WorkloadVerdict{
			{Kind: model.KindDeployment, Name: "api", Namespace: "prod", Verdict: model.VerdictConverging,
				Violations: []string{"1/2 replicas ready"}},
			{Kind: model.KindDeployment, Name: "worker", Namespace: "prod", Verdict: model.VerdictStable},
		},
		Elapsed: 42 * time.Second,
		Ticks:   5,
		Errors:  []string{"listing DaemonSets: forbidden"},
	}
}

func TestBuild(t *testing.T) {
	meta := Metadata{
		RunID:     "run-1",
		Context:   "gke_acme_europe-west1_prod",
		Namespace: "prod",
		At:        time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	r := Build(meta, sampleResult())

	if r.Status != model.StatusFail {
		t.Errorf("status = %q, want fail", r.Status)
	}
	if r.Timestamp != "2026-03-14T12:00:00Z" {
		t.Errorf("timestamp = %q", r.Timestamp)
	}
	if r.ElapsedSeconds != 42 {
		t.Errorf("elapsedSeconds = %v, want 42", r.ElapsedSeconds)
	}
	if r.Summary.Components != 2 || r.Summary.ComponentsMatching != 1 {
		t.Errorf("component summary = %+v", r.Summary)
	}
	if r.Summary.WorkloadsStable != 1 || r.Summary.WorkloadsConverging != 1 {
		t.Errorf("workload summary = %+v", r.Summary)
	}
}

func TestWrite_JSONShape(t *testing.T) {
	meta := Metadata{RunID: "run-1", Namespace: "prod", At: time.Now()}
	r := Build(meta, sampleResult())

	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("report must end with a newline")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	for _, key := range []string{"status", "timestamp", "runId", "namespace",
		"elapsedSeconds", "ticks", "summary", "components", "workloads"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("report is missing key %q", key)
		}
	}
	components := decoded["components"].([]interface{})
	first := components[0].(map[string]interface{})
	for _, key := range []string{"name", "expected", "observed", "status"} {
		if _, ok := first[key]; !ok {
			t.Errorf("component entry is missing key %q", key)
		}
	}
}

func TestStatusExitCodeConsistency(t *testing.T) {
	tests := []struct {
		status model.Status
		code   int
	}{
		{model.StatusPass, 0},
		{model.StatusFail, 1},
		{model.StatusTimeout, 2},
	}
	for _, tt := range tests {
		result := sampleResult()
		result.Status = tt.status
		r := Build(Metadata{At: time.Now()}, result)
		if got := r.Status.ExitCode(); got != tt.code {
			t.Errorf("%s exit code = %d, want %d", tt.status, got, tt.code)
		}
	}
}
