// Package stability classifies workloads as stable, converging, unstable or
// missing based on their rollout state and live pod health.
package stability

import (
	"fmt"
	"time"

	"github.com/releasegate-sh/verifier/internal/model"
)

// Waiting reasons that indicate a broken container rather than a slow one.
var fatalWaitingReasons = map[string]bool{
	"ImagePullBackOff": true,
	"ErrImagePull":     true,
	"CrashLoopBackOff": true,
}

// Policy holds the health thresholds applied to every audited workload.
type Policy struct {
	// RestartThreshold is the highest tolerated container restart count.
	RestartThreshold int32
	// MinUptime is the minimum pod age before it counts as settled. Zero
	// disables the check.
	MinUptime time.Duration
	// AllowZeroReplicas treats scaled-to-zero workloads as stable instead of
	// unstable.
	AllowZeroReplicas bool
}

// Auditor applies a Policy to workload snapshots. The clock is injectable
// for tests.
type Auditor struct {
	policy Policy
	now    func() time.Time
}

func NewAuditor(policy Policy) *Auditor {
	return &Auditor{policy: policy, now: time.Now}
}

// Audit classifies one workload. Threshold breaches dominate: a workload
// with any breach is unstable even while a rollout is also in flight;
// otherwise any rollout-pending condition makes it converging.
func (a *Auditor) Audit(w *model.Workload) model.WorkloadVerdict {
	verdict := model.WorkloadVerdict{
		Kind:      w.Kind,
		Name:      w.Name,
		Namespace: w.Namespace,
	}

	var breaches, pending []string
	switch w.Kind {
	case model.KindJob:
		breaches, pending = a.auditJob(w)
	case model.KindCronJob:
		var missing bool
		breaches, pending, missing = a.auditCronJob(w)
		if missing {
			verdict.Verdict = model.VerdictMissing
			verdict.Violations = []string{"schedule has fired but no run is retained"}
			return verdict
		}
	default:
		breaches, pending = a.auditReplicated(w)
	}

	switch {
	case len(breaches) > 0:
		verdict.Verdict = model.VerdictUnstable
		verdict.Violations = breaches
	case len(pending) > 0:
		verdict.Verdict = model.VerdictConverging
		verdict.Violations = pending
	default:
		verdict.Verdict = model.VerdictStable
	}
	return verdict
}

// auditReplicated covers Deployments, StatefulSets and DaemonSets.
func (a *Auditor) auditReplicated(w *model.Workload) (breaches, pending []string) {
	if w.DesiredReplicas == 0 {
		if a.policy.AllowZeroReplicas {
			return nil, nil
		}
		return []string{"desired replicas is zero"}, nil
	}

	if w.ObservedGeneration < w.Generation {
		pending = append(pending, fmt.Sprintf("generation %d not yet observed (at %d)",
			w.Generation, w.ObservedGeneration))
	}

	// A StatefulSet partition keeps desired-partition pods on the update
	// revision and the rest on the old one, so a revision split is expected.
	expectedUpdated := w.DesiredReplicas
	if w.Kind == model.KindStatefulSet {
		expectedUpdated = w.DesiredReplicas - w.Partition
	}
	if w.DesiredRevision != "" && w.ObservedRevision != "" &&
		w.DesiredRevision != w.ObservedRevision && w.Partition == 0 {
		pending = append(pending, fmt.Sprintf("revision %s still rolling out (observed %s)",
			w.DesiredRevision, w.ObservedRevision))
	}
	if w.UpdatedReplicas < expectedUpdated {
		pending = append(pending, fmt.Sprintf("%d/%d replicas updated",
			w.UpdatedReplicas, expectedUpdated))
	}
	if w.ReadyReplicas < w.DesiredReplicas {
		pending = append(pending, fmt.Sprintf("%d/%d replicas ready",
			w.ReadyReplicas, w.DesiredReplicas))
	}
	if w.AvailableReplicas < w.DesiredReplicas {
		pending = append(pending, fmt.Sprintf("%d/%d replicas available",
			w.AvailableReplicas, w.DesiredReplicas))
	}

	podBreaches, podPending := a.auditPods(w.Pods)
	return podBreaches, append(pending, podPending...)
}

func (a *Auditor) auditJob(w *model.Workload) (breaches, pending []string) {
	if w.Suspended {
		return nil, nil
	}
	if w.Failed > w.BackoffLimit {
		return []string{fmt.Sprintf("%d failed runs exceed backoff limit %d",
			w.Failed, w.BackoffLimit)}, nil
	}
	if w.Succeeded >= w.CompletionTarget {
		return nil, nil
	}

	podBreaches, podPending := a.auditPods(w.Pods)
	if len(podBreaches) > 0 {
		return podBreaches, nil
	}
	pending = append(pending, fmt.Sprintf("%d/%d completions", w.Succeeded, w.CompletionTarget))
	return nil, append(pending, podPending...)
}

// auditCronJob classifies via the newest owned run. A suspended or
// never-scheduled CronJob is vacuously stable; a schedule that has fired
// without any retained run is missing.
func (a *Auditor) auditCronJob(w *model.Workload) (breaches, pending []string, missing bool) {
	if w.Suspended {
		return nil, nil, false
	}
	if w.LastScheduleTime == nil {
		return nil, nil, false
	}
	if !w.HasRun {
		return nil, nil, true
	}
	breaches, pending = a.auditJob(w)
	return breaches, pending, false
}

func (a *Auditor) auditPods(pods []model.PodObservation) (breaches, pending []string) {
	now := a.now()
	for _, pod := range pods {
		if pod.Deleting {
			pending = append(pending, fmt.Sprintf("pod %s is terminating", pod.Name))
			continue
		}
		if pod.Phase == "Succeeded" {
			continue
		}
		if !pod.Ready && pod.Phase != "Pending" {
			pending = append(pending, fmt.Sprintf("pod %s is not ready", pod.Name))
		}
		if pod.Phase == "Pending" {
			pending = append(pending, fmt.Sprintf("pod %s is pending", pod.Name))
		}
		if a.policy.MinUptime > 0 && !pod.StartedAt.IsZero() {
			if age := now.Sub(pod.StartedAt); age < a.policy.MinUptime {
				breaches = append(breaches, fmt.Sprintf("pod %s uptime %s below minimum %s",
					pod.Name, age.Round(time.Second), a.policy.MinUptime))
			}
		}
		for _, c := range pod.Containers {
			if c.RestartCount > a.policy.RestartThreshold {
				breaches = append(breaches, fmt.Sprintf("container %s in pod %s restarted %d times (threshold %d)",
					c.Name, pod.Name, c.RestartCount, a.policy.RestartThreshold))
			}
			if c.State == "waiting" && fatalWaitingReasons[c.Reason] {
				breaches = append(breaches, fmt.Sprintf("container %s in pod %s is waiting: %s",
					c.Name, pod.Name, c.Reason))
			}
		}
	}
	return breaches, pending
}
