package discovery

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/releasegate-sh/verifier/internal/model"
)

// attachPods lists the workload's live pods via its label selector and
// records them as observations. A pod listing failure is recoverable: it is
// recorded on the workload and the snapshot continues without observations.
func (d *Discoverer) attachPods(ctx context.Context, w *model.Workload, revisionLabel string) {
	if len(w.Selector) == 0 {
		w.Errs = append(w.Errs, fmt.Sprintf("%s %s has no pod selector", w.Kind, w.Name))
		return
	}

	pods, err := d.listPods(ctx, w.Selector)
	if err != nil {
		w.Errs = append(w.Errs, fmt.Sprintf("listing pods for %s %s: %v", w.Kind, w.Name, err))
		return
	}

	w.Pods = make([]model.PodObservation, 0, len(pods))
	for i := range pods {
		w.Pods = append(w.Pods, adaptPod(&pods[i], revisionLabel))
	}
}

// listPods pages through the pod list so large namespaces never force one
// oversized response.
func (d *Discoverer) listPods(ctx context.Context, selector map[string]string) ([]corev1.Pod, error) {
	var pods []corev1.Pod
	continueToken := ""
	for {
		var list corev1.PodList
		opts := []client.ListOption{
			client.InNamespace(d.opts.Namespace),
			client.MatchingLabels(selector),
			client.Limit(d.opts.PodPageLimit),
		}
		if continueToken != "" {
			opts = append(opts, client.Continue(continueToken))
		}
		if err := d.reader.List(ctx, &list, opts...); err != nil {
			return nil, err
		}
		pods = append(pods, list.Items...)
		continueToken = list.Continue
		if continueToken == "" {
			return pods, nil
		}
	}
}

func adaptPod(pod *corev1.Pod, revisionLabel string) model.PodObservation {
	obs := model.PodObservation{
		Name:     pod.Name,
		Phase:    string(pod.Status.Phase),
		Ready:    isPodReady(pod),
		Deleting: pod.DeletionTimestamp != nil,
	}
	if pod.Status.StartTime != nil {
		obs.StartedAt = pod.Status.StartTime.Time
	}
	if revisionLabel != "" {
		obs.RevisionHash = pod.Labels[revisionLabel]
	}

	obs.Containers = make([]model.ContainerObservation, 0, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		co := model.ContainerObservation{
			Name:         cs.Name,
			RestartCount: cs.RestartCount,
			Ready:        cs.Ready,
		}
		switch {
		case cs.State.Running != nil:
			co.State = "running"
		case cs.State.Waiting != nil:
			co.State = "waiting"
			co.Reason = cs.State.Waiting.Reason
		case cs.State.Terminated != nil:
			co.State = "terminated"
			co.Reason = cs.State.Terminated.Reason
		}
		obs.Containers = append(obs.Containers, co)
	}
	return obs
}

func isPodReady(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}
