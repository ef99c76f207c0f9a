package discovery

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/releasegate-sh/verifier/internal/model"
)

const (
	podTemplateHashLabel        = "pod-template-hash"
	controllerRevisionHashLabel = "controller-revision-hash"
	controllerUIDLabel          = "controller-uid"

	defaultJobBackoffLimit = 6
)

func (d *Discoverer) listDeployments(ctx context.Context) ([]*model.Workload, []string, error) {
	var list appsv1.DeploymentList
	if err := d.reader.List(ctx, &list, client.InNamespace(d.opts.Namespace)); err != nil {
		return nil, nil, fmt.Errorf("listing Deployments: %w", err)
	}
	var replicaSets appsv1.ReplicaSetList
	if err := d.reader.List(ctx, &replicaSets, client.InNamespace(d.opts.Namespace)); err != nil {
		return nil, nil, fmt.Errorf("listing ReplicaSets: %w", err)
	}

	var out []*model.Workload
	var skipped []string
	for i := range list.Items {
		dep := &list.Items[i]
		if d.skipMatched(dep.Name) {
			skipped = append(skipped, dep.Name)
			continue
		}
		w := adaptDeployment(dep)
		w.DesiredRevision = newestOwnedReplicaSetHash(replicaSets.Items, dep.UID)
		d.attachPods(ctx, w, podTemplateHashLabel)
		// With no live pods the template revision is trivially settled.
		if len(w.Pods) == 0 {
			w.ObservedRevision = w.DesiredRevision
		} else {
			w.ObservedRevision = uniformPodRevision(w.Pods)
		}
		out = append(out, w)
	}
	return out, skipped, nil
}

func (d *Discoverer) listStatefulSets(ctx context.Context) ([]*model.Workload, []string, error) {
	var list appsv1.StatefulSetList
	if err := d.reader.List(ctx, &list, client.InNamespace(d.opts.Namespace)); err != nil {
		return nil, nil, fmt.Errorf("listing StatefulSets: %w", err)
	}

	var out []*model.Workload
	var skipped []string
	for i := range list.Items {
		sts := &list.Items[i]
		if d.skipMatched(sts.Name) {
			skipped = append(skipped, sts.Name)
			continue
		}
		w := adaptStatefulSet(sts)
		d.attachPods(ctx, w, controllerRevisionHashLabel)
		out = append(out, w)
	}
	return out, skipped, nil
}

func (d *Discoverer) listDaemonSets(ctx context.Context) ([]*model.Workload, []string, error) {
	var list appsv1.DaemonSetList
	if err := d.reader.List(ctx, &list, client.InNamespace(d.opts.Namespace)); err != nil {
		return nil, nil, fmt.Errorf("listing DaemonSets: %w", err)
	}

	var out []*model.Workload
	var skipped []string
	for i := range list.Items {
		ds := &list.Items[i]
		if d.skipMatched(ds.Name) {
			skipped = append(skipped, ds.Name)
			continue
		}
		w := adaptDaemonSet(ds)
		d.attachPods(ctx, w, controllerRevisionHashLabel)
		if w.DesiredRevision == "" && len(w.Pods) > 0 {
			// DaemonSet templates rarely carry the revision label; fall back
			// to the uniform live-pod hash so consistency checks still run.
			w.DesiredRevision = uniformPodRevision(w.Pods)
		}
		w.ObservedRevision = uniformPodRevision(w.Pods)
		out = append(out, w)
	}
	return out, skipped, nil
}

func (d *Discoverer) listJobs(ctx context.Context) ([]*model.Workload, []string, error) {
	var list batchv1.JobList
	if err := d.reader.List(ctx, &list, client.InNamespace(d.opts.Namespace)); err != nil {
		return nil, nil, fmt.Errorf("listing Jobs: %w", err)
	}

	var out []*model.Workload
	var skipped []string
	for i := range list.Items {
		job := &list.Items[i]
		if d.skipMatched(job.Name) {
			skipped = append(skipped, job.Name)
			continue
		}
		w := adaptJob(job)
		d.attachPods(ctx, w, "")
		out = append(out, w)
	}
	return out, skipped, nil
}

func (d *Discoverer) listCronJobs(ctx context.Context) ([]*model.Workload, []string, error) {
	var list batchv1.CronJobList
	if err := d.reader.List(ctx, &list, client.InNamespace(d.opts.Namespace)); err != nil {
		return nil, nil, fmt.Errorf("listing CronJobs: %w", err)
	}
	var jobs batchv1.JobList
	if err := d.reader.List(ctx, &jobs, client.InNamespace(d.opts.Namespace)); err != nil {
		return nil, nil, fmt.Errorf("listing Jobs for CronJobs: %w", err)
	}

	var out []*model.Workload
	var skipped []string
	for i := range list.Items {
		cj := &list.Items[i]
		if d.skipMatched(cj.Name) {
			skipped = append(skipped, cj.Name)
			continue
		}
		w := adaptCronJob(cj)
		if run := newestOwnedJob(jobs.Items, cj.UID); run != nil {
			w.HasRun = true
			w.Succeeded = run.Status.Succeeded
			w.Failed = run.Status.Failed
			w.Active = run.Status.Active
			w.CompletionTarget = jobCompletionTarget(&run.Spec)
			w.BackoffLimit = jobBackoffLimit(&run.Spec)
			w.Selector = jobSelector(run)
			d.attachPods(ctx, w, "")
		}
		out = append(out, w)
	}
	return out, skipped, nil
}

func adaptDeployment(dep *appsv1.Deployment) *model.Workload {
	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	return &model.Workload{
		Kind:               model.KindDeployment,
		Name:               dep.Name,
		Namespace:          dep.Namespace,
		Generation:         dep.Generation,
		ObservedGeneration: dep.Status.ObservedGeneration,
		DesiredReplicas:    desired,
		ReadyReplicas:      dep.Status.ReadyReplicas,
		UpdatedReplicas:    dep.Status.UpdatedReplicas,
		AvailableReplicas:  dep.Status.AvailableReplicas,
		Selector:           selectorLabels(dep.Spec.Selector.MatchLabels),
		Containers:         templateContainers(&dep.Spec.Template.Spec),
	}
}

func adaptStatefulSet(sts *appsv1.StatefulSet) *model.Workload {
	desired := int32(1)
	if sts.Spec.Replicas != nil {
		desired = *sts.Spec.Replicas
	}
	var partition int32
	if ru := sts.Spec.UpdateStrategy.RollingUpdate; ru != nil && ru.Partition != nil {
		partition = *ru.Partition
	}
	return &model.Workload{
		Kind:               model.KindStatefulSet,
		Name:               sts.Name,
		Namespace:          sts.Namespace,
		Generation:         sts.Generation,
		ObservedGeneration: sts.Status.ObservedGeneration,
		DesiredReplicas:    desired,
		ReadyReplicas:      sts.Status.ReadyReplicas,
		UpdatedReplicas:    sts.Status.UpdatedReplicas,
		AvailableReplicas:  sts.Status.AvailableReplicas,
		DesiredRevision:    sts.Status.UpdateRevision,
		ObservedRevision:   sts.Status.CurrentRevision,
		Partition:          partition,
		Selector:           selectorLabels(sts.Spec.Selector.MatchLabels),
		Containers:         templateContainers(&sts.Spec.Template.Spec),
	}
}

func adaptDaemonSet(ds *appsv1.DaemonSet) *model.Workload {
	return &model.Workload{
		Kind:               model.KindDaemonSet,
		Name:               ds.Name,
		Namespace:          ds.Namespace,
		Generation:         ds.Generation,
		ObservedGeneration: ds.Status.ObservedGeneration,
		DesiredReplicas:    ds.Status.DesiredNumberScheduled,
		ReadyReplicas:      ds.Status.NumberReady,
		UpdatedReplicas:    ds.Status.UpdatedNumberScheduled,
		AvailableReplicas:  ds.Status.NumberAvailable,
		DesiredRevision:    ds.Spec.Template.Labels[controllerRevisionHashLabel],
		Selector:           selectorLabels(ds.Spec.Selector.MatchLabels),
		Containers:         templateContainers(&ds.Spec.Template.Spec),
	}
}

func adaptJob(job *batchv1.Job) *model.Workload {
	return &model.Workload{
		Kind:             model.KindJob,
		Name:             job.Name,
		Namespace:        job.Namespace,
		Succeeded:        job.Status.Succeeded,
		Failed:           job.Status.Failed,
		Active:           job.Status.Active,
		CompletionTarget: jobCompletionTarget(&job.Spec),
		BackoffLimit:     jobBackoffLimit(&job.Spec),
		Selector:         jobSelector(job),
		Containers:       templateContainers(&job.Spec.Template.Spec),
	}
}

func adaptCronJob(cj *batchv1.CronJob) *model.Workload {
	w := &model.Workload{
		Kind:       model.KindCronJob,
		Name:       cj.Name,
		Namespace:  cj.Namespace,
		Containers: templateContainers(&cj.Spec.JobTemplate.Spec.Template.Spec),
	}
	if cj.Spec.Suspend != nil {
		w.Suspended = *cj.Spec.Suspend
	}
	if cj.Status.LastScheduleTime != nil {
		t := cj.Status.LastScheduleTime.Time
		w.LastScheduleTime = &t
	}
	return w
}

func templateContainers(spec *corev1.PodSpec) []model.Container {
	containers := make([]model.Container, 0, len(spec.InitContainers)+len(spec.Containers))
	for _, c := range spec.InitContainers {
		containers = append(containers, model.Container{Name: c.Name, Image: c.Image, Init: true})
	}
	for _, c := range spec.Containers {
		containers = append(containers, model.Container{Name: c.Name, Image: c.Image})
	}
	return containers
}

func selectorLabels(matchLabels map[string]string) map[string]string {
	if len(matchLabels) == 0 {
		return nil
	}
	return matchLabels
}

// jobSelector prefers the Job's own selector; controller-managed Jobs may
// not expose matchLabels, in which case the controller-uid label is the
// reliable handle on their pods.
func jobSelector(job *batchv1.Job) map[string]string {
	if job.Spec.Selector != nil && len(job.Spec.Selector.MatchLabels) > 0 {
		return job.Spec.Selector.MatchLabels
	}
	if uid, ok := job.Labels[controllerUIDLabel]; ok {
		return map[string]string{controllerUIDLabel: uid}
	}
	return nil
}

func jobCompletionTarget(spec *batchv1.JobSpec) int32 {
	if spec.Completions != nil {
		return *spec.Completions
	}
	return 1
}

func jobBackoffLimit(spec *batchv1.JobSpec) int32 {
	if spec.BackoffLimit != nil {
		return *spec.BackoffLimit
	}
	return defaultJobBackoffLimit
}

// newestOwnedReplicaSetHash returns the pod-template-hash of the most
// recently created ReplicaSet owned by the given Deployment.
func newestOwnedReplicaSetHash(replicaSets []appsv1.ReplicaSet, owner types.UID) string {
	var newest *appsv1.ReplicaSet
	for i := range replicaSets {
		rs := &replicaSets[i]
		if !ownedBy(rs.OwnerReferences, owner) {
			continue
		}
		if newest == nil || rs.CreationTimestamp.After(newest.CreationTimestamp.Time) {
			newest = rs
		}
	}
	if newest == nil {
		return ""
	}
	return newest.Labels[podTemplateHashLabel]
}

func newestOwnedJob(jobs []batchv1.Job, owner types.UID) *batchv1.Job {
	var newest *batchv1.Job
	for i := range jobs {
		job := &jobs[i]
		if !ownedBy(job.OwnerReferences, owner) {
			continue
		}
		if newest == nil || job.CreationTimestamp.After(newest.CreationTimestamp.Time) {
			newest = job
		}
	}
	return newest
}

func ownedBy(refs []metav1.OwnerReference, owner types.UID) bool {
	for _, ref := range refs {
		if ref.UID == owner {
			return true
		}
	}
	return false
}

// uniformPodRevision returns the revision hash shared by every pod, or ""
// when pods disagree (a rollout in progress) or carry no hash.
func uniformPodRevision(pods []model.PodObservation) string {
	hashes := make(map[string]bool)
	for _, pod := range pods {
		hashes[pod.RevisionHash] = true
	}
	if len(hashes) != 1 {
		return ""
	}
	for hash := range hashes {
		return hash
	}
	return ""
}
