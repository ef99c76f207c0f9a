package model

import (
	"fmt"
	"time"
)

type WorkloadKind string

const (
	KindDeployment  WorkloadKind = "Deployment"
	KindStatefulSet WorkloadKind = "StatefulSet"
	KindDaemonSet   WorkloadKind = "DaemonSet"
	KindJob         WorkloadKind = "Job"
	KindCronJob     WorkloadKind = "CronJob"
)

// Workload is the uniform shape every supported kind is normalized into.
// Which fields are meaningful depends on Kind: replica counters apply to
// Deployments/StatefulSets/DaemonSets, completion counters to Jobs and
// CronJobs (via their newest run).
type Workload struct {
	Kind      WorkloadKind
	Name      string
	Namespace string

	Generation         int64
	ObservedGeneration int64

	DesiredReplicas   int32
	ReadyReplicas     int32
	UpdatedReplicas   int32
	AvailableReplicas int32

	// Rollout generation markers; equal when the rollout has settled.
	DesiredRevision  string
	ObservedRevision string
	// StatefulSet rolling-update partition; pods below the partition ordinal
	// are not expected on the update revision.
	Partition int32

	// Job / CronJob completion state. For a CronJob these reflect its newest
	// owned Job; HasRun is false when no run is retained.
	Succeeded        int32
	Failed           int32
	Active           int32
	CompletionTarget int32
	BackoffLimit     int32
	Suspended        bool
	LastScheduleTime *time.Time
	HasRun           bool

	Selector   map[string]string
	Containers []Container
	Pods       []PodObservation

	// Recoverable errors hit while inspecting this workload (pod listing,
	// image resolution). They never abort the cycle.
	Errs []string
}

// Key is the identity used to correlate a workload across polling cycles.
func (w *Workload) Key() string {
	return fmt.Sprintf("%s/%s/%s", w.Kind, w.Namespace, w.Name)
}

// HasReplicas reports whether replica semantics apply to this kind.
func (k WorkloadKind) HasReplicas() bool {
	switch k {
	case KindDeployment, KindStatefulSet, KindDaemonSet:
		return true
	default:
		return false
	}
}

// Container is one container from a workload's pod template. Component and
// Tag are empty until the image reference has been resolved.
type Container struct {
	Name        string
	Image       string
	Init        bool
	Component   string
	Tag         string
	Skipped     bool
	SkipPattern string
}

// PodObservation is a live pod snapshot owned by exactly one Workload for
// the cycle that produced it.
type PodObservation struct {
	Name      string
	Phase     string
	Ready     bool
	Deleting  bool
	StartedAt time.Time
	// pod-template-hash or controller-revision-hash label, depending on the
	// owning kind.
	RevisionHash string
	Containers   []ContainerObservation
}

type ContainerObservation struct {
	Name         string
	RestartCount int32
	Ready        bool
	State        string
	Reason       string
}
