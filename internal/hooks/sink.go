package hooks

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/releasegate-sh/verifier/internal/model"
)

const defaultQueueDepth = 256

// Sink decouples the verification loop from publishing: events go onto
// buffered channels consumed by the publisher queues, so a slow sink never
// delays a tick. When a buffer is full the event is dropped and logged.
type Sink struct {
	gateCh chan model.GateEvent
	obsCh  chan model.WorkloadObservation
}

func NewSink() *Sink {
	return &Sink{
		gateCh: make(chan model.GateEvent, defaultQueueDepth),
		obsCh:  make(chan model.WorkloadObservation, defaultQueueDepth),
	}
}

func (s *Sink) GateEvent(ctx context.Context, ev model.GateEvent) {
	select {
	case s.gateCh <- ev:
	default:
		log.FromContext(ctx).Info("gate event dropped, queue full",
			"phase", ev.Phase, "tick", ev.Tick)
	}
}

func (s *Sink) Observation(ctx context.Context, obs model.WorkloadObservation) {
	select {
	case s.obsCh <- obs:
	default:
		log.FromContext(ctx).Info("workload observation dropped, queue full",
			"workload", obs.Workload.Name, "tick", obs.Tick)
	}
}

// GateEvents is the consumer side for the gate event queue.
func (s *Sink) GateEvents() <-chan model.GateEvent { return s.gateCh }

// Observations is the consumer side for the observation queue.
func (s *Sink) Observations() <-chan model.WorkloadObservation { return s.obsCh }

// Close stops accepting events; the queues drain what is already buffered.
func (s *Sink) Close() {
	close(s.gateCh)
	close(s.obsCh)
}
