package hooks

import (
	"context"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/releasegate-sh/verifier/internal/model"
)

// GateEventQueue forwards gate lifecycle events to every registered
// publisher. Publish failures are logged and never surfaced to the loop.
type GateEventQueue struct {
	eventChan  <-chan model.GateEvent
	publishers []GateEventPublisher

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
}

func NewGateEventQueue(eventChan <-chan model.GateEvent, publishers []GateEventPublisher) *GateEventQueue {
	return &GateEventQueue{
		eventChan:  eventChan,
		publishers: publishers,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Loop consumes events until the channel closes or Stop is called. On
// channel close the remaining buffered events are still delivered.
func (q *GateEventQueue) Loop() {
	ctx := context.Background()
	logger := log.FromContext(ctx)
	defer close(q.doneCh)

	logger.Info("gate event queue started", "publishers", len(q.publishers))

	for {
		select {
		case ev, ok := <-q.eventChan:
			if !ok {
				return
			}
			q.dispatch(ctx, ev)

		case <-q.stopCh:
			// drain whatever is already buffered
			for {
				select {
				case ev, ok := <-q.eventChan:
					if !ok {
						return
					}
					q.dispatch(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (q *GateEventQueue) dispatch(ctx context.Context, ev model.GateEvent) {
	logger := log.FromContext(ctx)
	for _, publisher := range q.publishers {
		if err := publisher.PublishGateEvent(ctx, ev); err != nil {
			logger.Error(err, "failed to publish gate event",
				"phase", ev.Phase, "tick", ev.Tick, "eventID", ev.EventID)
		}
	}
}

// Stop asks the loop to finish; Done reports when it has.
func (q *GateEventQueue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.stopCh)
	}
	q.mu.Unlock()
}

func (q *GateEventQueue) Done() <-chan struct{} { return q.doneCh }
