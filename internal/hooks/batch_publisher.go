package hooks

import (
	"context"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/releasegate-sh/verifier/internal/model"
)

// BatchConfig holds configuration for observation batching
type BatchConfig struct {
	FlushWindow  time.Duration // Time window for batching observations
	MaxBatchSize int           // Maximum observations per batch
}

// DefaultBatchConfig returns the default batching configuration
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		FlushWindow:  2 * time.Second,
		MaxBatchSize: 100,
	}
}

// ObservationQueue batches per-workload observations and delivers them to
// every registered publisher.
type ObservationQueue struct {
	eventChan  <-chan model.WorkloadObservation
	publishers []ObservationPublisher
	config     BatchConfig

	mu      sync.Mutex
	buffer  []model.WorkloadObservation
	timer   *time.Timer
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
}

func NewObservationQueue(
	eventChan <-chan model.WorkloadObservation,
	publishers []ObservationPublisher,
	config BatchConfig,
) *ObservationQueue {
	return &ObservationQueue{
		eventChan:  eventChan,
		publishers: publishers,
		config:     config,
		buffer:     make([]model.WorkloadObservation, 0, config.MaxBatchSize),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Loop starts the observation processing loop
func (q *ObservationQueue) Loop() {
	ctx := context.Background()
	logger := log.FromContext(ctx)
	defer close(q.doneCh)

	logger.Info("observation queue started",
		"publishers", len(q.publishers),
		"flushWindow", q.config.FlushWindow,
		"maxBatchSize", q.config.MaxBatchSize,
	)

	for {
		select {
		case obs, ok := <-q.eventChan:
			if !ok {
				// Channel closed, flush remaining observations
				q.flush(ctx)
				return
			}
			q.addObservation(ctx, obs)

		case <-q.stopCh:
			q.flush(ctx)
			return
		}
	}
}

// Stop stops the queue; Done reports when the final flush has completed.
func (q *ObservationQueue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.stopCh)
	}
	q.mu.Unlock()
}

func (q *ObservationQueue) Done() <-chan struct{} { return q.doneCh }

func (q *ObservationQueue) addObservation(ctx context.Context, obs model.WorkloadObservation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buffer = append(q.buffer, obs)

	// Start timer on first observation
	if len(q.buffer) == 1 {
		q.timer = time.AfterFunc(q.config.FlushWindow, func() {
			q.flush(ctx)
		})
	}

	// Flush immediately if batch is full
	if len(q.buffer) >= q.config.MaxBatchSize {
		q.flushLocked(ctx)
	}
}

func (q *ObservationQueue) flush(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked(ctx)
}

func (q *ObservationQueue) flushLocked(ctx context.Context) {
	if len(q.buffer) == 0 {
		return
	}

	// Stop timer if running
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}

	logger := log.FromContext(ctx)

	batch := make([]model.WorkloadObservation, len(q.buffer))
	copy(batch, q.buffer)
	q.buffer = q.buffer[:0]

	logger.Info("flushing observation batch",
		"observations", len(batch),
		"publishers", len(q.publishers),
	)

	for _, publisher := range q.publishers {
		if err := publisher.PublishObservations(ctx, batch); err != nil {
			logger.Error(err, "failed to publish observation batch")
		}
	}
}
