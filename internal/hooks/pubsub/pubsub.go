// Package pubsub publishes gate events and observation batches to Google
// Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/releasegate-sh/verifier/internal/model"
)

// Publisher sends verification outcomes to Google Cloud Pub/Sub
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicPath string
	clusterID string
}

// ParseTopicPath parses a full Pub/Sub topic path and returns projectID and topicID.
// Expected format: projects/<project>/topics/<topic>
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

// NewPublisher creates a new Google Cloud Pub/Sub publisher
//
// Authentication is handled via Application Default Credentials (ADC):
//   - Workload Identity (GKE): Auto-detected from metadata server (recommended)
//   - Service Account JSON key: Set GOOGLE_APPLICATION_CREDENTIALS env var
//   - Default credentials: gcloud auth application-default login
func NewPublisher(ctx context.Context, topicPath, clusterID string) (*Publisher, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	// Enable message ordering so the events of one verification run are
	// delivered in the order they were published. The subscription must also
	// have message ordering enabled.
	publisher := client.Publisher(topicID)
	publisher.EnableMessageOrdering = true

	return &Publisher{
		client:    client,
		publisher: publisher,
		topicPath: topicPath,
		clusterID: clusterID,
	}, nil
}

// PublishGateEvent sends one gate lifecycle event
func (p *Publisher) PublishGateEvent(ctx context.Context, ev model.GateEvent) error {
	attributes := map[string]string{
		"cluster_id": p.clusterID,
		"namespace":  ev.Namespace,
		"run_id":     ev.RunID,
		"phase":      string(ev.Phase),
		"event_type": "gate",
	}
	return p.publish(ctx, ev, ev.RunID, ev.EventID, attributes)
}

// PublishObservations sends one batch of workload observations
func (p *Publisher) PublishObservations(ctx context.Context, batch []model.WorkloadObservation) error {
	if len(batch) == 0 {
		return nil
	}
	attributes := map[string]string{
		"cluster_id": p.clusterID,
		"run_id":     batch[0].RunID,
		"event_type": "observations",
	}
	return p.publish(ctx, batch, batch[0].RunID, batch[0].EventID, attributes)
}

func (p *Publisher) publish(ctx context.Context, payload interface{}, runID, eventID string, attributes map[string]string) error {
	logger := log.FromContext(ctx)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Ordering key keeps one run's events in publish order.
	// Format: cluster/run_id
	orderingKey := fmt.Sprintf("%s/%s", p.clusterID, runID)

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attributes,
		OrderingKey: orderingKey,
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		logger.Error(err, "failed to publish event to pubsub",
			"topic", p.topicPath,
			"eventID", eventID,
		)
		return fmt.Errorf("failed to publish event to pubsub: %w", err)
	}

	logger.V(1).Info("event published to pubsub",
		"topic", p.topicPath,
		"eventID", eventID,
		"messageID", msgID,
		"orderingKey", orderingKey,
	)
	return nil
}

// Stop stops the publisher and closes the client
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		_ = p.client.Close()
	}
}
