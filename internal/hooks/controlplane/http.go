// Package controlplane publishes gate events and workload observations to a
// release control plane over HTTP.
package controlplane

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/releasegate-sh/verifier/internal/model"
)

// HTTPPublisher sends verification outcomes to the control plane via HTTP
type HTTPPublisher struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPPublisher creates a new HTTP publisher for the control plane
func NewHTTPPublisher(baseURL string) *HTTPPublisher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &HTTPPublisher{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// PublishGateEvent sends one gate lifecycle event to the control plane
func (p *HTTPPublisher) PublishGateEvent(ctx context.Context, ev model.GateEvent) error {
	return p.post(ctx, p.baseURL+"/gate-events", ev, ev.EventID)
}

// PublishObservations sends one batch of workload observations
func (p *HTTPPublisher) PublishObservations(ctx context.Context, batch []model.WorkloadObservation) error {
	if len(batch) == 0 {
		return nil
	}
	return p.post(ctx, p.baseURL+"/observations", batch, batch[0].EventID)
}

func (p *HTTPPublisher) post(ctx context.Context, url string, body interface{}, eventID string) error {
	logger := log.FromContext(ctx)

	var errorResponse map[string]interface{}
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetError(&errorResponse).
		Post(url)

	if err != nil {
		logger.Error(err, "failed to send event to control plane",
			"url", url,
			"eventID", eventID,
		)
		return fmt.Errorf("failed to send event to control plane: %w", err)
	}

	if !resp.IsSuccess() {
		logger.Error(nil, "control plane returned error",
			"statusCode", resp.StatusCode(),
			"status", resp.Status(),
			"error", errorResponse,
			"url", url,
			"eventID", eventID,
		)
		return fmt.Errorf("control plane returned error status %d: %s", resp.StatusCode(), resp.String())
	}

	logger.V(1).Info("event published to control plane",
		"url", url,
		"eventID", eventID,
		"statusCode", resp.StatusCode(),
	)
	return nil
}
