package hooks

import (
	"context"

	"github.com/releasegate-sh/verifier/internal/model"
)

type GateEventPublisher interface {
	PublishGateEvent(ctx context.Context, ev model.GateEvent) error
}

type ObservationPublisher interface {
	PublishObservations(ctx context.Context, batch []model.WorkloadObservation) error
}
