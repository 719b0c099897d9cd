package webhooks

import (
	"context"
	"fmt"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/taskqueue"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// ReplayStore is the persistence surface replay needs.
type ReplayStore interface {
	Delivery(ctx context.Context, id string) (*Delivery, error)
	MarkPending(ctx context.Context, deliveryID string) error
}

// Replayer resets a delivery to pending and re-enqueues it through the
// task queue. It backs both operator-triggered replay and the automatic
// retry path.
type Replayer struct {
	Store    ReplayStore
	Queue    taskqueue.Enqueuer
	Logger   *logging.Logger
	Priority int
}

// Replay schedules a fresh send for the delivery. The historical attempt
// rows are untouched; the next send appends exactly one new attempt.
func (r *Replayer) Replay(ctx context.Context, deliveryID, reason string) (*taskqueue.Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "webhooks.replay",
		attribute.String("delivery_id", deliveryID),
	)
	defer span.End()

	delivery, err := r.Store.Delivery(ctx, deliveryID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}

	if err := r.Store.MarkPending(ctx, delivery.ID); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("reset delivery %s: %w", delivery.ID, err)
	}

	entry, err := r.Queue.Enqueue(ctx, taskqueue.NewEntry{
		IntegrationID:  delivery.IntegrationID,
		TaskName:       SendDeliveryKind,
		Kwargs:         SendKwargs{OutboxID: delivery.OutboxID, DeliveryID: delivery.ID},
		RemoteRequests: 1,
		Priority:       r.Priority,
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("enqueue replay: %w", err)
	}

	r.Logger.WithContext(ctx).
		WithDelivery(delivery.ID).
		WithIntegration(delivery.IntegrationID).
		WithTask(entry.ID).
		WithField("reason", reason).
		Info("delivery replay scheduled")

	return entry, nil
}
