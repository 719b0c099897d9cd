package webhooks

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/metrics"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/taskqueue"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// SendDeliveryKind is the task-queue kind driving webhook sends.
const SendDeliveryKind taskqueue.Kind = "webhooks.send_delivery"

// SendKwargs is the JSON payload of a send task.
type SendKwargs struct {
	OutboxID   string `json:"outbox_id"`
	DeliveryID string `json:"delivery_id"`
}

// Event is the normalized business event handed to Publish by upstream
// producers. The core never inspects domain semantics beyond this shape.
type Event struct {
	SubjectType string
	SubjectID   string
	Topic       string
	Action      Action
	Payload     map[string]any
	DirtyFields map[string]any // old values of changed fields
}

// FanOutStore creates the outbox row, one pending delivery per active
// subscribed integration and one send task per delivery, all inside a
// single transaction. Partial fan-out must never be observable.
type FanOutStore interface {
	CreateFanOut(ctx context.Context, outbox *Outbox, taskPriority int) ([]*Delivery, error)
}

// Publisher is the outbox entry point: record that an event happened and
// schedule its deliveries.
type Publisher struct {
	Store    FanOutStore
	Logger   *logging.Logger
	Priority int // task-queue priority for the scheduled sends
}

// Publish validates the event, then creates exactly one outbox row and its
// delivery fan-out transactionally. Configuration errors surface
// synchronously; nothing is written in that case.
func (p *Publisher) Publish(ctx context.Context, ev Event) (*Outbox, []*Delivery, error) {
	ctx, span := tracing.StartSpan(ctx, "webhooks.publish",
		attribute.String("topic", ev.Topic),
		attribute.String("subject_type", ev.SubjectType),
		attribute.String("subject_id", ev.SubjectID),
	)
	defer span.End()

	if err := validateEvent(ev); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, nil, err
	}

	outbox := &Outbox{
		ID:          uuid.NewString(),
		SubjectType: ev.SubjectType,
		SubjectID:   ev.SubjectID,
		Topic:       ev.Topic,
		Action:      ev.Action,
		Payload:     ev.Payload,
		DirtyFields: ev.DirtyFields,
		CreatedAt:   time.Now().UTC(),
	}

	deliveries, err := p.Store.CreateFanOut(ctx, outbox, p.Priority)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, nil, err
	}

	metrics.RecordEventPublished(ev.Topic)
	span.SetAttributes(
		attribute.String("outbox_id", outbox.ID),
		attribute.Int("fanout_count", len(deliveries)),
	)
	p.Logger.WithContext(ctx).
		WithOutbox(outbox.ID).
		WithTopic(ev.Topic).
		WithField("fanout", len(deliveries)).
		Info("event published")

	return outbox, deliveries, nil
}

func validateEvent(ev Event) error {
	if ev.Topic == "" {
		return taskqueue.NewConfigError("topic is required")
	}
	if ev.SubjectType == "" || ev.SubjectID == "" {
		return taskqueue.NewConfigError("subject type and id are required")
	}
	switch ev.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return taskqueue.NewConfigError("unknown action %q", ev.Action)
	}
	if ev.Payload == nil {
		return taskqueue.NewConfigError("payload is required")
	}
	return nil
}

// ValidateIntegration applies the fail-fast checks on subscriber config
// before any delivery is scheduled against it.
func ValidateIntegration(integ *Integration) error {
	if integ.Secret == "" {
		return taskqueue.NewConfigError("integration %s has no secret", integ.ID)
	}
	u, err := url.ParseRequestURI(integ.EndpointURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return taskqueue.NewConfigError("integration %s endpoint url is malformed", integ.ID)
	}
	return nil
}
