package webhooks

import (
	"context"
	"testing"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/taskqueue"
)

type fakeFanOutStore struct {
	outbox   *Outbox
	priority int
	fanout   int
}

func (f *fakeFanOutStore) CreateFanOut(ctx context.Context, outbox *Outbox, taskPriority int) ([]*Delivery, error) {
	f.outbox = outbox
	f.priority = taskPriority
	deliveries := make([]*Delivery, f.fanout)
	for i := range deliveries {
		deliveries[i] = &Delivery{ID: "del", OutboxID: outbox.ID, Status: DeliveryPending}
	}
	return deliveries, nil
}

func validEvent() Event {
	return Event{
		SubjectType: "product",
		SubjectID:   "prod_42",
		Topic:       "products.updated",
		Action:      ActionUpdate,
		Payload:     map[string]any{"price": 17.99},
		DirtyFields: map[string]any{"price": 19.99},
	}
}

func TestPublish(t *testing.T) {
	store := &fakeFanOutStore{fanout: 2}
	p := &Publisher{Store: store, Logger: logging.New("test"), Priority: 10}

	outbox, deliveries, err := p.Publish(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if outbox.ID == "" {
		t.Error("Publish() outbox ID empty, want UUID")
	}
	if len(deliveries) != 2 {
		t.Errorf("Publish() fanout = %d, want 2", len(deliveries))
	}
	if store.priority != 10 {
		t.Errorf("Publish() task priority = %d, want 10", store.priority)
	}
	if store.outbox.Topic != "products.updated" || store.outbox.Action != ActionUpdate {
		t.Errorf("Publish() stored outbox = %+v", store.outbox)
	}
	if store.outbox.CreatedAt.IsZero() {
		t.Error("Publish() outbox CreatedAt zero")
	}
}

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{name: "missing topic", mutate: func(ev *Event) { ev.Topic = "" }},
		{name: "missing subject type", mutate: func(ev *Event) { ev.SubjectType = "" }},
		{name: "missing subject id", mutate: func(ev *Event) { ev.SubjectID = "" }},
		{name: "unknown action", mutate: func(ev *Event) { ev.Action = "upsert" }},
		{name: "nil payload", mutate: func(ev *Event) { ev.Payload = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeFanOutStore{}
			p := &Publisher{Store: store, Logger: logging.New("test")}

			ev := validEvent()
			tt.mutate(&ev)

			_, _, err := p.Publish(context.Background(), ev)
			if !taskqueue.IsConfigError(err) {
				t.Errorf("Publish() error = %v, want ConfigError", err)
			}
			// config errors must fail before anything is written
			if store.outbox != nil {
				t.Error("Publish() wrote outbox despite validation failure")
			}
		})
	}
}

func TestValidateIntegration(t *testing.T) {
	tests := []struct {
		name    string
		integ   Integration
		wantErr bool
	}{
		{
			name:  "valid",
			integ: Integration{ID: "int_1", Secret: "whsec", EndpointURL: "https://example.com/hook"},
		},
		{
			name:    "missing secret",
			integ:   Integration{ID: "int_1", EndpointURL: "https://example.com/hook"},
			wantErr: true,
		},
		{
			name:    "malformed url",
			integ:   Integration{ID: "int_1", Secret: "whsec", EndpointURL: "not a url"},
			wantErr: true,
		},
		{
			name:    "url without host",
			integ:   Integration{ID: "int_1", Secret: "whsec", EndpointURL: "/relative/path"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIntegration(&tt.integ)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIntegration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !taskqueue.IsConfigError(err) {
				t.Errorf("ValidateIntegration() error = %v, want ConfigError", err)
			}
		})
	}
}
