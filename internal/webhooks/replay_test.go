package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
)

type fakeReplayStore struct {
	delivery      *Delivery
	markedPending []string
}

func (f *fakeReplayStore) Delivery(ctx context.Context, id string) (*Delivery, error) {
	if f.delivery == nil || f.delivery.ID != id {
		return nil, errors.New("delivery not found")
	}
	return f.delivery, nil
}

func (f *fakeReplayStore) MarkPending(ctx context.Context, deliveryID string) error {
	f.markedPending = append(f.markedPending, deliveryID)
	return nil
}

func TestReplay(t *testing.T) {
	store := &fakeReplayStore{
		delivery: &Delivery{ID: "del_1", OutboxID: "out_1", IntegrationID: "int_1", Status: DeliveryFailed, Attempt: 4},
	}
	queue := &fakeEnqueuer{}
	r := &Replayer{Store: store, Queue: queue, Logger: logging.New("test"), Priority: 10}

	entry, err := r.Replay(context.Background(), "del_1", "operator requested")
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if entry.ID == 0 {
		t.Error("Replay() entry ID zero")
	}

	if len(store.markedPending) != 1 || store.markedPending[0] != "del_1" {
		t.Errorf("MarkPending calls = %v, want [del_1]", store.markedPending)
	}
	if len(queue.entries) != 1 {
		t.Fatalf("enqueued %d entries, want 1", len(queue.entries))
	}

	got := queue.entries[0]
	if got.TaskName != SendDeliveryKind {
		t.Errorf("Replay() entry task = %q, want %q", got.TaskName, SendDeliveryKind)
	}
	if got.IntegrationID != "int_1" {
		t.Errorf("Replay() entry integration = %q, want int_1", got.IntegrationID)
	}
	if got.Priority != 10 {
		t.Errorf("Replay() entry priority = %d, want 10", got.Priority)
	}
	kw, ok := got.Kwargs.(SendKwargs)
	if !ok {
		t.Fatalf("Replay() kwargs type = %T, want SendKwargs", got.Kwargs)
	}
	if kw.OutboxID != "out_1" || kw.DeliveryID != "del_1" {
		t.Errorf("Replay() kwargs = %+v", kw)
	}
	// kwargs must survive a JSON round trip into the queue table
	b, err := json.Marshal(kw)
	if err != nil {
		t.Fatalf("marshal kwargs: %v", err)
	}
	var decoded SendKwargs
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal kwargs: %v", err)
	}
	if decoded != kw {
		t.Errorf("kwargs round trip = %+v, want %+v", decoded, kw)
	}
}

func TestReplayUnknownDelivery(t *testing.T) {
	store := &fakeReplayStore{}
	queue := &fakeEnqueuer{}
	r := &Replayer{Store: store, Queue: queue, Logger: logging.New("test")}

	if _, err := r.Replay(context.Background(), "del_missing", ""); err == nil {
		t.Error("Replay() error = nil, want not found")
	}
	if len(store.markedPending) != 0 {
		t.Error("Replay() reset an unknown delivery")
	}
	if len(queue.entries) != 0 {
		t.Error("Replay() enqueued for an unknown delivery")
	}
}
