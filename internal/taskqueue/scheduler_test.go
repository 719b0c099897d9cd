package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
)

func entryWithCost(id int64, integrationID string, cost int) *Entry {
	return &Entry{ID: id, IntegrationID: integrationID, TaskName: "t", RemoteRequests: cost}
}

func TestSelectWithinBudget(t *testing.T) {
	tests := []struct {
		name          string
		entries       []*Entry
		usage         map[string]int
		budgets       map[string]int
		defaultBudget int
		wantSelected  []int64
		wantDeferred  []string
	}{
		{
			name: "all fit",
			entries: []*Entry{
				entryWithCost(1, "int_a", 1),
				entryWithCost(2, "int_a", 1),
			},
			budgets:       map[string]int{"int_a": 10},
			defaultBudget: 60,
			wantSelected:  []int64{1, 2},
		},
		{
			name: "budget exhausted mid-batch",
			entries: []*Entry{
				entryWithCost(1, "int_a", 2),
				entryWithCost(2, "int_a", 2),
				entryWithCost(3, "int_a", 2),
			},
			budgets:       map[string]int{"int_a": 4},
			defaultBudget: 60,
			wantSelected:  []int64{1, 2},
			wantDeferred:  []string{"int_a"},
		},
		{
			name: "prior window usage counts against budget",
			entries: []*Entry{
				entryWithCost(1, "int_a", 1),
			},
			usage:         map[string]int{"int_a": 10},
			budgets:       map[string]int{"int_a": 10},
			defaultBudget: 60,
			wantDeferred:  []string{"int_a"},
		},
		{
			name: "default budget applies when integration unknown",
			entries: []*Entry{
				entryWithCost(1, "int_b", 1),
				entryWithCost(2, "int_b", 1),
			},
			defaultBudget: 1,
			wantSelected:  []int64{1},
			wantDeferred:  []string{"int_b"},
		},
		{
			name: "one integration over budget does not block another",
			entries: []*Entry{
				entryWithCost(1, "int_a", 5),
				entryWithCost(2, "int_b", 1),
				entryWithCost(3, "int_a", 5),
			},
			budgets:       map[string]int{"int_a": 5, "int_b": 5},
			defaultBudget: 60,
			wantSelected:  []int64{1, 2},
			wantDeferred:  []string{"int_a"},
		},
		{
			name: "zero cost entries always fit",
			entries: []*Entry{
				entryWithCost(1, "int_a", 0),
			},
			budgets:       map[string]int{"int_a": 0},
			defaultBudget: 60,
			wantSelected:  []int64{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, deferred := SelectWithinBudget(tt.entries, tt.usage, tt.budgets, tt.defaultBudget)

			var gotIDs []int64
			for _, e := range selected {
				gotIDs = append(gotIDs, e.ID)
			}
			if len(gotIDs) != len(tt.wantSelected) {
				t.Fatalf("selected ids = %v, want %v", gotIDs, tt.wantSelected)
			}
			for i := range gotIDs {
				if gotIDs[i] != tt.wantSelected[i] {
					t.Errorf("selected[%d] = %d, want %d", i, gotIDs[i], tt.wantSelected[i])
				}
			}
			if len(deferred) != len(tt.wantDeferred) {
				t.Fatalf("deferred = %v, want %v", deferred, tt.wantDeferred)
			}
			for i := range deferred {
				if deferred[i] != tt.wantDeferred[i] {
					t.Errorf("deferred[%d] = %q, want %q", i, deferred[i], tt.wantDeferred[i])
				}
			}
		})
	}
}

func TestSelectWithinBudgetDoesNotMutateUsage(t *testing.T) {
	usage := map[string]int{"int_a": 3}
	entries := []*Entry{entryWithCost(1, "int_a", 1)}

	SelectWithinBudget(entries, usage, nil, 60)

	if usage["int_a"] != 3 {
		t.Errorf("usage mutated: got %d, want 3", usage["int_a"])
	}
}

type fakeProducer struct {
	published [][]byte
	topics    []string
	err       error
}

func (f *fakeProducer) Publish(topic string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.published = append(f.published, body)
	return nil
}

type staticBudgets map[string]int

func (b staticBudgets) Budgets(ctx context.Context, integrationIDs []string) (map[string]int, error) {
	return b, nil
}

func newTestScheduler(store Store, producer Producer, budgets BudgetProvider) *Scheduler {
	return &Scheduler{
		Store:         store,
		Budgets:       budgets,
		Producer:      producer,
		Logger:        logging.New("test"),
		Topic:         "task-dispatch",
		Interval:      time.Second,
		BatchSize:     100,
		Window:        time.Minute,
		DefaultBudget: 60,
	}
}

func TestSweepDispatchesPendingEntries(t *testing.T) {
	store := newFakeStore()
	store.add(&Entry{IntegrationID: "int_a", TaskName: "test.task", RemoteRequests: 1, Status: StatusPending})
	store.add(&Entry{IntegrationID: "int_a", TaskName: "test.task", RemoteRequests: 1, Status: StatusPending})
	producer := &fakeProducer{}

	s := newTestScheduler(store, producer, staticBudgets{"int_a": 60})
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 2 {
		t.Errorf("dispatched = %d, want 2", n)
	}
	if len(producer.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(producer.published))
	}
	if producer.topics[0] != "task-dispatch" {
		t.Errorf("topic = %q, want task-dispatch", producer.topics[0])
	}

	var msg Dispatch
	if err := json.Unmarshal(producer.published[0], &msg); err != nil {
		t.Fatalf("unmarshal dispatch: %v", err)
	}
	if msg.EntryID == 0 || msg.TaskName != "test.task" {
		t.Errorf("dispatch = %+v", msg)
	}

	for id := int64(1); id <= 2; id++ {
		e, _ := store.Get(context.Background(), id)
		if e.Status != StatusProcessing {
			t.Errorf("entry %d status = %q, want processing", id, e.Status)
		}
	}
}

func TestSweepSkipsFutureEntries(t *testing.T) {
	store := newFakeStore()
	store.add(&Entry{IntegrationID: "int_a", TaskName: "t", RemoteRequests: 1, Status: StatusPending,
		RunAfter: time.Now().UTC().Add(time.Hour)})
	producer := &fakeProducer{}

	s := newTestScheduler(store, producer, staticBudgets{})
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 0 {
		t.Errorf("dispatched = %d, want 0", n)
	}

	e, _ := store.Get(context.Background(), 1)
	if e.Status != StatusPending {
		t.Errorf("future entry status = %q, want pending", e.Status)
	}
}

func TestSweepDefersOverBudget(t *testing.T) {
	store := newFakeStore()
	store.add(&Entry{IntegrationID: "int_a", TaskName: "t", RemoteRequests: 5, Status: StatusPending})
	producer := &fakeProducer{}

	s := newTestScheduler(store, producer, staticBudgets{"int_a": 2})
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 0 {
		t.Errorf("dispatched = %d, want 0", n)
	}

	// stays pending so the next sweep can pick it up once budget frees
	e, _ := store.Get(context.Background(), 1)
	if e.Status != StatusPending {
		t.Errorf("deferred entry status = %q, want pending", e.Status)
	}
}

func TestSweepReleasesClaimOnPublishFailure(t *testing.T) {
	store := newFakeStore()
	store.add(&Entry{IntegrationID: "int_a", TaskName: "t", RemoteRequests: 1, Status: StatusPending})
	producer := &fakeProducer{err: errors.New("nsqd unreachable")}

	s := newTestScheduler(store, producer, staticBudgets{})
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 0 {
		t.Errorf("dispatched = %d, want 0", n)
	}

	e, _ := store.Get(context.Background(), 1)
	if e.Status != StatusPending {
		t.Errorf("entry status after failed publish = %q, want pending", e.Status)
	}
}

func TestSweepHigherPriorityFirst(t *testing.T) {
	store := newFakeStore()
	store.add(&Entry{IntegrationID: "int_a", TaskName: "low", RemoteRequests: 1, Priority: 1, Status: StatusPending})
	store.add(&Entry{IntegrationID: "int_a", TaskName: "high", RemoteRequests: 1, Priority: 10, Status: StatusPending})
	producer := &fakeProducer{}

	s := newTestScheduler(store, producer, staticBudgets{})
	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(producer.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(producer.published))
	}

	var first Dispatch
	if err := json.Unmarshal(producer.published[0], &first); err != nil {
		t.Fatalf("unmarshal dispatch: %v", err)
	}
	if first.TaskName != "high" {
		t.Errorf("first dispatched task = %q, want high", first.TaskName)
	}
}

func TestCleanupDeletesOldProcessed(t *testing.T) {
	store := newFakeStore()
	old := time.Now().UTC().Add(-100 * time.Hour)
	recent := time.Now().UTC()
	store.add(&Entry{IntegrationID: "int_a", TaskName: "t", Status: StatusProcessed, ProcessedAt: &old})
	store.add(&Entry{IntegrationID: "int_a", TaskName: "t", Status: StatusProcessed, ProcessedAt: &recent})
	store.add(&Entry{IntegrationID: "int_a", TaskName: "t", Status: StatusFailed, ProcessedAt: &old})

	Cleanup(context.Background(), store, 72*time.Hour, logging.New("test"))

	if _, err := store.Get(context.Background(), 1); err == nil {
		t.Error("old processed entry survived cleanup")
	}
	if _, err := store.Get(context.Background(), 2); err != nil {
		t.Error("recent processed entry deleted")
	}
	if _, err := store.Get(context.Background(), 3); err != nil {
		t.Error("failed entry deleted; cleanup must only touch processed entries")
	}
}
