package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
)

type fakePrunerStore struct {
	integrations []*Integration
	// deliveredAt holds per-integration sent_at timestamps; PruneDelivered
	// counts the ones before the cutoff, mimicking the SQL delete.
	deliveredAt map[string][]time.Time
	orphans     int64

	cutoffs   map[string]time.Time
	pruneErrs map[string]error
}

func (f *fakePrunerStore) ActiveIntegrations(ctx context.Context) ([]*Integration, error) {
	return f.integrations, nil
}

func (f *fakePrunerStore) PruneDelivered(ctx context.Context, integrationID string, cutoff time.Time) (int64, error) {
	if f.cutoffs == nil {
		f.cutoffs = make(map[string]time.Time)
	}
	f.cutoffs[integrationID] = cutoff
	if err := f.pruneErrs[integrationID]; err != nil {
		return 0, err
	}
	var n int64
	for _, at := range f.deliveredAt[integrationID] {
		if at.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (f *fakePrunerStore) PruneOrphanOutbox(ctx context.Context) (int64, error) {
	return f.orphans, nil
}

func TestPrunerRun(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &fakePrunerStore{
		integrations: []*Integration{
			{ID: "int_3m", Active: true, Retention: Retention3M},
			{ID: "int_6m", Active: true, Retention: Retention6M},
		},
		deliveredAt: map[string][]time.Time{
			// one record 91 days old (pruned), one 89 days old (kept)
			"int_3m": {now.Add(-91 * 24 * time.Hour), now.Add(-89 * 24 * time.Hour)},
			// 91 days is well inside a 180-day window
			"int_6m": {now.Add(-91 * 24 * time.Hour)},
		},
		orphans: 3,
	}

	p := &Pruner{Store: store, Logger: logging.New("test")}
	summary, err := p.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Deliveries != 1 {
		t.Errorf("Run() pruned %d deliveries, want 1", summary.Deliveries)
	}
	if summary.ByIntegration["int_3m"] != 1 {
		t.Errorf("Run() int_3m pruned = %d, want 1", summary.ByIntegration["int_3m"])
	}
	if _, ok := summary.ByIntegration["int_6m"]; ok {
		t.Error("Run() reported int_6m despite nothing pruned")
	}
	if summary.Outboxes != 3 {
		t.Errorf("Run() orphan outboxes = %d, want 3", summary.Outboxes)
	}

	// cutoffs match each integration's retention window
	if got, want := store.cutoffs["int_3m"], now.Add(-90*24*time.Hour); !got.Equal(want) {
		t.Errorf("int_3m cutoff = %v, want %v", got, want)
	}
	if got, want := store.cutoffs["int_6m"], now.Add(-180*24*time.Hour); !got.Equal(want) {
		t.Errorf("int_6m cutoff = %v, want %v", got, want)
	}
}

func TestPrunerRunContinuesPastFailures(t *testing.T) {
	now := time.Now().UTC()
	store := &fakePrunerStore{
		integrations: []*Integration{
			{ID: "int_bad", Active: true, Retention: Retention3M},
			{ID: "int_ok", Active: true, Retention: Retention3M},
		},
		deliveredAt: map[string][]time.Time{
			"int_ok": {now.Add(-100 * 24 * time.Hour)},
		},
		pruneErrs: map[string]error{"int_bad": errors.New("deadlock")},
	}

	p := &Pruner{Store: store, Logger: logging.New("test")}
	summary, err := p.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil (per-integration failure logged)", err)
	}
	if summary.ByIntegration["int_ok"] != 1 {
		t.Errorf("Run() int_ok pruned = %d, want 1", summary.ByIntegration["int_ok"])
	}
}

func TestRetentionWindow(t *testing.T) {
	tests := []struct {
		policy RetentionPolicy
		want   time.Duration
	}{
		{policy: Retention3M, want: 90 * 24 * time.Hour},
		{policy: Retention6M, want: 180 * 24 * time.Hour},
		{policy: Retention12M, want: 365 * 24 * time.Hour},
		{policy: RetentionPolicy("unknown"), want: 90 * 24 * time.Hour},
	}

	for _, tt := range tests {
		if got := tt.policy.Window(); got != tt.want {
			t.Errorf("Window(%q) = %v, want %v", tt.policy, got, tt.want)
		}
	}
}
