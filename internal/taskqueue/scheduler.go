package taskqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/metrics"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// Producer publishes dispatch messages; satisfied by *nsq.Producer.
type Producer interface {
	Publish(topic string, body []byte) error
}

// BudgetProvider returns per-integration request budgets for one window.
type BudgetProvider interface {
	Budgets(ctx context.Context, integrationIDs []string) (map[string]int, error)
}

// Scheduler periodically sweeps pending entries and dispatches those that
// fit inside each integration's rate budget. It is the system's
// backpressure mechanism protecting third-party API limits.
type Scheduler struct {
	Store         Store
	Budgets       BudgetProvider
	Producer      Producer
	Logger        *logging.Logger
	Topic         string
	Interval      time.Duration
	BatchSize     int
	Window        time.Duration
	DefaultBudget int
}

// Run sweeps on a fixed interval until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.Logger.WithContext(ctx).WithError(err).Error("dispatch sweep failed")
			}
		}
	}
}

// Sweep selects claimable entries respecting priority and budget, claims
// each one atomically and publishes it to the dispatch topic. It returns
// the number of entries dispatched.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "taskqueue.sweep")
	defer span.End()

	now := time.Now().UTC()
	entries, err := s.Store.PendingDue(ctx, now, s.BatchSize)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	usage, err := s.Store.WindowUsage(ctx, now.Add(-s.Window))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}

	budgets, err := s.Budgets.Budgets(ctx, integrationIDs(entries))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}

	selected, deferred := SelectWithinBudget(entries, usage, budgets, s.DefaultBudget)
	for _, id := range deferred {
		metrics.RecordBudgetDeferred(id)
	}

	dispatched := 0
	traceHeaders := tracing.PropagateTraceToNSQ(ctx)
	for _, entry := range selected {
		claimed, err := s.Store.Claim(ctx, entry.ID, now)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			s.Logger.WithContext(ctx).WithTask(entry.ID).WithError(err).Error("claim failed")
			continue
		}
		if !claimed {
			// another scheduler got there first
			continue
		}

		msg := Dispatch{EntryID: entry.ID, TaskName: entry.TaskName, TraceHeaders: traceHeaders}
		body, _ := json.Marshal(msg)
		if err := s.Producer.Publish(s.Topic, body); err != nil {
			tracing.SetSpanError(ctx, err)
			s.Logger.WithContext(ctx).WithTask(entry.ID).WithError(err).Error("dispatch publish failed, releasing claim")
			if relErr := s.Store.Release(ctx, entry.ID); relErr != nil {
				s.Logger.WithContext(ctx).WithTask(entry.ID).WithError(relErr).Error("release failed")
			}
			continue
		}
		metrics.RecordDispatched()
		dispatched++
	}

	span.SetAttributes(
		attribute.Int("pending", len(entries)),
		attribute.Int("dispatched", dispatched),
		attribute.Int("deferred", len(deferred)),
	)
	return dispatched, nil
}

// SelectWithinBudget walks entries in order (already priority DESC, FIFO
// within priority) and keeps each one whose remote-request cost still fits
// the integration's window budget. Entries that would exceed it stay
// pending and are reconsidered next sweep; their integration IDs are
// returned for observability.
func SelectWithinBudget(entries []*Entry, usage, budgets map[string]int, defaultBudget int) (selected []*Entry, deferred []string) {
	spent := make(map[string]int, len(usage))
	for k, v := range usage {
		spent[k] = v
	}

	for _, e := range entries {
		budget, ok := budgets[e.IntegrationID]
		if !ok {
			budget = defaultBudget
		}
		if spent[e.IntegrationID]+e.RemoteRequests > budget {
			deferred = append(deferred, e.IntegrationID)
			continue
		}
		spent[e.IntegrationID] += e.RemoteRequests
		selected = append(selected, e)
	}
	return selected, deferred
}

func integrationIDs(entries []*Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var ids []string
	for _, e := range entries {
		if _, ok := seen[e.IntegrationID]; ok {
			continue
		}
		seen[e.IntegrationID] = struct{}{}
		ids = append(ids, e.IntegrationID)
	}
	return ids
}

// Cleanup deletes processed entries older than the TTL.
func Cleanup(ctx context.Context, store Store, ttl time.Duration, logger *logging.Logger) {
	n, err := store.DeleteProcessedBefore(ctx, time.Now().UTC().Add(-ttl))
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("task queue cleanup failed")
		return
	}
	if n > 0 {
		logger.WithContext(ctx).WithField("deleted", n).Info("task queue cleanup")
	}
}
