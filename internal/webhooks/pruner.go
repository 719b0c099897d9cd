package webhooks

import (
	"context"
	"time"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/metrics"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// PrunerStore is the persistence surface retention pruning needs.
type PrunerStore interface {
	ActiveIntegrations(ctx context.Context) ([]*Integration, error)
	// PruneDelivered deletes delivered deliveries for the integration with
	// sent_at before the cutoff; attempt rows cascade.
	PruneDelivered(ctx context.Context, integrationID string, cutoff time.Time) (int64, error)
	// PruneOrphanOutbox deletes outbox rows left with zero deliveries.
	PruneOrphanOutbox(ctx context.Context) (int64, error)
}

// PruneSummary reports what one pruner run removed.
type PruneSummary struct {
	Deliveries    int64            `json:"deliveries"`
	Outboxes      int64            `json:"outboxes"`
	ByIntegration map[string]int64 `json:"by_integration"`
}

// Pruner garbage-collects delivered records past each integration's
// retention policy.
type Pruner struct {
	Store  PrunerStore
	Logger *logging.Logger
}

// Run prunes every active integration once and then sweeps orphaned
// outbox rows. It returns counts for observability.
func (p *Pruner) Run(ctx context.Context, now time.Time) (PruneSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "webhooks.prune")
	defer span.End()

	summary := PruneSummary{ByIntegration: make(map[string]int64)}

	integrations, err := p.Store.ActiveIntegrations(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return summary, err
	}

	for _, integ := range integrations {
		cutoff := now.Add(-integ.Retention.Window())
		n, err := p.Store.PruneDelivered(ctx, integ.ID, cutoff)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			p.Logger.WithContext(ctx).WithIntegration(integ.ID).WithError(err).Error("retention prune failed")
			continue
		}
		if n > 0 {
			summary.ByIntegration[integ.ID] = n
			summary.Deliveries += n
		}
	}

	orphans, err := p.Store.PruneOrphanOutbox(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return summary, err
	}
	summary.Outboxes = orphans

	metrics.RecordPruned(summary.Deliveries, summary.Outboxes)
	span.SetAttributes(
		attribute.Int64("pruned_deliveries", summary.Deliveries),
		attribute.Int64("pruned_outboxes", summary.Outboxes),
	)
	p.Logger.WithContext(ctx).WithFields(map[string]any{
		"deliveries": summary.Deliveries,
		"outboxes":   summary.Outboxes,
	}).Info("retention prune complete")

	return summary, nil
}
