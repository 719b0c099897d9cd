package taskqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/OneSila/OneSilaHeadless-sub006/internal/logging"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/metrics"
	"github.com/OneSila/OneSilaHeadless-sub006/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// Executor runs one claimed entry through the registry. Every failure mode,
// including a panicking handler, becomes a terminal failure record on the
// entry; nothing propagates back into the dispatch loop.
type Executor struct {
	Store    Store
	Registry *Registry
	Logger   *logging.Logger
}

func NewExecutor(store Store, registry *Registry, logger *logging.Logger) *Executor {
	return &Executor{Store: store, Registry: registry, Logger: logger}
}

// Execute runs the entry and records its terminal status. The entry must
// already be in processing state (claimed).
func (x *Executor) Execute(ctx context.Context, entry *Entry) {
	ctx, span := tracing.StartSpan(ctx, "taskqueue.execute",
		attribute.Int64("task_id", entry.ID),
		attribute.String("task_name", string(entry.TaskName)),
		attribute.String("integration_id", entry.IntegrationID),
	)
	defer span.End()

	handler, ok := x.Registry.Resolve(entry.TaskName)
	if !ok {
		x.fail(ctx, entry, fmt.Sprintf("no handler registered for task %q", entry.TaskName), "")
		return
	}

	err := x.run(ctx, handler, entry)
	if err != nil {
		return // terminal status already recorded by run
	}

	if markErr := x.Store.MarkProcessed(ctx, entry.ID, time.Now().UTC()); markErr != nil {
		tracing.SetSpanError(ctx, markErr)
		x.Logger.WithContext(ctx).WithTask(entry.ID).WithError(markErr).Error("mark processed failed")
	}
	metrics.RecordTask(string(entry.TaskName), "processed")
}

// run invokes the handler, converting both returned errors and panics into
// a terminal failure record. The returned error only signals "already
// recorded"; it is never re-raised.
func (x *Executor) run(ctx context.Context, handler Handler, entry *Entry) (failure error) {
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Errorf("panic: %v", r)
			x.fail(ctx, entry, failure.Error(), string(debug.Stack()))
		}
	}()

	if err := handler(ctx, entry); err != nil {
		x.fail(ctx, entry, err.Error(), "")
		return err
	}
	return nil
}

func (x *Executor) fail(ctx context.Context, entry *Entry, msg, traceback string) {
	tracing.AddSpanEvent(ctx, "task.failed", attribute.String("error", msg))
	if err := x.Store.MarkFailed(ctx, entry.ID, msg, traceback, time.Now().UTC()); err != nil {
		tracing.SetSpanError(ctx, err)
		x.Logger.WithContext(ctx).WithTask(entry.ID).WithError(err).Error("mark failed failed")
	}
	x.Logger.WithContext(ctx).
		WithTask(entry.ID).
		WithIntegration(entry.IntegrationID).
		WithField("task_name", string(entry.TaskName)).
		WithField("error", msg).
		Error("task execution failed")
	metrics.RecordTask(string(entry.TaskName), "failed")
}
