package worker

import (
	"context"
	"fmt"
	"log/slog"

	"snapspend/internal/alert"
	"snapspend/internal/amqp"
	"snapspend/internal/core"
	"snapspend/internal/enrich"
)

// Enricher runs the enrichment pipeline for one expense.
type Enricher interface {
	Process(ctx context.Context, expenseID int64) error
}

// PendingStore lists expenses still waiting for enrichment.
type PendingStore interface {
	ListExpensesMissingLocation(ctx context.Context, limit int) ([]core.Expense, error)
}

// JobWorker executes queued jobs and sweeps for enrichment work whose job
// was lost.
type JobWorker struct {
	store     PendingStore
	enricher  Enricher
	budget    alert.Trigger
	batchSize int
}

func NewJobWorker(store PendingStore, enricher Enricher, budget alert.Trigger, batchSize int) *JobWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	return &JobWorker{
		store:     store,
		enricher:  enricher,
		budget:    budget,
		batchSize: batchSize,
	}
}

// Handle processes a single job message from AMQP. Enrichment failures the
// pipeline deems permanent are marked so the consumer drops the job.
func (w *JobWorker) Handle(ctx context.Context, msg amqp.JobMessage) error {
	slog.DebugContext(ctx, "Processing job",
		"job_type", msg.Type,
		"expense_id", msg.ExpenseID,
		"attempt", msg.Attempt)

	switch msg.Type {
	case amqp.JobEnrichExpense:
		err := w.enricher.Process(ctx, msg.ExpenseID)
		if err != nil && !enrich.IsRetryable(err) {
			return amqp.Permanent(err)
		}
		return err
	case amqp.JobBudgetCheck:
		if err := w.budget.Check(ctx); err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		return nil
	default:
		return amqp.Permanent(fmt.Errorf("unknown job type %q", msg.Type))
	}
}

// ProcessPendingEnrichment enriches expenses still missing a location.
// This is a backup mechanism in case AMQP messages are lost.
func (w *JobWorker) ProcessPendingEnrichment(ctx context.Context) error {
	_, _, err := w.sweep(ctx, w.batchSize)
	return err
}

// StartupCheck runs a larger sweep when the worker starts, to recover from
// downtime.
func (w *JobWorker) StartupCheck(ctx context.Context) error {
	ok, failed, err := w.sweep(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup enrichment check: %w", err)
	}
	if ok+failed == 0 {
		slog.InfoContext(ctx, "No pending enrichment found on startup")
		return nil
	}
	slog.InfoContext(ctx, "Startup enrichment completed",
		"total", ok+failed,
		"enriched", ok,
		"errors", failed)
	return nil
}

func (w *JobWorker) sweep(ctx context.Context, limit int) (ok, failed int, err error) {
	pending, err := w.store.ListExpensesMissingLocation(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending enrichment: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	slog.InfoContext(ctx, "Processing pending enrichment", "count", len(pending))

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return ok, failed, err
		}
		if err := w.enricher.Process(ctx, e.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to enrich expense", "expense_id", e.ID, "error", err)
			failed++
			continue
		}
		ok++
	}
	return ok, failed, nil
}
