package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"snapspend/internal/alert"
	"snapspend/internal/core"
	"snapspend/internal/storage"
)

// JobQueue schedules background work for an expense.
type JobQueue interface {
	EnqueueEnrichment(ctx context.Context, expenseID int64) error
}

// ExpenseService orchestrates expense operations across SQLite, the push
// outbox and the job queue. Local writes come first; everything after them
// is best effort and recovered by the outbox, the enrichment sweep or the
// next reconciliation.
type ExpenseService struct {
	storage *storage.SQLiteRepository
	jobs    JobQueue
	budget  alert.Trigger
	now     func() time.Time
}

// NewExpenseService wires the service. jobs and budget may be nil.
func NewExpenseService(storage *storage.SQLiteRepository, jobs JobQueue, budget alert.Trigger) *ExpenseService {
	return &ExpenseService{
		storage: storage,
		jobs:    jobs,
		budget:  budget,
		now:     time.Now,
	}
}

// AddExpense records a new expense in collection, stamped now.
func (s *ExpenseService) AddExpense(ctx context.Context, collection string, amount decimal.Decimal) (core.Expense, error) {
	c, err := s.storage.GetCollection(ctx, collection)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get collection %q: %w", collection, err)
	}

	e := core.Expense{
		Amount:          amount,
		CollectionName:  c.Name,
		Timestamp:       s.now().UnixMilli(),
		CloudID:         core.StringPtr(core.NewCloudID()),
		PendingLocation: true,
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	// Save to SQLite first (fast, reliable)
	id, err := s.storage.InsertExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	e.ID = id

	slog.InfoContext(ctx, "Expense added",
		"expense_id", id,
		"collection", c.Name,
		"amount", core.FormatAmount(amount))

	if c.IsShared() {
		s.enqueuePush(ctx, storage.PushUpsertExpense, c, *e.CloudID)
	}
	s.enqueueEnrichment(ctx, id)
	s.checkBudget(ctx)

	return e, nil
}

// UpdateExpense writes e locally, then mirrors it to the shared collection
// it now belongs to. Moving an expense out of a shared collection deletes
// the cloud copy there.
func (s *ExpenseService) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	previous, err := s.storage.GetExpense(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("get expense %d: %w", e.ID, err)
	}
	target, err := s.storage.GetCollection(ctx, e.CollectionName)
	if err != nil {
		return fmt.Errorf("get collection %q: %w", e.CollectionName, err)
	}

	if target.IsShared() && core.StringValue(e.CloudID) == "" {
		e.CloudID = core.StringPtr(core.NewCloudID())
	}

	if err := s.storage.UpdateExpense(ctx, e); err != nil {
		return fmt.Errorf("update expense: %w", err)
	}

	if previous.CollectionName != e.CollectionName && previous.CloudID != nil {
		if old, err := s.storage.GetCollection(ctx, previous.CollectionName); err == nil && old.IsShared() {
			s.enqueuePush(ctx, storage.PushDeleteExpense, old, *previous.CloudID)
		}
	}
	if target.IsShared() {
		s.enqueuePush(ctx, storage.PushUpsertExpense, target, *e.CloudID)
	}
	s.checkBudget(ctx)
	return nil
}

// EditAmount changes the amount of an existing expense.
func (s *ExpenseService) EditAmount(ctx context.Context, id int64, amount decimal.Decimal) (core.Expense, error) {
	e, err := s.storage.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	e.Amount = amount
	if err := s.UpdateExpense(ctx, e); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

// DeleteExpense removes the expense locally, then from its shared collection.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) error {
	e, err := s.storage.GetExpense(ctx, id)
	if err != nil {
		return fmt.Errorf("get expense %d: %w", id, err)
	}
	if err := s.storage.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense deleted", "expense_id", id, "collection", e.CollectionName)

	if e.CloudID == nil {
		return nil
	}
	c, err := s.storage.GetCollection(ctx, e.CollectionName)
	if err != nil {
		slog.WarnContext(ctx, "Collection of deleted expense not found", "collection", e.CollectionName, "error", err)
		return nil
	}
	if c.IsShared() {
		s.enqueuePush(ctx, storage.PushDeleteExpense, c, *e.CloudID)
	}
	return nil
}

func (s *ExpenseService) enqueuePush(ctx context.Context, op string, c core.Collection, cloudID string) {
	enqueuePush(ctx, s.storage, storage.PushItem{
		Operation:      op,
		Pin:            c.Pin(),
		CollectionName: c.Name,
		CloudID:        cloudID,
	})
}

func (s *ExpenseService) enqueueEnrichment(ctx context.Context, id int64) {
	if s.jobs == nil {
		slog.DebugContext(ctx, "Job queue not available, enrichment left to the sweep", "expense_id", id)
		return
	}
	if err := s.jobs.EnqueueEnrichment(ctx, id); err != nil {
		// Don't fail the request - the pending sweep picks the expense up
		slog.ErrorContext(ctx, "Failed to enqueue enrichment", "expense_id", id, "error", err)
	}
}

func (s *ExpenseService) checkBudget(ctx context.Context) {
	if s.budget == nil {
		return
	}
	if err := s.budget.Check(ctx); err != nil {
		slog.ErrorContext(ctx, "Budget check failed", "error", err)
	}
}

func enqueuePush(ctx context.Context, repo *storage.SQLiteRepository, item storage.PushItem) {
	if _, err := repo.EnqueuePush(ctx, item); err != nil {
		// The next pull reconciles the cloud copy; the local write stands
		slog.ErrorContext(ctx, "Failed to enqueue push",
			"operation", item.Operation,
			"pin", item.Pin,
			"cloud_id", item.CloudID,
			"error", err)
	}
}
