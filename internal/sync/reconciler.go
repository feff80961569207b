package sync

import (
	"context"
	"errors"
	"fmt"

	"snapspend/internal/alert"
	"snapspend/internal/core"
	applog "snapspend/internal/log"
	"snapspend/internal/metrics"
)

// Store is the slice of the local store reconciliation reads and writes.
type Store interface {
	GetCollection(ctx context.Context, name string) (core.Collection, error)
	UpdateCollection(ctx context.Context, c core.Collection) error
	ListExpensesByCollection(ctx context.Context, collection string) ([]core.Expense, error)
	InsertExpense(ctx context.Context, e core.Expense) (int64, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, id int64) error
	PendingExpensePushes(ctx context.Context, collection string) (map[string]string, error)
}

// Result counts what one pass did.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int
	Skipped  int
	Deferred int
}

func (r Result) Changed() bool {
	return r.Inserted+r.Updated+r.Deleted > 0
}

// Reconciler applies cloud snapshots to the local store with the cloud as
// authority.
type Reconciler struct {
	store   Store
	trigger alert.Trigger
	metrics *metrics.Metrics
	logger  *applog.Logger
}

// NewReconciler builds a reconciler. trigger and m may be nil.
func NewReconciler(store Store, trigger alert.Trigger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:   store,
		trigger: trigger,
		metrics: m,
		logger:  applog.ForComponent(applog.ComponentReconcile),
	}
}

// ApplyExpenses runs one reconciliation pass of remote against the local
// expenses of collection. A store failure aborts the pass; mutations
// already applied stay applied. When anything changed a budget check runs.
func (r *Reconciler) ApplyExpenses(ctx context.Context, collection string, remote []core.SharedExpenseDoc) (Result, error) {
	local, err := r.store.ListExpensesByCollection(ctx, collection)
	if err != nil {
		return Result{}, fmt.Errorf("load local snapshot of %q: %w", collection, err)
	}

	pending, err := r.store.PendingExpensePushes(ctx, collection)
	if err != nil {
		return Result{}, fmt.Errorf("load pending pushes of %q: %w", collection, err)
	}

	plan, held := ReconcileExpenses(collection, local, remote).Defer(pending)
	res := Result{Skipped: len(plan.Skipped), Deferred: len(held)}

	for _, m := range held {
		r.logger.DebugContext(ctx, "Deferring pull until local push is sent",
			applog.FieldCollection, collection,
			applog.FieldCloudID, core.StringValue(m.Expense.CloudID),
			applog.FieldOperation, string(m.Kind))
	}

	for _, s := range plan.Skipped {
		r.logger.WarnContext(ctx, "Skipping malformed remote expense",
			applog.FieldCollection, collection,
			applog.FieldCloudID, s.ID,
			applog.FieldError, s.Reason)
	}
	r.metrics.ReconcileSkipped(res.Skipped)

	var applyErr error
	for _, m := range plan.Mutations {
		if applyErr = r.apply(ctx, m); applyErr != nil {
			break
		}
		switch m.Kind {
		case MutationInsert:
			res.Inserted++
		case MutationUpdate:
			res.Updated++
		case MutationDelete:
			res.Deleted++
		}
	}

	r.metrics.ReconcileMutations(string(MutationInsert), res.Inserted)
	r.metrics.ReconcileMutations(string(MutationUpdate), res.Updated)
	r.metrics.ReconcileMutations(string(MutationDelete), res.Deleted)

	if res.Changed() {
		r.logger.InfoContext(ctx, "Reconciled expenses",
			applog.FieldCollection, collection,
			applog.FieldInserted, res.Inserted,
			applog.FieldUpdated, res.Updated,
			applog.FieldDeleted, res.Deleted,
			applog.FieldSkipped, res.Skipped)
		r.checkBudgets(ctx)
	}

	if applyErr != nil {
		return res, fmt.Errorf("reconcile %q: %w", collection, applyErr)
	}
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, m Mutation) error {
	switch m.Kind {
	case MutationInsert:
		if _, err := r.store.InsertExpense(ctx, m.Expense); err != nil {
			return fmt.Errorf("insert %s: %w", core.StringValue(m.Expense.CloudID), err)
		}
	case MutationUpdate:
		if err := r.store.UpdateExpense(ctx, m.Expense); err != nil {
			return fmt.Errorf("update %s: %w", core.StringValue(m.Expense.CloudID), err)
		}
	case MutationDelete:
		err := r.store.DeleteExpense(ctx, m.Expense.ID)
		// Already gone, e.g. deleted by the user meanwhile
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", core.StringValue(m.Expense.CloudID), err)
		}
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	return nil
}

func (r *Reconciler) checkBudgets(ctx context.Context) {
	if r.trigger == nil {
		return
	}
	if err := r.trigger.Check(ctx); err != nil {
		r.logger.WarnContext(ctx, "Budget check after reconciliation failed", applog.FieldError, err)
	}
}

// ApplyDetails copies remote budget, icon and color onto the local
// collection when they differ. A nil doc (deleted remotely) or an unknown
// local collection is a no-op. It reports whether a write happened.
func (r *Reconciler) ApplyDetails(ctx context.Context, collection string, doc *core.SharedCollectionDoc) (bool, error) {
	if doc == nil {
		r.logger.InfoContext(ctx, "Shared collection missing in cloud", applog.FieldCollection, collection)
		return false, nil
	}

	local, err := r.store.GetCollection(ctx, collection)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load collection %q: %w", collection, err)
	}

	updated, changed := ReconcileDetails(local, *doc)
	if !changed {
		return false, nil
	}
	if err := r.store.UpdateCollection(ctx, updated); err != nil {
		return false, fmt.Errorf("update collection %q: %w", collection, err)
	}

	r.metrics.ReconcileMutations("details", 1)
	r.logger.InfoContext(ctx, "Reconciled collection details",
		applog.FieldCollection, collection,
		"budget", core.FormatAmount(updated.Budget),
		"icon", updated.IconName,
		"color", updated.ColorHex)
	return true, nil
}
