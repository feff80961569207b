package sync

import (
	"errors"
	"fmt"

	"snapspend/internal/core"
	"snapspend/internal/storage"
)

type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is one local write. For inserts Expense is the new row; for
// updates and deletes it is the existing row, with new values for updates.
type Mutation struct {
	Kind    MutationKind
	Expense core.Expense
}

// SkippedDoc is a remote document left out of a pass.
type SkippedDoc struct {
	ID     string
	Reason error
}

// Plan is the outcome of diffing one snapshot against local state.
type Plan struct {
	Mutations []Mutation
	Skipped   []SkippedDoc
}

func (p Plan) Empty() bool {
	return len(p.Mutations) == 0
}

// Count returns how many mutations of kind the plan holds.
func (p Plan) Count(kind MutationKind) int {
	n := 0
	for _, m := range p.Mutations {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

var errDuplicateID = errors.New("duplicate id in snapshot")

// ReconcileExpenses computes the local mutations that make the expenses of
// collection that carry a cloud id match remote. Rows without a cloud id are
// ignored. Malformed and duplicate remote documents are skipped.
func ReconcileExpenses(collection string, local []core.Expense, remote []core.SharedExpenseDoc) Plan {
	var plan Plan

	localByID := make(map[string]core.Expense, len(local))
	for _, e := range local {
		if e.CloudID == nil || *e.CloudID == "" {
			continue
		}
		localByID[*e.CloudID] = e
	}

	remoteIDs := make(map[string]struct{}, len(remote))
	for _, doc := range remote {
		if err := doc.Validate(); err != nil {
			plan.Skipped = append(plan.Skipped, SkippedDoc{ID: doc.ID, Reason: err})
			// A malformed doc still proves the id exists remotely
			if doc.ID != "" {
				remoteIDs[doc.ID] = struct{}{}
			}
			continue
		}
		if _, seen := remoteIDs[doc.ID]; seen {
			plan.Skipped = append(plan.Skipped, SkippedDoc{
				ID:     doc.ID,
				Reason: fmt.Errorf("%w: %w", core.ErrMalformedDoc, errDuplicateID),
			})
			continue
		}
		remoteIDs[doc.ID] = struct{}{}

		existing, ok := localByID[doc.ID]
		if !ok {
			plan.Mutations = append(plan.Mutations, Mutation{
				Kind:    MutationInsert,
				Expense: core.ExpenseFromShared(doc, collection),
			})
			continue
		}
		if updated, changed := ResolvePull(existing, doc); changed {
			plan.Mutations = append(plan.Mutations, Mutation{Kind: MutationUpdate, Expense: updated})
		}
	}

	// Keep the local order for deletes
	for _, e := range local {
		if e.CloudID == nil || *e.CloudID == "" {
			continue
		}
		if _, ok := remoteIDs[*e.CloudID]; !ok {
			plan.Mutations = append(plan.Mutations, Mutation{Kind: MutationDelete, Expense: e})
		}
	}

	return plan
}

// Defer removes the mutations that would undo a local write still waiting to
// be pushed: pulls neither update nor delete a row with an unsent upsert, nor
// re-insert one with an unsent delete. pending maps cloud ids to the latest
// unsent operation. The held back mutations are returned separately.
func (p Plan) Defer(pending map[string]string) (Plan, []Mutation) {
	if len(pending) == 0 {
		return p, nil
	}

	kept := Plan{Skipped: p.Skipped}
	var held []Mutation
	for _, m := range p.Mutations {
		switch pending[core.StringValue(m.Expense.CloudID)] {
		case storage.PushUpsertExpense:
			if m.Kind == MutationUpdate || m.Kind == MutationDelete {
				held = append(held, m)
				continue
			}
		case storage.PushDeleteExpense:
			if m.Kind == MutationInsert {
				held = append(held, m)
				continue
			}
		}
		kept.Mutations = append(kept.Mutations, m)
	}
	return kept, held
}
