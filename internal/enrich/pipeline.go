package enrich

import (
	"context"
	"errors"
	"fmt"

	"snapspend/internal/cloud"
	"snapspend/internal/core"
	applog "snapspend/internal/log"
	"snapspend/internal/metrics"
)

// Pipeline states, logged on each transition.
const (
	StateQueued           = "queued"
	StateLocationAcquired = "location-acquired"
	StateCategoryResolved = "category-resolved"
	StatePersistedLocally = "persisted-locally"
	StatePushed           = "pushed-if-shared"
	StateDone             = "done"
)

// Job outcomes recorded in metrics.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

// Store is the slice of the local store the pipeline needs.
type Store interface {
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	GetCollection(ctx context.Context, name string) (core.Collection, error)
}

type Pipeline struct {
	store    Store
	locator  Locator
	geocoder Geocoder
	cloud    cloud.ExpenseWriter
	identity core.Member
	metrics  *metrics.Metrics
	logger   *applog.Logger
}

// NewPipeline wires the enrichment steps. identity is recorded as the adder
// of expenses pushed to shared collections.
func NewPipeline(store Store, locator Locator, geocoder Geocoder, gateway cloud.ExpenseWriter, identity core.Member, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:    store,
		locator:  locator,
		geocoder: geocoder,
		cloud:    gateway,
		identity: identity,
		metrics:  m,
		logger:   applog.ForComponent(applog.ComponentEnrich),
	}
}

// Process enriches one expense. A missing expense is a permanent failure
// wrapping core.ErrNotFound; every transient failure wraps ErrRetryable and
// the whole job restarts from the location step on redelivery.
func (p *Pipeline) Process(ctx context.Context, expenseID int64) error {
	err := p.process(ctx, expenseID)
	switch {
	case err == nil:
		p.metrics.EnrichmentJob(OutcomeSuccess)
		p.logger.InfoContext(ctx, "Expense enriched", applog.FieldExpenseID, expenseID)
	case IsRetryable(err):
		p.metrics.EnrichmentJob(OutcomeRetry)
		p.logger.WarnContext(ctx, "Enrichment will be retried",
			applog.FieldExpenseID, expenseID,
			applog.FieldError, err)
	default:
		p.metrics.EnrichmentJob(OutcomeDropped)
		p.logger.WarnContext(ctx, "Enrichment dropped",
			applog.FieldExpenseID, expenseID,
			applog.FieldError, err)
	}
	return err
}

func (p *Pipeline) process(ctx context.Context, expenseID int64) error {
	p.transition(ctx, expenseID, StateQueued)

	// Fail fast on deleted expenses before touching the location.
	if _, err := p.store.GetExpense(ctx, expenseID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("get expense %d: %w", expenseID, err)
		}
		return retryable(fmt.Errorf("get expense %d: %w", expenseID, err))
	}

	coord, err := p.locator.CurrentLocation(ctx)
	if err != nil {
		return retryable(fmt.Errorf("acquire location: %w", err))
	}
	p.transition(ctx, expenseID, StateLocationAcquired, "location", coord.String())

	category, err := p.resolveCategory(ctx, coord)
	if err != nil {
		return retryable(err)
	}
	p.transition(ctx, expenseID, StateCategoryResolved, applog.FieldCategory, category)

	// Re-read so concurrent edits made while geocoding are not overwritten.
	expense, err := p.store.GetExpense(ctx, expenseID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("get expense %d: %w", expenseID, err)
		}
		return retryable(fmt.Errorf("get expense %d: %w", expenseID, err))
	}
	expense.Latitude = core.Float64Ptr(coord.Latitude)
	expense.Longitude = core.Float64Ptr(coord.Longitude)
	expense.LocationCategory = core.StringPtr(category)
	expense.PendingLocation = false
	if core.StringValue(expense.CloudID) == "" {
		expense.CloudID = core.StringPtr(core.NewCloudID())
	}

	if err := p.store.UpdateExpense(ctx, expense); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("update expense %d: %w", expenseID, err)
		}
		return retryable(fmt.Errorf("update expense %d: %w", expenseID, err))
	}
	p.transition(ctx, expenseID, StatePersistedLocally, applog.FieldCloudID, *expense.CloudID)

	collection, err := p.store.GetCollection(ctx, expense.CollectionName)
	switch {
	case errors.Is(err, core.ErrNotFound):
		// Collection deleted meanwhile; nothing to mirror.
	case err != nil:
		return retryable(fmt.Errorf("get collection %q: %w", expense.CollectionName, err))
	case collection.IsShared():
		doc := core.SharedExpenseFromLocal(expense, p.identity)
		if err := p.cloud.UpsertExpense(ctx, collection.Pin(), doc); err != nil {
			return retryable(fmt.Errorf("push expense %s: %w", doc.ID, err))
		}
		p.transition(ctx, expenseID, StatePushed, applog.FieldPin, collection.Pin())
	}

	p.transition(ctx, expenseID, StateDone)
	return nil
}

// resolveCategory geocodes coord. A rejected request degrades to
// Uncategorized; transport failures are returned.
func (p *Pipeline) resolveCategory(ctx context.Context, coord Coordinate) (string, error) {
	results, err := p.geocoder.ReverseGeocode(ctx, coord)
	if err != nil {
		if errors.Is(err, ErrGeocodeRejected) {
			p.logger.WarnContext(ctx, "Geocoding rejected, using fallback category",
				applog.FieldError, err)
			return CategoryUncategorized, nil
		}
		return "", fmt.Errorf("reverse geocode %s: %w", coord, err)
	}
	return SelectCategory(results), nil
}

func (p *Pipeline) transition(ctx context.Context, expenseID int64, state string, args ...any) {
	p.logger.DebugContext(ctx, "Enrichment state",
		append([]any{applog.FieldExpenseID, expenseID, applog.FieldState, state}, args...)...)
}
