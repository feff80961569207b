package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"snapspend/internal/core"
	applog "snapspend/internal/log"
	"snapspend/internal/metrics"
)

// DefaultThreshold is the month-to-date spend ratio that raises an alert.
const DefaultThreshold = 0.9

var hundred = decimal.NewFromInt(100)

// Store is the slice of the local store the evaluator reads.
type Store interface {
	ListCollections(ctx context.Context) ([]core.Collection, error)
	SumAmount(ctx context.Context, start, end time.Time, collection string) (decimal.Decimal, error)
}

// Trigger runs a budget check now. Components that change spend totals call it.
type Trigger interface {
	Check(ctx context.Context) error
}

type Evaluator struct {
	store     Store
	notifier  Notifier
	threshold decimal.Decimal
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *applog.Logger
}

type Option func(*Evaluator)

func WithThreshold(t float64) Option {
	return func(e *Evaluator) { e.threshold = decimal.NewFromFloat(t) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

func WithLogger(l *applog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

func NewEvaluator(store Store, notifier Notifier, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:     store,
		notifier:  notifier,
		threshold: decimal.NewFromFloat(DefaultThreshold),
		now:       time.Now,
		logger:    applog.ForComponent(applog.ComponentAlert),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns one alert per budgeted collection whose spend in
// [start of now's month, now] reached the threshold. Collections without a
// budget never alert.
func (e *Evaluator) Evaluate(ctx context.Context, now time.Time) ([]core.Alert, error) {
	collections, err := e.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	start := core.MonthStart(now)
	// SumAmount is end-exclusive; include expenses stamped exactly now
	end := now.Add(time.Millisecond)

	var alerts []core.Alert
	for _, c := range collections {
		if !c.Budget.IsPositive() {
			continue
		}
		spent, err := e.store.SumAmount(ctx, start, end, c.Name)
		if err != nil {
			return nil, fmt.Errorf("sum spend of %q: %w", c.Name, err)
		}
		ratio := spent.Div(c.Budget)
		if ratio.LessThan(e.threshold) {
			continue
		}
		alerts = append(alerts, core.Alert{
			CollectionName: c.Name,
			Percent:        int(ratio.Mul(hundred).Round(0).IntPart()),
			Spent:          spent,
			Budget:         c.Budget,
		})
	}
	return alerts, nil
}

// Check evaluates at the current time and notifies every alert. Alerts are
// not de-duplicated across calls.
func (e *Evaluator) Check(ctx context.Context) error {
	alerts, err := e.Evaluate(ctx, e.now())
	if err != nil {
		return err
	}

	e.metrics.BudgetAlerts(len(alerts))
	e.logger.DebugContext(ctx, "Budget check completed", "alerts", len(alerts))

	if e.notifier == nil {
		return nil
	}
	for _, a := range alerts {
		if err := e.notifier.Notify(ctx, a); err != nil {
			e.logger.WarnContext(ctx, "Failed to deliver budget alert",
				applog.FieldCollection, a.CollectionName,
				applog.FieldError, err)
		}
	}
	return nil
}
