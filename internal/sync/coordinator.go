package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"snapspend/internal/cloud"
	"snapspend/internal/core"
	applog "snapspend/internal/log"
	"snapspend/internal/metrics"
)

// DefaultResubscribeInterval is how often Run recomputes subscriptions
// without a local change, reopening those that died.
const DefaultResubscribeInterval = 30 * time.Second

// CollectionSource emits the full local collection list on every change.
// ListCollections is read on every resubscribe tick so a missed change
// signal costs at most one interval.
type CollectionSource interface {
	WatchCollections(ctx context.Context) <-chan []core.Collection
	ListCollections(ctx context.Context) ([]core.Collection, error)
}

type subscription struct {
	pin        string
	collection string
	cancel     context.CancelFunc
	done       chan struct{}
}

// Coordinator keeps exactly one live cloud subscription per shared local
// collection and feeds every snapshot to the reconciler.
type Coordinator struct {
	gateway    cloud.Subscriber
	reconciler *Reconciler
	source     CollectionSource
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *applog.Logger

	mu     stdsync.Mutex
	active map[string]*subscription
}

func NewCoordinator(source CollectionSource, gateway cloud.Subscriber, reconciler *Reconciler, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		gateway:    gateway,
		reconciler: reconciler,
		source:     source,
		interval:   DefaultResubscribeInterval,
		metrics:    m,
		logger:     applog.ForComponent(applog.ComponentSync),
		active:     make(map[string]*subscription),
	}
}

// SetResubscribeInterval overrides DefaultResubscribeInterval. Call before Run.
func (c *Coordinator) SetResubscribeInterval(d time.Duration) {
	c.interval = d
}

// Run follows the local collection list until ctx is done, then cancels
// every subscription and waits for them.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.Close()

	c.logger.InfoContext(ctx, "Sync coordinator started")

	updates := c.source.WatchCollections(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var latest []core.Collection
	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Sync coordinator stopping", applog.FieldSubscriptions, len(c.Active()))
			return nil
		case collections, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("collection watch closed")
			}
			latest = collections
			c.Sync(ctx, latest)
		case <-ticker.C:
			fresh, err := c.source.ListCollections(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.WarnContext(ctx, "Failed to list collections, resyncing last known list", applog.FieldError, err)
			} else {
				latest = fresh
			}
			c.Sync(ctx, latest)
		}
	}
}

// Sync opens a subscription for every shared collection not yet followed
// and closes the ones whose collection was deleted or lost its pin.
func (c *Coordinator) Sync(ctx context.Context, collections []core.Collection) {
	target := make(map[string]string)
	for _, col := range collections {
		if col.IsShared() {
			target[col.Pin()] = col.Name
		}
	}

	var stale []*subscription

	c.mu.Lock()
	for pin, sub := range c.active {
		if name, ok := target[pin]; !ok || name != sub.collection {
			stale = append(stale, sub)
			delete(c.active, pin)
		}
	}
	for pin, name := range target {
		if _, ok := c.active[pin]; ok {
			continue
		}
		c.active[pin] = c.open(ctx, pin, name)
	}
	count := len(c.active)
	c.mu.Unlock()

	for _, sub := range stale {
		sub.cancel()
		<-sub.done
		c.logger.InfoContext(ctx, "Subscription closed",
			applog.FieldPin, sub.pin,
			applog.FieldCollection, sub.collection)
	}
	c.metrics.SetActiveSubscriptions(count)
}

// open must be called with c.mu held.
func (c *Coordinator) open(parent context.Context, pin, collection string) *subscription {
	ctx, cancel := context.WithCancel(parent)
	sub := &subscription{
		pin:        pin,
		collection: collection,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	c.logger.InfoContext(ctx, "Subscription opened",
		applog.FieldPin, pin,
		applog.FieldCollection, collection)

	go func() {
		defer close(sub.done)
		defer cancel()

		err := c.follow(ctx, sub)
		if err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "Subscription ended, will reopen on next recompute",
				applog.FieldPin, pin,
				applog.FieldCollection, collection,
				applog.FieldError, err)
		}

		c.mu.Lock()
		if c.active[pin] == sub {
			delete(c.active, pin)
			c.metrics.SetActiveSubscriptions(len(c.active))
		}
		c.mu.Unlock()
	}()

	return sub
}

// follow streams details and expenses of one pin until either stream ends.
func (c *Coordinator) follow(ctx context.Context, sub *subscription) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stream, err := c.gateway.SubscribeDetails(ctx, sub.pin)
		if err != nil {
			return fmt.Errorf("subscribe details: %w", err)
		}
		defer stream.Stop()
		for {
			doc, err := stream.Next()
			if err != nil {
				return streamErr("details", err)
			}
			if _, err := c.reconciler.ApplyDetails(ctx, sub.collection, doc); err != nil {
				c.logger.ErrorContext(ctx, "Details reconciliation failed",
					applog.FieldCollection, sub.collection, applog.FieldError, err)
			}
		}
	})

	g.Go(func() error {
		stream, err := c.gateway.SubscribeExpenses(ctx, sub.pin)
		if err != nil {
			return fmt.Errorf("subscribe expenses: %w", err)
		}
		defer stream.Stop()
		for {
			docs, err := stream.Next()
			if err != nil {
				return streamErr("expenses", err)
			}
			if _, err := c.reconciler.ApplyExpenses(ctx, sub.collection, docs); err != nil {
				c.logger.ErrorContext(ctx, "Expense reconciliation failed",
					applog.FieldCollection, sub.collection, applog.FieldError, err)
			}
		}
	})

	return g.Wait()
}

// streamErr always returns an error: the end of either stream ends the
// whole subscription.
func streamErr(kind string, err error) error {
	if errors.Is(err, cloud.ErrStreamClosed) {
		return fmt.Errorf("%s stream closed: %w", kind, err)
	}
	return fmt.Errorf("%s stream: %w", kind, err)
}

// Active returns the pins with a live subscription, sorted.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	pins := make([]string, 0, len(c.active))
	for pin := range c.active {
		pins = append(pins, pin)
	}
	sort.Strings(pins)
	return pins
}

// Close cancels every subscription and waits for them to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.active))
	for pin, sub := range c.active {
		subs = append(subs, sub)
		delete(c.active, pin)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	for _, sub := range subs {
		<-sub.done
	}
	c.metrics.SetActiveSubscriptions(0)
}
