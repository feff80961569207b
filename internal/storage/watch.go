package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"snapspend/internal/core"
)

const collectionsTopic = "collections"

func expensesTopic(collection string) string {
	return "expenses:" + collection
}

// watchHub fans committed-mutation signals out to live queries.
type watchHub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[string]map[chan struct{}]struct{})}
}

func (h *watchHub) subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan struct{}]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs[topic], ch)
		if len(h.subs[topic]) == 0 {
			delete(h.subs, topic)
		}
		h.mu.Unlock()
	}
}

// publish never blocks; pending signals coalesce.
func (h *watchHub) publish(topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		for ch := range h.subs[topic] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// publishAll signals every live query.
func (h *watchHub) publishAll() {
	h.mu.Lock()
	topics := make([]string, 0, len(h.subs))
	for topic := range h.subs {
		topics = append(topics, topic)
	}
	h.mu.Unlock()
	h.publish(topics...)
}

// WatchCollections emits the collection list now and after every change to
// it, including commits made by other processes on the same file. Slow
// readers only see the latest list. The channel closes when ctx ends.
func (r *SQLiteRepository) WatchCollections(ctx context.Context) <-chan []core.Collection {
	r.startChangePoller()
	return watchQuery(ctx, r.watch, collectionsTopic, r.ListCollections)
}

// WatchExpenses is WatchCollections for the expenses of one collection.
func (r *SQLiteRepository) WatchExpenses(ctx context.Context, collection string) <-chan []core.Expense {
	r.startChangePoller()
	return watchQuery(ctx, r.watch, expensesTopic(collection), func(ctx context.Context) ([]core.Expense, error) {
		return r.ListExpensesByCollection(ctx, collection)
	})
}

func watchQuery[T any](ctx context.Context, hub *watchHub, topic string, load func(context.Context) (T, error)) <-chan T {
	out := make(chan T, 1)
	signal, unsubscribe := hub.subscribe(topic)

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			result, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "Live query failed", "topic", topic, "error", err)
			} else {
				// Replace an unread result with the fresh one
				select {
				case <-out:
				default:
				}
				out <- result
			}

			select {
			case <-ctx.Done():
				return
			case <-signal:
			}
		}
	}()

	return out
}

// startChangePoller runs pollChanges once per repository, on first watch.
func (r *SQLiteRepository) startChangePoller() {
	r.pollOnce.Do(func() {
		r.pollDone = make(chan struct{})
		go r.pollChanges()
	})
}

// pollChanges signals every live query when PRAGMA data_version moves. The
// value only changes for commits made through other connections; writes
// through this repository publish directly.
func (r *SQLiteRepository) pollChanges() {
	defer close(r.pollDone)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		var version int64
		err := r.db.QueryRowContext(r.pollCtx, "PRAGMA data_version").Scan(&version)
		switch {
		case err != nil:
			if r.pollCtx.Err() == nil {
				slog.Debug("Data version check failed", "error", err)
			}
		case last >= 0 && version != last:
			slog.Debug("External database change detected", "data_version", version)
			r.watch.publishAll()
			last = version
		default:
			last = version
		}

		select {
		case <-r.pollCtx.Done():
			return
		case <-ticker.C:
		}
	}
}
