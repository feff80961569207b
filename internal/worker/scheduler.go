package worker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TaskFunc is one run of a periodic task.
type TaskFunc func(ctx context.Context) error

type periodicTask struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler runs named periodic tasks. A name is registered at most once:
// re-enqueueing an existing name keeps the existing task.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*periodicTask
	runCtx context.Context
	wg     sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*periodicTask)}
}

// EnqueueUniquePeriodic registers fn to run every interval, first run
// immediately. Returns false when name was already registered.
func (s *Scheduler) EnqueueUniquePeriodic(name string, interval time.Duration, fn TaskFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		slog.Debug("Periodic task already scheduled, keeping existing", "task", name)
		return false
	}

	t := &periodicTask{name: name, interval: interval, fn: fn}
	s.tasks[name] = t
	if s.runCtx != nil {
		s.start(s.runCtx, t)
	}
	return true
}

// Tasks returns the registered task names in order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts every task and blocks until ctx is done and all runs returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.runCtx = ctx
	for _, t := range s.tasks {
		s.start(ctx, t)
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.runCtx = nil
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// start must be called with s.mu held.
func (s *Scheduler) start(ctx context.Context, t *periodicTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.loop(ctx)
	}()
}

func (t *periodicTask) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		t.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *periodicTask) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := t.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "Periodic task failed", "task", t.name, "error", err)
		return
	}
	slog.DebugContext(ctx, "Periodic task completed",
		"task", t.name,
		"duration_ms", time.Since(start).Milliseconds())
}
