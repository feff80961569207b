package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"snapspend/internal/cloud"
	"snapspend/internal/core"
	"snapspend/internal/metrics"
	"snapspend/internal/storage"
)

// PushProcessorConfig holds configuration for the push processor
type PushProcessorConfig struct {
	// PollInterval is how often to check for pending items (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of items to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the maximum attempts before marking as failed (default: 5)
	MaxRetries int

	// BaseBackoff is the delay after the first failure, doubled per attempt (default: 2s)
	BaseBackoff time.Duration

	// MaxBackoff caps the retry delay (default: 5m)
	MaxBackoff time.Duration

	// CleanupInterval is how often to clean up completed items (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

// DefaultPushProcessorConfig returns sensible defaults
func DefaultPushProcessorConfig() PushProcessorConfig {
	return PushProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      5,
		BaseBackoff:     2 * time.Second,
		MaxBackoff:      5 * time.Minute,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// Push outcomes recorded in metrics.
const (
	pushOutcomeSuccess = "success"
	pushOutcomeSkipped = "skipped"
	pushOutcomeRetry   = "retry"
	pushOutcomeFailed  = "failed"
)

// errSkipped marks items that no longer apply, such as pushes for an
// unshared collection.
var errSkipped = errors.New("push no longer applies")

// PushProcessor drains the push outbox into the cloud replica. Items are
// resolved against the current local state when processed, so a burst of
// edits to one expense pushes its latest content.
type PushProcessor struct {
	storage  *storage.SQLiteRepository
	cloud    PushGateway
	identity core.Member
	config   PushProcessorConfig
	metrics  *metrics.Metrics

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// PushGateway is the part of the cloud replica the processor writes to.
type PushGateway interface {
	UpsertExpense(ctx context.Context, pin string, doc core.SharedExpenseDoc) error
	DeleteExpense(ctx context.Context, pin string, id string) error
	UpdateDetails(ctx context.Context, pin string, details core.CollectionDetails) error
}

// NewPushProcessor creates a new push processor
func NewPushProcessor(
	storage *storage.SQLiteRepository,
	gateway PushGateway,
	identity core.Member,
	config PushProcessorConfig,
	m *metrics.Metrics,
) *PushProcessor {
	return &PushProcessor{
		storage:  storage,
		cloud:    gateway,
		identity: identity,
		config:   config,
		metrics:  m,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *PushProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("push processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Reset any stale processing items from previous crashes
	if err := p.storage.ResetStaleProcessing(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale processing items", "error", err)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Push processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *PushProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Push processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Push processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *PushProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PushProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Process immediately on startup
	p.ProcessPending(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessPending(ctx)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

// ProcessPending processes one batch of due items and returns how many
// were handled.
func (p *PushProcessor) ProcessPending(ctx context.Context) int {
	items, err := p.storage.DequeuePushBatch(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue push batch", "error", err)
		return 0
	}

	if len(items) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Processing push batch", "count", len(items))

	handled := 0
	for _, item := range items {
		if p.stopping(ctx) {
			return handled
		}

		if err := p.storage.MarkPushProcessing(ctx, item.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark item as processing",
				"push_id", item.ID, "error", err)
			continue
		}

		err := p.process(ctx, item)
		switch {
		case err == nil:
			p.handleSuccess(ctx, item, pushOutcomeSuccess)
		case errors.Is(err, errSkipped):
			slog.InfoContext(ctx, "Skipping push",
				"push_id", item.ID,
				"operation", item.Operation,
				"reason", err)
			p.handleSuccess(ctx, item, pushOutcomeSkipped)
		default:
			p.handleFailure(ctx, item, err)
		}
		handled++
	}
	return handled
}

func (p *PushProcessor) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

func (p *PushProcessor) process(ctx context.Context, item storage.PushItem) error {
	c, err := p.storage.GetCollectionByPin(ctx, item.Pin)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: pin %s is no longer shared locally", errSkipped, item.Pin)
	}
	if err != nil {
		return fmt.Errorf("get collection by pin: %w", err)
	}

	switch item.Operation {
	case storage.PushUpsertExpense:
		return p.pushExpense(ctx, c, item)
	case storage.PushDeleteExpense:
		if err := p.cloud.DeleteExpense(ctx, item.Pin, item.CloudID); err != nil {
			return fmt.Errorf("delete expense %s: %w", item.CloudID, err)
		}
		return nil
	case storage.PushUpdateDetails:
		if err := p.cloud.UpdateDetails(ctx, item.Pin, c.Details()); err != nil {
			return fmt.Errorf("update details: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation: %s", item.Operation)
	}
}

// pushExpense uploads the current row for item.CloudID.
func (p *PushProcessor) pushExpense(ctx context.Context, c core.Collection, item storage.PushItem) error {
	e, err := p.storage.GetExpenseByCloudID(ctx, item.CloudID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: expense %s was deleted", errSkipped, item.CloudID)
	}
	if err != nil {
		return fmt.Errorf("get expense %s: %w", item.CloudID, err)
	}
	if e.CollectionName != c.Name {
		return fmt.Errorf("%w: expense %s moved to %q", errSkipped, item.CloudID, e.CollectionName)
	}

	doc := core.SharedExpenseFromLocal(e, p.identity)
	if err := p.cloud.UpsertExpense(ctx, item.Pin, doc); err != nil {
		return fmt.Errorf("upsert expense %s: %w", doc.ID, err)
	}

	slog.InfoContext(ctx, "Pushed expense",
		"push_id", item.ID,
		"cloud_id", doc.ID,
		"pin", item.Pin)
	return nil
}

func (p *PushProcessor) handleSuccess(ctx context.Context, item storage.PushItem, outcome string) {
	p.metrics.PushItem(item.Operation, outcome)
	if err := p.storage.MarkPushComplete(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark push complete",
			"push_id", item.ID, "error", err)
	}
}

// handleFailure retries with exponential backoff until MaxRetries. A
// document missing in the cloud is not retried.
func (p *PushProcessor) handleFailure(ctx context.Context, item storage.PushItem, processErr error) {
	slog.WarnContext(ctx, "Push failed",
		"push_id", item.ID,
		"operation", item.Operation,
		"attempt", item.Attempts+1,
		"error", processErr)

	if item.Attempts+1 >= p.config.MaxRetries || errors.Is(processErr, cloud.ErrNotFound) {
		p.metrics.PushItem(item.Operation, pushOutcomeFailed)
		if err := p.storage.MarkPushFailed(ctx, item.ID, processErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark push as failed",
				"push_id", item.ID, "error", err)
		}
		slog.ErrorContext(ctx, "Push failed permanently",
			"push_id", item.ID,
			"pin", item.Pin,
			"cloud_id", item.CloudID,
			"attempts", item.Attempts+1)
		return
	}

	p.metrics.PushItem(item.Operation, pushOutcomeRetry)
	next := time.Now().Add(p.backoff(item.Attempts))
	if err := p.storage.IncrementPushAttempt(ctx, item.ID, processErr.Error(), next); err != nil {
		slog.ErrorContext(ctx, "Failed to increment push attempt",
			"push_id", item.ID, "error", err)
	}
}

func (p *PushProcessor) backoff(attempts int) time.Duration {
	d := p.config.BaseBackoff
	for i := 0; i < attempts && d < p.config.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.config.MaxBackoff {
		d = p.config.MaxBackoff
	}
	return d
}

// cleanupCompleted removes old completed items
func (p *PushProcessor) cleanupCompleted(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupAge)
	if err := p.storage.CleanupCompletedPushes(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed pushes", "error", err)
	}
}

// Stats returns current queue statistics
func (p *PushProcessor) Stats(ctx context.Context) (storage.PushQueueStats, error) {
	return p.storage.PushQueueStats(ctx)
}

// RetryFailed resets all failed items for retry
func (p *PushProcessor) RetryFailed(ctx context.Context) error {
	return p.storage.RetryFailedPushes(ctx)
}
