package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapspend/internal/amqp"
	"snapspend/internal/core"
	"snapspend/internal/enrich"
	"snapspend/internal/storage"
)

type fakeEnricher struct {
	mu        sync.Mutex
	processed []int64
	errs      map[int64]error
}

func (f *fakeEnricher) Process(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	return f.errs[id]
}

type countingTrigger struct {
	calls int
	err   error
}

func (c *countingTrigger) Check(context.Context) error {
	c.calls++
	return c.err
}

func TestJobWorker_Handle(t *testing.T) {
	retryErr := fmt.Errorf("%w: no fix", enrich.ErrRetryable)
	goneErr := fmt.Errorf("get expense 7: %w", core.ErrNotFound)

	tests := []struct {
		name          string
		msg           amqp.JobMessage
		enrichErr     error
		budgetErr     error
		wantErr       bool
		wantPermanent bool
		wantChecks    int
	}{
		{name: "enrichment ok", msg: amqp.NewEnrichmentMessage(7)},
		{name: "enrichment retryable", msg: amqp.NewEnrichmentMessage(7), enrichErr: retryErr, wantErr: true},
		{name: "enrichment permanent", msg: amqp.NewEnrichmentMessage(7), enrichErr: goneErr, wantErr: true, wantPermanent: true},
		{name: "budget check", msg: amqp.NewBudgetCheckMessage(), wantChecks: 1},
		{name: "budget check failure is retried", msg: amqp.NewBudgetCheckMessage(), budgetErr: errors.New("db locked"), wantErr: true, wantChecks: 1},
		{name: "unknown type", msg: amqp.JobMessage{Type: "reindex"}, wantErr: true, wantPermanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enricher := &fakeEnricher{errs: map[int64]error{7: tt.enrichErr}}
			trigger := &countingTrigger{err: tt.budgetErr}
			w := NewJobWorker(nil, enricher, trigger, 10)

			err := w.Handle(context.Background(), tt.msg)
			if !tt.wantErr {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantPermanent, errors.Is(err, amqp.ErrPermanent))
			}
			assert.Equal(t, tt.wantChecks, trigger.calls)
		})
	}
}

func TestJobWorker_ProcessPendingEnrichment(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	now := time.Now().UnixMilli()
	pending := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := repo.InsertExpense(ctx, core.Expense{
			Amount:          decimal.NewFromInt(int64(i + 1)),
			CollectionName:  "Food",
			Timestamp:       now,
			PendingLocation: true,
		})
		require.NoError(t, err)
		pending = append(pending, id)
	}
	// Pulled rows are never enriched locally.
	_, err = repo.InsertExpense(ctx, core.Expense{
		Amount:         decimal.NewFromInt(9),
		CollectionName: "Food",
		Timestamp:      now,
		CloudID:        core.StringPtr("remote-1"),
	})
	require.NoError(t, err)

	enricher := &fakeEnricher{errs: map[int64]error{pending[1]: errors.New("boom")}}
	w := NewJobWorker(repo, enricher, &countingTrigger{}, 10)

	require.NoError(t, w.ProcessPendingEnrichment(ctx))
	assert.ElementsMatch(t, pending, enricher.processed)

	require.NoError(t, w.StartupCheck(ctx))
	assert.Len(t, enricher.processed, 6)
}

func TestJobWorker_StartupCheckNothingPending(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	enricher := &fakeEnricher{}
	w := NewJobWorker(repo, enricher, &countingTrigger{}, 0)
	require.NoError(t, w.StartupCheck(context.Background()))
	assert.Empty(t, enricher.processed)
}
