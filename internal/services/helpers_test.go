package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"snapspend/internal/core"
	"snapspend/internal/storage"
)

var owner = core.Member{UserID: "u-owner", DisplayName: "Owner"}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func insertCollection(t *testing.T, repo *storage.SQLiteRepository, name, pin string) core.Collection {
	t.Helper()
	c := core.NewCollection(name)
	if pin != "" {
		c.SharePin = core.StringPtr(pin)
	}
	inserted, err := repo.InsertCollection(context.Background(), c)
	require.NoError(t, err)
	require.True(t, inserted)
	return c
}

func pendingPushes(t *testing.T, repo *storage.SQLiteRepository) []storage.PushItem {
	t.Helper()
	items, err := repo.DequeuePushBatch(context.Background(), 100)
	require.NoError(t, err)
	return items
}

type fakeJobs struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (f *fakeJobs) EnqueueEnrichment(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.err
}

type countingTrigger struct{ calls int }

func (c *countingTrigger) Check(context.Context) error {
	c.calls++
	return nil
}
