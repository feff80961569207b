package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"snapspend/internal/core"
)

func receiveWithin[T any](t *testing.T, ch <-chan T, d time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(d):
		t.Fatal("timed out waiting for emission")
	}
	var zero T
	return zero
}

func TestWatchCollections_EmitsInitialAndChanges(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := repo.WatchCollections(ctx)
	require.Empty(t, receiveWithin(t, ch, time.Second))

	_, err := repo.InsertCollection(ctx, core.NewCollection("Food"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case list := <-ch:
			return len(list) == 1 && list[0].Name == "Food"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchExpenses_ScopedToCollection(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := repo.WatchExpenses(ctx, "Food")
	require.Empty(t, receiveWithin(t, ch, time.Second))

	_, err := repo.InsertExpense(ctx, testExpense("Food", "4.20", time.Now()))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case list := <-ch:
			return len(list) == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_ClosesOnCancel(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch := repo.WatchCollections(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchCollections_SeesOtherConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	watcher, err := NewSQLiteRepository(path, WithChangePollInterval(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Close() })
	writer, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := watcher.WatchCollections(ctx)
	require.Empty(t, receiveWithin(t, ch, time.Second))

	shared := core.NewCollection("Food")
	shared.SharePin = core.StringPtr("1234567890")
	_, err = writer.InsertCollection(ctx, shared)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case list := <-ch:
			return len(list) == 1 && list[0].Pin() == "1234567890"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_StopsChangePoller(t *testing.T) {
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "close.db"), WithChangePollInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo.WatchCollections(ctx)

	done := make(chan error, 1)
	go func() { done <- repo.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
