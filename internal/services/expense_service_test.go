package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapspend/internal/cloud/memory"
	"snapspend/internal/core"
	"snapspend/internal/storage"
	snapsync "snapspend/internal/sync"
)

func TestExpenseService_AddToSharedCollectionPushes(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	gateway := memory.New()
	insertCollection(t, repo, "Food", "1234567890")

	jobs := &fakeJobs{}
	trigger := &countingTrigger{}
	svc := NewExpenseService(repo, jobs, trigger)

	e, err := svc.AddExpense(ctx, "Food", decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	require.NotEmpty(t, core.StringValue(e.CloudID))
	assert.True(t, e.PendingLocation)
	assert.Equal(t, []int64{e.ID}, jobs.ids)
	assert.Equal(t, 1, trigger.calls)

	items := pendingPushes(t, repo)
	require.Len(t, items, 1)
	assert.Equal(t, storage.PushUpsertExpense, items[0].Operation)
	assert.Equal(t, "1234567890", items[0].Pin)
	assert.Equal(t, *e.CloudID, items[0].CloudID)

	processor := NewPushProcessor(repo, gateway, owner, DefaultPushProcessorConfig(), nil)
	assert.Equal(t, 1, processor.ProcessPending(ctx))

	doc, ok := gateway.Expense("1234567890", *e.CloudID)
	require.True(t, ok)
	assert.Equal(t, *e.CloudID, doc.ID)
	assert.True(t, doc.Amount.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, owner.UserID, doc.AdderUserID)
}

func TestExpenseService_AddToUnsharedCollection(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	insertCollection(t, repo, "Food", "")

	jobs := &fakeJobs{err: errors.New("broker down")}
	svc := NewExpenseService(repo, jobs, nil)

	e, err := svc.AddExpense(ctx, "Food", decimal.RequireFromString("3"))
	require.NoError(t, err, "queue failures do not fail the local write")
	assert.NotEmpty(t, core.StringValue(e.CloudID))
	assert.Empty(t, pendingPushes(t, repo))

	stored, err := repo.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("3")))
}

func TestExpenseService_AddValidation(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	insertCollection(t, repo, "Food", "")
	svc := NewExpenseService(repo, nil, nil)

	_, err := svc.AddExpense(ctx, "Missing", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.AddExpense(ctx, "Food", decimal.Zero)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestExpenseService_EditAndDeleteShared(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	gateway := memory.New()
	insertCollection(t, repo, "Food", "1234567890")
	svc := NewExpenseService(repo, nil, nil)
	processor := NewPushProcessor(repo, gateway, owner, DefaultPushProcessorConfig(), nil)

	e, err := svc.AddExpense(ctx, "Food", decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = svc.EditAmount(ctx, e.ID, decimal.NewFromInt(12))
	require.NoError(t, err)

	processor.ProcessPending(ctx)
	doc, ok := gateway.Expense("1234567890", *e.CloudID)
	require.True(t, ok)
	assert.True(t, doc.Amount.Equal(decimal.NewFromInt(12)))

	require.NoError(t, svc.DeleteExpense(ctx, e.ID))
	items := pendingPushes(t, repo)
	require.Len(t, items, 1)
	assert.Equal(t, storage.PushDeleteExpense, items[0].Operation)

	processor.ProcessPending(ctx)
	_, ok = gateway.Expense("1234567890", *e.CloudID)
	assert.False(t, ok)

	_, err = repo.GetExpense(ctx, e.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExpenseService_MoveOutOfSharedCollection(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	insertCollection(t, repo, "Trip", "1234567890")
	insertCollection(t, repo, "Home", "")
	svc := NewExpenseService(repo, nil, nil)

	e, err := svc.AddExpense(ctx, "Trip", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.NoError(t, repo.MarkPushComplete(ctx, pendingPushes(t, repo)[0].ID))

	e.CollectionName = "Home"
	require.NoError(t, svc.UpdateExpense(ctx, e))

	items := pendingPushes(t, repo)
	require.Len(t, items, 1)
	assert.Equal(t, storage.PushDeleteExpense, items[0].Operation)
	assert.Equal(t, "1234567890", items[0].Pin)
	assert.Equal(t, *e.CloudID, items[0].CloudID)
}

func TestExpenseService_DeleteUnknown(t *testing.T) {
	svc := NewExpenseService(newRepo(t), nil, nil)
	err := svc.DeleteExpense(context.Background(), 42)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExpenseService_PullBeforePushKeepsExpense(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	gateway := memory.New()
	insertCollection(t, repo, "Food", "1234567890")
	svc := NewExpenseService(repo, nil, nil)

	e, err := svc.AddExpense(ctx, "Food", decimal.RequireFromString("25.50"))
	require.NoError(t, err)

	// A snapshot without the new expense lands before the outbox drains
	res, err := snapsync.NewReconciler(repo, nil, nil).ApplyExpenses(ctx, "Food", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)

	processor := NewPushProcessor(repo, gateway, owner, DefaultPushProcessorConfig(), nil)
	assert.Equal(t, 1, processor.ProcessPending(ctx))

	_, err = repo.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	doc, ok := gateway.Expense("1234567890", *e.CloudID)
	require.True(t, ok)
	assert.True(t, doc.Amount.Equal(decimal.RequireFromString("25.50")))
}
