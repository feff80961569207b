package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapspend/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testExpense(collection, amount string, ts time.Time) core.Expense {
	return core.Expense{
		Amount:         decimal.RequireFromString(amount),
		CollectionName: collection,
		Timestamp:      ts.UnixMilli(),
	}
}

func TestCollections_InsertIgnoresDuplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := core.NewCollection("Food")
	c.Budget = decimal.RequireFromString("200")

	inserted, err := repo.InsertCollection(ctx, c)
	require.NoError(t, err)
	assert.True(t, inserted)

	c.Budget = decimal.RequireFromString("999")
	inserted, err = repo.InsertCollection(ctx, c)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.GetCollection(ctx, "Food")
	require.NoError(t, err)
	assert.True(t, got.Budget.Equal(decimal.RequireFromString("200")))
	assert.Equal(t, core.DefaultIconName, got.IconName)
	assert.Equal(t, core.DefaultColorHex, got.ColorHex)
	assert.Nil(t, got.SharePin)
}

func TestCollections_SharePin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := core.NewCollection("Trip")
	_, err := repo.InsertCollection(ctx, c)
	require.NoError(t, err)

	exists, err := repo.SharePinExists(ctx, "0123456789")
	require.NoError(t, err)
	assert.False(t, exists)

	c.SharePin = core.StringPtr("0123456789")
	require.NoError(t, repo.UpdateCollection(ctx, c))

	exists, err = repo.SharePinExists(ctx, "0123456789")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := repo.GetCollectionByPin(ctx, "0123456789")
	require.NoError(t, err)
	assert.Equal(t, "Trip", got.Name)

	_, err = repo.GetCollectionByPin(ctx, "9999999999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollections_DeleteRemovesExpenses(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	_, err := repo.InsertCollection(ctx, core.NewCollection("Food"))
	require.NoError(t, err)
	_, err = repo.InsertCollection(ctx, core.NewCollection("Fuel"))
	require.NoError(t, err)

	_, err = repo.InsertExpense(ctx, testExpense("Food", "10", now))
	require.NoError(t, err)
	fuelID, err := repo.InsertExpense(ctx, testExpense("Fuel", "40", now))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteCollection(ctx, "Food"))

	food, err := repo.ListExpensesByCollection(ctx, "Food")
	require.NoError(t, err)
	assert.Empty(t, food)

	_, err = repo.GetExpense(ctx, fuelID)
	assert.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteCollection(ctx, "Food"), ErrNotFound)
}

func TestExpenses_RoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := testExpense("Food", "12.50", time.Now())
	e.CloudID = core.StringPtr("cloud-1")
	e.PendingLocation = true

	id, err := repo.InsertExpense(ctx, e)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := repo.GetExpense(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(e.Amount))
	assert.Equal(t, "Food", got.CollectionName)
	assert.Equal(t, e.Timestamp, got.Timestamp)
	assert.Nil(t, got.Latitude)
	assert.Nil(t, got.LocationCategory)
	assert.True(t, got.PendingLocation)

	byCloud, err := repo.GetExpenseByCloudID(ctx, "cloud-1")
	require.NoError(t, err)
	assert.Equal(t, id, byCloud.ID)

	got.Latitude = core.Float64Ptr(45.46)
	got.Longitude = core.Float64Ptr(9.19)
	got.LocationCategory = core.StringPtr("Restaurant")
	got.PendingLocation = false
	require.NoError(t, repo.UpdateExpense(ctx, got))

	updated, err := repo.GetExpense(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, updated.Latitude)
	assert.InDelta(t, 45.46, *updated.Latitude, 1e-9)
	assert.Equal(t, "Restaurant", core.StringValue(updated.LocationCategory))
	assert.False(t, updated.PendingLocation)

	require.NoError(t, repo.DeleteExpense(ctx, id))
	_, err = repo.GetExpense(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpenses_RejectsInvalid(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.InsertExpense(ctx, testExpense("Food", "0", time.Now()))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = repo.InsertExpense(ctx, testExpense("", "1", time.Now()))
	assert.ErrorIs(t, err, core.ErrEmptyCollectionName)
}

func TestExpenses_DuplicateCloudIDRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := testExpense("Food", "1", time.Now())
	e.CloudID = core.StringPtr("dup")
	_, err := repo.InsertExpense(ctx, e)
	require.NoError(t, err)

	_, err = repo.InsertExpense(ctx, e)
	assert.Error(t, err)
}

func TestExpenses_ForMonthAndSum(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	march := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.Local)
	april := time.Date(2024, time.April, 2, 12, 0, 0, 0, time.Local)

	for _, e := range []core.Expense{
		testExpense("Food", "10.10", march),
		testExpense("Food", "5.05", march.Add(time.Hour)),
		testExpense("Fuel", "30", march),
		testExpense("Food", "99", april),
	} {
		_, err := repo.InsertExpense(ctx, e)
		require.NoError(t, err)
	}

	inMarch, err := repo.ListExpensesForMonth(ctx, "Food", 2024, time.March)
	require.NoError(t, err)
	assert.Len(t, inMarch, 2)

	start, end := core.MonthRange(2024, time.March, time.Local)
	food, err := repo.SumAmount(ctx, start, end, "Food")
	require.NoError(t, err)
	assert.Equal(t, "15.15", food.StringFixed(2))

	all, err := repo.SumAmount(ctx, start, end, "")
	require.NoError(t, err)
	assert.Equal(t, "45.15", all.StringFixed(2))

	none, err := repo.SumAmount(ctx, start, end, "Missing")
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestExpenses_MissingLocation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	pending := testExpense("Food", "1", now)
	pending.PendingLocation = true
	pendingID, err := repo.InsertExpense(ctx, pending)
	require.NoError(t, err)

	// Pulled from the cloud without location: not ours to enrich
	_, err = repo.InsertExpense(ctx, testExpense("Food", "2", now))
	require.NoError(t, err)

	located := testExpense("Food", "3", now)
	located.PendingLocation = true
	located.Latitude = core.Float64Ptr(1)
	located.Longitude = core.Float64Ptr(2)
	_, err = repo.InsertExpense(ctx, located)
	require.NoError(t, err)

	missing, err := repo.ListExpensesMissingLocation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, pendingID, missing[0].ID)
}

func TestShareCollectionLocally(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	_, err := repo.InsertCollection(ctx, core.NewCollection("Food"))
	require.NoError(t, err)
	withID := testExpense("Food", "1", now)
	withID.CloudID = core.StringPtr("keep-me")
	_, err = repo.InsertExpense(ctx, withID)
	require.NoError(t, err)
	_, err = repo.InsertExpense(ctx, testExpense("Food", "2", now))
	require.NoError(t, err)
	_, err = repo.InsertExpense(ctx, testExpense("Other", "3", now))
	require.NoError(t, err)

	all, err := repo.ShareCollectionLocally(ctx, "Food", "1234567890")
	require.NoError(t, err)
	require.Len(t, all, 2)

	ids := map[string]bool{}
	for _, e := range all {
		require.NotNil(t, e.CloudID)
		ids[*e.CloudID] = true
	}
	assert.True(t, ids["keep-me"])
	assert.Len(t, ids, 2)

	c, err := repo.GetCollection(ctx, "Food")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", c.Pin())

	other, err := repo.ListExpensesByCollection(ctx, "Other")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Nil(t, other[0].CloudID)

	_, err = repo.ShareCollectionLocally(ctx, "Food", "2222222222")
	assert.ErrorIs(t, err, core.ErrAlreadyShared)
	_, err = repo.ShareCollectionLocally(ctx, "Missing", "2222222222")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShareCollectionLocally_FailureKeepsCollectionUnshared(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.InsertCollection(ctx, core.NewCollection("Food"))
	require.NoError(t, err)
	_, err = repo.InsertExpense(ctx, testExpense("Food", "2", time.Now()))
	require.NoError(t, err)

	_, err = repo.db.ExecContext(ctx, `CREATE TRIGGER fail_cloud_id BEFORE UPDATE OF cloud_id ON expenses
		BEGIN SELECT RAISE(FAIL, 'disk full'); END`)
	require.NoError(t, err)

	_, err = repo.ShareCollectionLocally(ctx, "Food", "1234567890")
	require.Error(t, err)

	c, err := repo.GetCollection(ctx, "Food")
	require.NoError(t, err)
	assert.False(t, c.IsShared())

	expenses, err := repo.ListExpensesByCollection(ctx, "Food")
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Nil(t, expenses[0].CloudID)
}
