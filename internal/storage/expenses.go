package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"snapspend/internal/core"
)

const expenseColumns = `id, amount, collection_name, timestamp, latitude, longitude,
	location_category, cloud_id, pending_location`

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e        core.Expense
		amount   string
		lat, lng sql.NullFloat64
		category sql.NullString
		cloudID  sql.NullString
		pending  int
	)
	if err := row.Scan(&e.ID, &amount, &e.CollectionName, &e.Timestamp,
		&lat, &lng, &category, &cloudID, &pending); err != nil {
		return core.Expense{}, err
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse amount of expense %d: %w", e.ID, err)
	}
	e.Amount = a
	e.Latitude = floatPtr(lat)
	e.Longitude = floatPtr(lng)
	e.LocationCategory = stringPtr(category)
	e.CloudID = stringPtr(cloudID)
	e.PendingLocation = pending != 0
	return e, nil
}

func queryExpenses(ctx context.Context, q queryer, query string, args ...any) ([]core.Expense, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// InsertExpense stores e and returns the generated local id.
func (r *SQLiteRepository) InsertExpense(ctx context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (amount, collection_name, timestamp, latitude, longitude,
			location_category, cloud_id, pending_location)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Amount.String(), e.CollectionName, e.Timestamp,
		nullFloat(e.Latitude), nullFloat(e.Longitude),
		nullString(e.LocationCategory), nullString(e.CloudID), boolToInt(e.PendingLocation))
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", id,
		"collection", e.CollectionName,
		"amount", e.Amount.String(),
		"cloud_id", core.StringValue(e.CloudID))

	r.watch.publish(expensesTopic(e.CollectionName))
	return id, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id)
	e, err := scanExpense(row)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, notFound(err))
	}
	return e, nil
}

func (r *SQLiteRepository) GetExpenseByCloudID(ctx context.Context, cloudID string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE cloud_id = ?", cloudID)
	e, err := scanExpense(row)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by cloud id %s: %w", cloudID, notFound(err))
	}
	return e, nil
}

// UpdateExpense overwrites every mutable column of the row with e.ID.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	var previous string
	if err := r.db.QueryRowContext(ctx,
		"SELECT collection_name FROM expenses WHERE id = ?", e.ID).Scan(&previous); err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, notFound(err))
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET amount = ?, collection_name = ?, timestamp = ?, latitude = ?,
			longitude = ?, location_category = ?, cloud_id = ?, pending_location = ?
		 WHERE id = ?`,
		e.Amount.String(), e.CollectionName, e.Timestamp,
		nullFloat(e.Latitude), nullFloat(e.Longitude),
		nullString(e.LocationCategory), nullString(e.CloudID), boolToInt(e.PendingLocation),
		e.ID)
	if err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, err)
	}

	r.watch.publish(expensesTopic(previous), expensesTopic(e.CollectionName))
	return nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) error {
	var collection string
	if err := r.db.QueryRowContext(ctx,
		"SELECT collection_name FROM expenses WHERE id = ?", id).Scan(&collection); err != nil {
		return fmt.Errorf("delete expense %d: %w", id, notFound(err))
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}

	slog.DebugContext(ctx, "Expense deleted from SQLite", "id", id, "collection", collection)
	r.watch.publish(expensesTopic(collection))
	return nil
}

// ListExpensesByCollection returns every expense of the collection, newest first.
func (r *SQLiteRepository) ListExpensesByCollection(ctx context.Context, collection string) ([]core.Expense, error) {
	out, err := queryExpenses(ctx, r.db,
		"SELECT "+expenseColumns+" FROM expenses WHERE collection_name = ? ORDER BY timestamp DESC, id DESC",
		collection)
	if err != nil {
		return nil, fmt.Errorf("list expenses of %q: %w", collection, err)
	}
	return out, nil
}

// ListExpensesForMonth returns the expenses of the collection inside the
// given calendar month in local time.
func (r *SQLiteRepository) ListExpensesForMonth(ctx context.Context, collection string, year int, month time.Month) ([]core.Expense, error) {
	start, end := core.MonthRange(year, month, time.Local)
	out, err := queryExpenses(ctx, r.db,
		`SELECT `+expenseColumns+` FROM expenses
		 WHERE collection_name = ? AND timestamp >= ? AND timestamp < ?
		 ORDER BY timestamp DESC, id DESC`,
		collection, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list expenses of %q for %d-%02d: %w", collection, year, month, err)
	}
	return out, nil
}

// ListExpensesMissingLocation returns locally created expenses still waiting
// for enrichment, oldest first.
func (r *SQLiteRepository) ListExpensesMissingLocation(ctx context.Context, limit int) ([]core.Expense, error) {
	out, err := queryExpenses(ctx, r.db,
		`SELECT `+expenseColumns+` FROM expenses
		 WHERE pending_location = 1 AND latitude IS NULL
		 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list expenses missing location: %w", err)
	}
	return out, nil
}

// SumAmount totals the amounts with timestamps in [start, end). An empty
// collection sums across all collections.
func (r *SQLiteRepository) SumAmount(ctx context.Context, start, end time.Time, collection string) (decimal.Decimal, error) {
	query := "SELECT amount FROM expenses WHERE timestamp >= ? AND timestamp < ?"
	args := []any{start.UnixMilli(), end.UnixMilli()}
	if collection != "" {
		query += " AND collection_name = ?"
		args = append(args, collection)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		a, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		total = total.Add(a)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("sum amounts: %w", err)
	}
	return total, nil
}

// ShareCollectionLocally stores pin on the unshared collection and gives
// every expense of it without a cloud id a fresh one, in one transaction.
// It returns all expenses of the collection.
func (r *SQLiteRepository) ShareCollectionLocally(ctx context.Context, collection, pin string) ([]core.Expense, error) {
	var out []core.Expense
	assigned := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var current sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT share_pin FROM collections WHERE name = ?", collection).Scan(&current)
		if err != nil {
			return fmt.Errorf("get collection %q: %w", collection, notFound(err))
		}
		if current.Valid {
			return fmt.Errorf("%q: %w", collection, core.ErrAlreadyShared)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE collections SET share_pin = ? WHERE name = ?", pin, collection); err != nil {
			return fmt.Errorf("store share pin: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			"SELECT id FROM expenses WHERE collection_name = ? AND cloud_id IS NULL", collection)
		if err != nil {
			return fmt.Errorf("select expenses without cloud id: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan expense id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("select expenses without cloud id: %w", err)
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"UPDATE expenses SET cloud_id = ? WHERE id = ?", core.NewCloudID(), id); err != nil {
				return fmt.Errorf("assign cloud id to expense %d: %w", id, err)
			}
		}
		assigned = len(ids)

		out, err = queryExpenses(ctx, tx,
			"SELECT "+expenseColumns+" FROM expenses WHERE collection_name = ? ORDER BY id", collection)
		if err != nil {
			return fmt.Errorf("list expenses of %q: %w", collection, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Collection shared locally", "collection", collection, "assigned_cloud_ids", assigned)
	r.watch.publish(collectionsTopic, expensesTopic(collection))
	return out, nil
}
