package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"snapspend/internal/core"
)

const collectionColumns = "name, budget, icon_name, color_hex, share_pin"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (core.Collection, error) {
	var (
		c      core.Collection
		budget string
		pin    sql.NullString
	)
	if err := row.Scan(&c.Name, &budget, &c.IconName, &c.ColorHex, &pin); err != nil {
		return core.Collection{}, err
	}
	b, err := decimal.NewFromString(budget)
	if err != nil {
		return core.Collection{}, fmt.Errorf("parse budget of %q: %w", c.Name, err)
	}
	c.Budget = b
	c.SharePin = stringPtr(pin)
	return c, nil
}

// InsertCollection stores c unless a collection with the same name exists.
// It reports whether a row was written.
func (r *SQLiteRepository) InsertCollection(ctx context.Context, c core.Collection) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, budget, icon_name, color_hex, share_pin)
		 VALUES (?, ?, ?, ?, ?)`,
		c.Name, c.Budget.String(), c.IconName, c.ColorHex, nullString(c.SharePin))
	if err != nil {
		return false, fmt.Errorf("insert collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert collection: %w", err)
	}
	if n == 0 {
		slog.DebugContext(ctx, "Collection already exists", "collection", c.Name)
		return false, nil
	}

	slog.InfoContext(ctx, "Collection saved to SQLite", "collection", c.Name, "shared", c.IsShared())
	r.watch.publish(collectionsTopic)
	return true, nil
}

func (r *SQLiteRepository) GetCollection(ctx context.Context, name string) (core.Collection, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+collectionColumns+" FROM collections WHERE name = ?", name)
	c, err := scanCollection(row)
	if err != nil {
		return core.Collection{}, fmt.Errorf("get collection %q: %w", name, notFound(err))
	}
	return c, nil
}

func (r *SQLiteRepository) GetCollectionByPin(ctx context.Context, pin string) (core.Collection, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+collectionColumns+" FROM collections WHERE share_pin = ?", pin)
	c, err := scanCollection(row)
	if err != nil {
		return core.Collection{}, fmt.Errorf("get collection by pin: %w", notFound(err))
	}
	return c, nil
}

func (r *SQLiteRepository) ListCollections(ctx context.Context) ([]core.Collection, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+collectionColumns+" FROM collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []core.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return out, nil
}

// UpdateCollection overwrites budget, look and share pin of an existing collection.
func (r *SQLiteRepository) UpdateCollection(ctx context.Context, c core.Collection) error {
	if err := c.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE collections SET budget = ?, icon_name = ?, color_hex = ?, share_pin = ? WHERE name = ?`,
		c.Budget.String(), c.IconName, c.ColorHex, nullString(c.SharePin), c.Name)
	if err != nil {
		return fmt.Errorf("update collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update collection %q: %w", c.Name, ErrNotFound)
	}

	r.watch.publish(collectionsTopic)
	return nil
}

// DeleteCollection removes the collection and every expense filed under it.
func (r *SQLiteRepository) DeleteCollection(ctx context.Context, name string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE collection_name = ?", name); err != nil {
			return fmt.Errorf("delete collection expenses: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name)
		if err != nil {
			return fmt.Errorf("delete collection: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delete collection %q: %w", name, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Collection deleted", "collection", name)
	r.watch.publish(collectionsTopic, expensesTopic(name))
	return nil
}

// SharePinExists reports whether any local collection already uses pin.
func (r *SQLiteRepository) SharePinExists(ctx context.Context, pin string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM collections WHERE share_pin = ?", pin).Scan(&n); err != nil {
		return false, fmt.Errorf("check share pin: %w", err)
	}
	return n > 0, nil
}
