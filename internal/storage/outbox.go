package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Push operations recorded in the outbox.
const (
	PushUpsertExpense = "upsert_expense"
	PushDeleteExpense = "delete_expense"
	PushUpdateDetails = "update_details"
)

// Outbox item states.
const (
	PushStatusPending    = "pending"
	PushStatusProcessing = "processing"
	PushStatusCompleted  = "completed"
	PushStatusFailed     = "failed"
)

// PushItem is one pending cloud write. CloudID is set for expense operations.
type PushItem struct {
	ID             int64
	Operation      string
	Pin            string
	CollectionName string
	CloudID        string
	Status         string
	Attempts       int
	LastError      string
	NextAttemptAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PushQueueStats counts outbox items per state.
type PushQueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

// EnqueuePush records a cloud write to be performed by the push processor.
func (r *SQLiteRepository) EnqueuePush(ctx context.Context, item PushItem) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO push_queue (operation, pin, collection_name, cloud_id, status, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		item.Operation, item.Pin, item.CollectionName, nullString(optional(item.CloudID)),
		PushStatusPending, now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue push: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue push: %w", err)
	}

	slog.DebugContext(ctx, "Push enqueued",
		"id", id,
		"operation", item.Operation,
		"pin", item.Pin,
		"cloud_id", item.CloudID)
	return id, nil
}

// DequeuePushBatch returns up to limit pending items whose retry time has come, oldest first.
func (r *SQLiteRepository) DequeuePushBatch(ctx context.Context, limit int) ([]PushItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, operation, pin, collection_name, cloud_id, status, attempts, last_error,
			next_attempt_at, created_at, updated_at
		 FROM push_queue
		 WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY id LIMIT ?`,
		PushStatusPending, time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue push batch: %w", err)
	}
	defer rows.Close()

	var items []PushItem
	for rows.Next() {
		var (
			it                       PushItem
			cloudID, lastErr         sql.NullString
			nextAt, created, updated int64
		)
		if err := rows.Scan(&it.ID, &it.Operation, &it.Pin, &it.CollectionName, &cloudID,
			&it.Status, &it.Attempts, &lastErr, &nextAt, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan push item: %w", err)
		}
		it.CloudID = cloudID.String
		it.LastError = lastErr.String
		it.NextAttemptAt = time.UnixMilli(nextAt)
		it.CreatedAt = time.UnixMilli(created)
		it.UpdatedAt = time.UnixMilli(updated)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dequeue push batch: %w", err)
	}
	return items, nil
}

// PendingExpensePushes maps the cloud ids of collection that still have an
// unsent expense push to the operation of the latest such push.
func (r *SQLiteRepository) PendingExpensePushes(ctx context.Context, collection string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT cloud_id, operation
		 FROM push_queue
		 WHERE collection_name = ? AND cloud_id IS NOT NULL
			AND status IN (?, ?) AND operation IN (?, ?)
		 ORDER BY id`,
		collection, PushStatusPending, PushStatusProcessing, PushUpsertExpense, PushDeleteExpense)
	if err != nil {
		return nil, fmt.Errorf("pending expense pushes: %w", err)
	}
	defer rows.Close()

	pending := make(map[string]string)
	for rows.Next() {
		var cloudID, op string
		if err := rows.Scan(&cloudID, &op); err != nil {
			return nil, fmt.Errorf("scan pending push: %w", err)
		}
		pending[cloudID] = op
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending expense pushes: %w", err)
	}
	return pending, nil
}

func (r *SQLiteRepository) setPushStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE push_queue SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UnixMilli(), id)
	return err
}

func (r *SQLiteRepository) MarkPushProcessing(ctx context.Context, id int64) error {
	if err := r.setPushStatus(ctx, id, PushStatusProcessing); err != nil {
		return fmt.Errorf("mark push processing: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkPushComplete(ctx context.Context, id int64) error {
	if err := r.setPushStatus(ctx, id, PushStatusCompleted); err != nil {
		return fmt.Errorf("mark push complete: %w", err)
	}
	return nil
}

// IncrementPushAttempt records a failed attempt and puts the item back in
// the queue until nextAttemptAt.
func (r *SQLiteRepository) IncrementPushAttempt(ctx context.Context, id int64, lastErr string, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE push_queue SET status = ?, attempts = attempts + 1, last_error = ?,
			next_attempt_at = ?, updated_at = ?
		 WHERE id = ?`,
		PushStatusPending, lastErr, nextAttemptAt.UnixMilli(), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("increment push attempt: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkPushFailed(ctx context.Context, id int64, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE push_queue SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		PushStatusFailed, lastErr, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark push failed: %w", err)
	}
	return nil
}

// ResetStaleProcessing returns items left in processing by a crash to pending.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE push_queue SET status = ?, updated_at = ? WHERE status = ?",
		PushStatusPending, time.Now().UnixMilli(), PushStatusProcessing)
	if err != nil {
		return fmt.Errorf("reset stale processing: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.InfoContext(ctx, "Reset stale push items", "count", n)
	}
	return nil
}

// CleanupCompletedPushes deletes completed items last touched before cutoff.
func (r *SQLiteRepository) CleanupCompletedPushes(ctx context.Context, before time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM push_queue WHERE status = ? AND updated_at < ?",
		PushStatusCompleted, before.UnixMilli())
	if err != nil {
		return fmt.Errorf("cleanup completed pushes: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PushQueueStats(ctx context.Context) (PushQueueStats, error) {
	var s PushQueueStats
	err := r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		 FROM push_queue`).Scan(&s.Pending, &s.Processing, &s.Completed, &s.Failed)
	if err != nil {
		return PushQueueStats{}, fmt.Errorf("push queue stats: %w", err)
	}
	return s, nil
}

// RetryFailedPushes moves failed items back to pending with a fresh attempt count.
func (r *SQLiteRepository) RetryFailedPushes(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE push_queue SET status = ?, attempts = 0, next_attempt_at = 0, updated_at = ?
		 WHERE status = ?`,
		PushStatusPending, time.Now().UnixMilli(), PushStatusFailed)
	if err != nil {
		return fmt.Errorf("retry failed pushes: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
