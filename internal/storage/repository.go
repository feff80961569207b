package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"snapspend/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = core.ErrNotFound

// DefaultChangePollInterval is how often live queries look for commits made
// through other connections to the same database file.
const DefaultChangePollInterval = time.Second

// SQLiteRepository is the local store. All writes go through a single
// connection so mutations are serialized.
type SQLiteRepository struct {
	db    *sql.DB
	watch *watchHub

	pollInterval time.Duration
	pollOnce     sync.Once
	pollCtx      context.Context
	pollCancel   context.CancelFunc
	pollDone     chan struct{}
}

// Option configures a SQLiteRepository.
type Option func(*SQLiteRepository)

// WithChangePollInterval overrides DefaultChangePollInterval.
func WithChangePollInterval(d time.Duration) Option {
	return func(r *SQLiteRepository) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	r := &SQLiteRepository{
		db:           db,
		watch:        newWatchHub(),
		pollInterval: DefaultChangePollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pollCtx, r.pollCancel = context.WithCancel(context.Background())
	return r, nil
}

func (r *SQLiteRepository) Close() error {
	r.pollCancel()
	// Keep a poller from starting after Close, then wait for a running one
	r.pollOnce.Do(func() {})
	if r.pollDone != nil {
		<-r.pollDone
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
