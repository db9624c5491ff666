package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Engine hands out the process-wide SQLite handle. The handle is opened on
// first use and reopened if a later ping fails, so callers never manage
// its lifecycle.
type Engine struct {
	path          string
	busyTimeoutMS int

	mu sync.Mutex
	db *sql.DB
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(ms int) EngineOption {
	return func(e *Engine) {
		e.busyTimeoutMS = ms
	}
}

// NewEngine returns an Engine for the database at path. Nothing is opened
// until Acquire is called. Use ":memory:" for a throwaway database.
func NewEngine(path string, opts ...EngineOption) *Engine {
	e := &Engine{path: path, busyTimeoutMS: 5000}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Path returns the database path the engine opens.
func (e *Engine) Path() string {
	return e.path
}

// Acquire returns an open, migrated handle. Failures are EngineUnavailable;
// callers treat them as "skipped this cycle" and retry on the next trigger.
func (e *Engine) Acquire(ctx context.Context) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		if err := e.db.PingContext(ctx); err == nil {
			return e.db, nil
		}
		e.db.Close()
		e.db = nil
	}

	db, err := e.open(ctx)
	if err != nil {
		return nil, unavailable("acquire", err)
	}
	e.db = db
	return db, nil
}

// Close releases the handle. A later Acquire reopens it.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func (e *Engine) open(ctx context.Context) (*sql.DB, error) {
	if e.path != ":memory:" && !strings.HasPrefix(e.path, "file:") {
		if err := os.MkdirAll(filepath.Dir(e.path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", e.dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory
	// database is private to its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := NewMigrationRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// dsn builds the go-sqlite3 connection string. _txlock=immediate takes the
// write lock at BEGIN so read-then-write transactions cannot interleave.
func (e *Engine) dsn() string {
	sep := "?"
	if strings.Contains(e.path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
		e.path, sep, e.busyTimeoutMS)
}

// withTx runs fn inside a transaction on the engine's handle and commits it.
func (e *Engine) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	db, err := e.Acquire(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return queryFailed(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		if KindOf(err) != "" {
			return err
		}
		return queryFailed(op, err)
	}

	if err := tx.Commit(); err != nil {
		return queryFailed(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// databaseSize returns the on-disk size, falling back to page_count * page_size.
func (e *Engine) databaseSize(ctx context.Context, db *sql.DB) int64 {
	if info, err := os.Stat(e.path); err == nil {
		return info.Size()
	}

	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}
