package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MetaStore keeps small durable key/value state, such as the pending
// location fix and the last retention run, that must survive the process
// being killed between background wake-ups.
type MetaStore struct {
	engine *Engine
}

// NewMetaStore returns a MetaStore on engine.
func NewMetaStore(engine *Engine) *MetaStore {
	return &MetaStore{engine: engine}
}

// Get returns the value stored under key and whether it was present.
func (m *MetaStore) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := m.engine.Acquire(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok, err := getMeta(ctx, db, key)
	if err != nil {
		return "", false, queryFailed("get meta", err)
	}
	return v, ok, nil
}

// Set stores value under key, replacing any previous value.
func (m *MetaStore) Set(ctx context.Context, key, value string) error {
	return m.engine.withTx(ctx, "set meta", func(tx *sql.Tx) error {
		return setMeta(ctx, tx, key, value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MetaStore) Delete(ctx context.Context, key string) error {
	return m.engine.withTx(ctx, "delete meta", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, key)
		return err
	})
}

// Take returns and deletes the value under key in one transaction, so two
// concurrent wake-ups cannot both consume it.
func (m *MetaStore) Take(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := m.engine.withTx(ctx, "take meta", func(tx *sql.Tx) error {
		var err error
		value, ok, err = getMeta(ctx, tx, key)
		if err != nil || !ok {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return value, ok, nil
}

func getMeta(ctx context.Context, q queryer, key string) (string, bool, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func setMeta(ctx context.Context, e execer, key, value string) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

func getFlag(ctx context.Context, q queryer, key string) (bool, error) {
	v, ok, err := getMeta(ctx, q, key)
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}
