package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Registry stores known sick records. object_id carries a UNIQUE
// constraint, so a duplicate insert is a no-op regardless of whether the
// caller checked Exists first.
type Registry struct {
	engine *Engine
	logger *slog.Logger
}

// NewRegistry returns a Registry on engine. A nil logger uses slog.Default().
func NewRegistry(engine *Engine, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{engine: engine, logger: logger}
}

// ListAll returns every sick record in insertion order. Rows that fail to
// scan are logged and skipped.
func (r *Registry) ListAll(ctx context.Context) ([]SickRecord, error) {
	db, err := r.engine.Acquire(ctx)
	if err != nil {
		return []SickRecord{}, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT object_id, name, place, comments, from_time, to_time, long, lat
		FROM intersecting_sick ORDER BY id`)
	if err != nil {
		return []SickRecord{}, queryFailed("list sick records", err)
	}
	defer rows.Close()

	records := []SickRecord{}
	for rows.Next() {
		var rec SickRecord
		if err := rows.Scan(
			&rec.ObjectID, &rec.Name, &rec.Place, &rec.Comments,
			&rec.FromTime, &rec.ToTime, &rec.Long, &rec.Lat,
		); err != nil {
			r.logger.Warn("skipping malformed sick record row", "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return records, queryFailed("list sick records", err)
	}

	return records, nil
}

// Exists reports whether a record with objectID is already registered.
func (r *Registry) Exists(ctx context.Context, objectID string) (bool, error) {
	db, err := r.engine.Acquire(ctx)
	if err != nil {
		return false, err
	}
	ok, err := exists(ctx, db, objectID)
	if err != nil {
		return false, queryFailed("check sick record", err)
	}
	return ok, nil
}

// Insert adds rec and reports whether a row was written. A record whose
// objectID is already present is left untouched.
func (r *Registry) Insert(ctx context.Context, rec SickRecord) (bool, error) {
	var added bool
	err := r.engine.withTx(ctx, "insert sick record", func(tx *sql.Tx) error {
		var err error
		added, err = insertSick(ctx, tx, rec)
		return err
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// Merge inserts every record whose objectID is not yet registered, in one
// transaction, and returns how many were added.
func (r *Registry) Merge(ctx context.Context, recs []SickRecord) (int, error) {
	added := 0
	err := r.engine.withTx(ctx, "merge sick records", func(tx *sql.Tx) error {
		for _, rec := range recs {
			ok, err := exists(ctx, tx, rec.ObjectID)
			if err != nil {
				return fmt.Errorf("check %s: %w", rec.ObjectID, err)
			}
			if ok {
				continue
			}
			ok, err = insertSick(ctx, tx, rec)
			if err != nil {
				return err
			}
			if ok {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Count returns the number of registered sick records.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	db, err := r.engine.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intersecting_sick`).Scan(&n); err != nil {
		return 0, queryFailed("count sick records", err)
	}
	return n, nil
}

// DeleteAll wipes the registry. This is an administrative reset.
func (r *Registry) DeleteAll(ctx context.Context) (int64, error) {
	var n int64
	err := r.engine.withTx(ctx, "delete sick records", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM intersecting_sick`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func exists(ctx context.Context, q queryer, objectID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM intersecting_sick WHERE object_id = ?`, objectID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertSick(ctx context.Context, tx *sql.Tx, rec SickRecord) (bool, error) {
	if rec.ObjectID == "" {
		return false, fmt.Errorf("sick record has empty object id")
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO intersecting_sick (object_id, name, place, comments, from_time, to_time, long, lat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_id) DO NOTHING`,
		rec.ObjectID, rec.Name, rec.Place, rec.Comments,
		rec.FromTime, rec.ToTime, rec.Long, rec.Lat,
	)
	if err != nil {
		return false, fmt.Errorf("insert sick record %s: %w", rec.ObjectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
