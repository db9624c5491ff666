package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

const sampleColumns = `id, lat, long, accuracy, start_time, end_time, geo_hash, wifi_hash, hash`

// metaUTCMigrated is the meta key recording that the one-time timezone
// correction has been applied to the samples table.
const metaUTCMigrated = "utc_migrated"

// SampleRepository stores location samples.
type SampleRepository struct {
	engine    *Engine
	logger    *slog.Logger
	batchRows int
}

// NewSampleRepository returns a repository on engine. A nil logger uses slog.Default().
func NewSampleRepository(engine *Engine, logger *slog.Logger) *SampleRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SampleRepository{engine: engine, logger: logger, batchRows: DefaultBatchRows}
}

// SetBatchRows overrides how many rows go into one bulk INSERT statement.
// Values that would exceed the parameter ceiling are clamped.
func (r *SampleRepository) SetBatchRows(n int) {
	switch {
	case n <= 0:
		n = DefaultBatchRows
	case n*SampleFields > maxBulkParams:
		n = maxBulkParams / SampleFields
	}
	r.batchRows = n
}

// ListAll returns every sample in insertion order. Rows that fail to scan
// are logged and skipped rather than failing the whole read.
func (r *SampleRepository) ListAll(ctx context.Context) ([]Sample, error) {
	db, err := r.engine.Acquire(ctx)
	if err != nil {
		return []Sample{}, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY id`)
	if err != nil {
		return []Sample{}, queryFailed("list samples", err)
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			r.logger.Warn("skipping malformed sample row", "error", err)
			continue
		}
		samples = append(samples, *s)
	}
	if err := rows.Err(); err != nil {
		return samples, queryFailed("list samples", err)
	}

	return samples, nil
}

// Append inserts s as a new row and sets s.ID. It never merges with an
// existing row. Inserting a second open sample fails with a constraint error.
func (r *SampleRepository) Append(ctx context.Context, s *Sample) error {
	return r.engine.withTx(ctx, "append sample", func(tx *sql.Tx) error {
		return insertSample(ctx, tx, s)
	})
}

// LastSample returns the most recently inserted sample, or nil if the table is empty.
func (r *SampleRepository) LastSample(ctx context.Context) (*Sample, error) {
	db, err := r.engine.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	s, err := lastSample(ctx, db)
	if err != nil {
		return nil, queryFailed("last sample", err)
	}
	return s, nil
}

// CloseLastOpenSample sets endTime on the most recently inserted row and
// returns it. The read and the update share one transaction. Returns nil
// when the table is empty or the newest row is already closed, so a row's
// end time is only ever written once.
func (r *SampleRepository) CloseLastOpenSample(ctx context.Context, endTime int64) (*Sample, error) {
	var closed *Sample
	err := r.engine.withTx(ctx, "close last sample", func(tx *sql.Tx) error {
		last, err := lastSample(ctx, tx)
		if err != nil {
			return fmt.Errorf("select last sample: %w", err)
		}
		if last == nil || !last.IsOpen() {
			return nil
		}
		if err := closeOpen(ctx, tx, last.ID, endTime); err != nil {
			return err
		}
		last.EndTime = Millis(endTime)
		closed = last
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// Step is the write a location event makes once it has seen the newest
// sample. Close requires the newest sample to be open; Open is appended
// after any close.
type Step struct {
	Close   bool
	EndTime int64
	Open    *Sample
}

// Advance reads the newest sample, asks decide what to do with it and
// applies the resulting Step, all in one immediate transaction. No other
// writer, in this process or another, can change the newest sample between
// the read and the write. decide receives nil on an empty table. Advance
// returns the sample the step closed, nil if it closed none.
func (r *SampleRepository) Advance(ctx context.Context, decide func(last *Sample) Step) (*Sample, error) {
	var closed *Sample
	err := r.engine.withTx(ctx, "advance sample", func(tx *sql.Tx) error {
		last, err := lastSample(ctx, tx)
		if err != nil {
			return fmt.Errorf("select last sample: %w", err)
		}

		step := decide(last)
		if step.Close {
			if last == nil || !last.IsOpen() {
				return fmt.Errorf("close sample: no open sample")
			}
			if err := closeOpen(ctx, tx, last.ID, step.EndTime); err != nil {
				return err
			}
			last.EndTime = Millis(step.EndTime)
			closed = last
		}
		if step.Open != nil {
			return insertSample(ctx, tx, step.Open)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// PurgeOlderThan deletes every closed sample whose end time is strictly
// before cutoff. Open samples are never purged.
func (r *SampleRepository) PurgeOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	var n int64
	err := r.engine.withTx(ctx, "purge samples", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM samples WHERE end_time IS NOT NULL AND end_time < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// CountOlderThan reports how many samples PurgeOlderThan would delete.
func (r *SampleRepository) CountOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	db, err := r.engine.Acquire(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM samples WHERE end_time IS NOT NULL AND end_time < ?`, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, queryFailed("count expired samples", err)
	}
	return n, nil
}

// NormalizeToUTC subtracts offsetMillis from every start and end time in
// one statement. It is not idempotent; see MigrateToUTC.
func (r *SampleRepository) NormalizeToUTC(ctx context.Context, offsetMillis int64) (int64, error) {
	var n int64
	err := r.engine.withTx(ctx, "normalize to utc", func(tx *sql.Tx) error {
		var err error
		n, err = shiftTimes(ctx, tx, offsetMillis)
		return err
	})
	return n, err
}

// MigrateToUTC applies NormalizeToUTC at most once per database. The shift
// and the persisted flag commit together, so a crash cannot double-shift.
// It reports whether the shift ran on this call.
func (r *SampleRepository) MigrateToUTC(ctx context.Context, offsetMillis int64) (bool, error) {
	applied := false
	err := r.engine.withTx(ctx, "migrate to utc", func(tx *sql.Tx) error {
		done, err := getFlag(ctx, tx, metaUTCMigrated)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if _, err := shiftTimes(ctx, tx, offsetMillis); err != nil {
			return err
		}
		if err := setMeta(ctx, tx, metaUTCMigrated, "true"); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// UTCMigrated reports whether MigrateToUTC has run on this database.
func (r *SampleRepository) UTCMigrated(ctx context.Context) (bool, error) {
	db, err := r.engine.Acquire(ctx)
	if err != nil {
		return false, err
	}
	done, err := getFlag(ctx, db, metaUTCMigrated)
	if err != nil {
		return false, queryFailed("read utc flag", err)
	}
	return done, nil
}

// DeleteAll removes every sample.
func (r *SampleRepository) DeleteAll(ctx context.Context) (int64, error) {
	var n int64
	err := r.engine.withTx(ctx, "delete samples", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM samples`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Stats returns aggregate statistics about the samples and registry tables.
func (r *SampleRepository) Stats(ctx context.Context) (*Stats, error) {
	db, err := r.engine.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	var oldest, newest, last sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) - COUNT(end_time),
		       MIN(start_time),
		       MAX(end_time),
		       MAX(id)
		FROM samples`,
	).Scan(&stats.TotalSamples, &stats.OpenSamples, &oldest, &newest, &last)
	if err != nil {
		return nil, queryFailed("sample stats", err)
	}
	stats.OldestStart = oldest.Int64
	stats.NewestEnd = newest.Int64
	stats.LastSampleID = last.Int64

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intersecting_sick`).Scan(&stats.SickRecords); err != nil {
		return nil, queryFailed("count sick records", err)
	}

	if stats.UTCMigrated, err = getFlag(ctx, db, metaUTCMigrated); err != nil {
		return nil, queryFailed("read utc flag", err)
	}

	if stats.SchemaVersion, err = NewMigrationRunner(db).Version(); err != nil {
		return nil, queryFailed("schema version", err)
	}

	stats.DatabaseBytes = r.engine.databaseSize(ctx, db)
	return stats, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (*Sample, error) {
	var s Sample
	var end sql.NullInt64
	if err := row.Scan(
		&s.ID, &s.Lat, &s.Long, &s.Accuracy, &s.StartTime, &end,
		&s.GeoHash, &s.WifiHash, &s.Hash,
	); err != nil {
		return nil, err
	}
	if end.Valid {
		s.EndTime = Millis(end.Int64)
	}
	return &s, nil
}

func insertSample(ctx context.Context, tx *sql.Tx, s *Sample) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO samples (lat, long, accuracy, start_time, end_time, geo_hash, wifi_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Lat, s.Long, s.Accuracy, s.StartTime, nullMillis(s.EndTime),
		s.GeoHash, s.WifiHash, s.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

func lastSample(ctx context.Context, q queryer) (*Sample, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE id = (SELECT MAX(id) FROM samples)`)
	s, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// closeOpen sets end_time on sample id only while it is still open.
func closeOpen(ctx context.Context, tx *sql.Tx, id, endTime int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE samples SET end_time = ? WHERE id = ? AND end_time IS NULL`, endTime, id)
	if err != nil {
		return fmt.Errorf("update end time: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("close sample %d: already closed", id)
	}
	return nil
}

func shiftTimes(ctx context.Context, tx *sql.Tx, offsetMillis int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE samples SET start_time = start_time - ?, end_time = end_time - ?`,
		offsetMillis, offsetMillis)
	if err != nil {
		return 0, fmt.Errorf("shift sample times: %w", err)
	}
	return res.RowsAffected()
}

func nullMillis(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
