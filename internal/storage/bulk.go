package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// SampleFields is the number of values per sample tuple in a bulk payload.
	SampleFields = 8

	// DefaultBatchRows is the number of tuples per INSERT statement: 800
	// bound parameters, below SQLite's per-statement ceiling of 999 on
	// older builds.
	DefaultBatchRows = 100

	maxBulkParams = 999

	// bulkWorkers bounds how many batch statements are in flight at once.
	bulkWorkers = 4
)

// Token is one value from a bulk payload.
type Token struct {
	Raw    string
	Num    float64
	IsNum  bool
	Quoted bool
}

// IsNull reports whether the token is an explicit null or an empty field.
func (t Token) IsNull() bool {
	if t.Quoted {
		return false
	}
	return t.Raw == "" || strings.EqualFold(t.Raw, "null")
}

// Tokenize splits a bulk payload of the form (v1,...,v8),(v1,...,v8) into
// tokens. Commas and parentheses inside single-quoted strings are kept;
// a doubled quote inside a quoted string is a literal quote. Unquoted
// tokens that parse as floats are marked numeric.
func Tokenize(payload string) ([]Token, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, nil
	}

	var (
		tokens  []Token
		buf     strings.Builder
		quoted  bool
		inQuote bool
		closed  bool
	)

	flush := func() {
		raw := buf.String()
		if !quoted {
			raw = strings.TrimSpace(raw)
		}
		tok := Token{Raw: raw, Quoted: quoted}
		if !quoted {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				tok.Num = f
				tok.IsNum = true
			}
		}
		tokens = append(tokens, tok)
		buf.Reset()
		quoted = false
		closed = false
	}

	runes := []rune(payload)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inQuote {
			if c == '\'' {
				if i+1 < len(runes) && runes[i+1] == '\'' {
					buf.WriteRune('\'')
					i++
					continue
				}
				inQuote = false
				closed = true
				continue
			}
			buf.WriteRune(c)
			continue
		}

		switch {
		case c == ',':
			flush()
		case c == '(' || c == ')':
			// tuple delimiters carry no value
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if !closed {
				buf.WriteRune(c)
			}
		case closed:
			return nil, malformed("unexpected %q after quoted value at offset %d", c, i)
		case c == '\'':
			if strings.TrimSpace(buf.String()) != "" {
				return nil, malformed("quote inside unquoted value at offset %d", i)
			}
			buf.Reset()
			inQuote = true
			quoted = true
		default:
			buf.WriteRune(c)
		}
	}

	if inQuote {
		return nil, malformed("unterminated quoted value")
	}
	flush()

	return tokens, nil
}

// ParseBulkPayload converts a bulk payload into typed samples. The first
// four fields must be numeric, the fifth numeric or null, the last three
// are taken as text.
func ParseBulkPayload(payload string) ([]Sample, error) {
	tokens, err := Tokenize(payload)
	if err != nil {
		return nil, err
	}
	if len(tokens)%SampleFields != 0 {
		return nil, malformed("%d values is not a multiple of %d", len(tokens), SampleFields)
	}

	samples := make([]Sample, 0, len(tokens)/SampleFields)
	for i := 0; i < len(tokens); i += SampleFields {
		s, err := tupleToSample(tokens[i:i+SampleFields], i/SampleFields)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func tupleToSample(t []Token, idx int) (Sample, error) {
	names := [4]string{"lat", "long", "accuracy", "startTime"}
	for f, name := range names {
		if !t[f].IsNum || math.IsNaN(t[f].Num) || math.IsInf(t[f].Num, 0) {
			return Sample{}, malformed("tuple %d: %s %q is not numeric", idx, name, t[f].Raw)
		}
	}

	start, err := wholeMillis(t[3].Num)
	if err != nil {
		return Sample{}, malformed("tuple %d: startTime: %v", idx, err)
	}

	s := Sample{
		Lat:       t[0].Num,
		Long:      t[1].Num,
		Accuracy:  t[2].Num,
		StartTime: start,
		GeoHash:   t[5].Raw,
		WifiHash:  t[6].Raw,
		Hash:      t[7].Raw,
	}

	switch {
	case t[4].IsNum:
		end, err := wholeMillis(t[4].Num)
		if err != nil {
			return Sample{}, malformed("tuple %d: endTime: %v", idx, err)
		}
		s.EndTime = Millis(end)
	case t[4].IsNull():
	default:
		return Sample{}, malformed("tuple %d: endTime %q is not numeric", idx, t[4].Raw)
	}

	return s, nil
}

func wholeMillis(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not a whole number of milliseconds", f)
	}
	if f < -(1<<63) || f >= 1<<63 {
		return 0, fmt.Errorf("%v is out of range", f)
	}
	return int64(f), nil
}

// BulkInsert parses payload and inserts every tuple in batches of the
// configured size. All batches share one transaction: they run
// concurrently, every batch error is collected once all have settled, and
// any failure rolls back the whole import. Returns the number of rows added.
func (r *SampleRepository) BulkInsert(ctx context.Context, payload string) (int, error) {
	n, _, err := r.bulkLoad(ctx, payload, false)
	return n, err
}

// ReplaceAll deletes every sample and bulk-inserts payload in the same
// transaction. A malformed payload leaves the table untouched. Returns the
// rows inserted and the rows removed.
func (r *SampleRepository) ReplaceAll(ctx context.Context, payload string) (int, int64, error) {
	return r.bulkLoad(ctx, payload, true)
}

func (r *SampleRepository) bulkLoad(ctx context.Context, payload string, replace bool) (int, int64, error) {
	samples, err := ParseBulkPayload(payload)
	if err != nil {
		return 0, 0, err
	}
	if len(samples) == 0 && !replace {
		return 0, 0, nil
	}

	batches := splitBatches(samples, r.batchRows)
	r.logger.Debug("bulk insert", "rows", len(samples), "batches", len(batches), "replace", replace)

	var removed int64
	err = r.engine.withTx(ctx, "bulk insert", func(tx *sql.Tx) error {
		if replace {
			res, err := tx.ExecContext(ctx, `DELETE FROM samples`)
			if err != nil {
				return fmt.Errorf("clear samples: %w", err)
			}
			if removed, err = res.RowsAffected(); err != nil {
				return err
			}
		}

		var (
			g    errgroup.Group
			mu   sync.Mutex
			errs []error
		)
		g.SetLimit(bulkWorkers)

		for i, batch := range batches {
			g.Go(func() error {
				if err := insertBatch(ctx, tx, batch); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("batch %d: %w", i, err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(errs) > 0 {
			return queryFailed("bulk insert", errors.Join(errs...))
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return len(samples), removed, nil
}

func splitBatches(samples []Sample, rows int) [][]Sample {
	if rows <= 0 {
		rows = DefaultBatchRows
	}
	var batches [][]Sample
	for start := 0; start < len(samples); start += rows {
		end := min(start+rows, len(samples))
		batches = append(batches, samples[start:end])
	}
	return batches
}

func insertBatch(ctx context.Context, tx *sql.Tx, batch []Sample) error {
	placeholders := make([]string, len(batch))
	args := make([]any, 0, len(batch)*SampleFields)
	for i, s := range batch {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			s.Lat, s.Long, s.Accuracy, s.StartTime, nullMillis(s.EndTime),
			s.GeoHash, s.WifiHash, s.Hash,
		)
	}

	query := `INSERT INTO samples (lat, long, accuracy, start_time, end_time, geo_hash, wifi_hash, hash) VALUES ` +
		strings.Join(placeholders, ", ")
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
