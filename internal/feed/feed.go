// Package feed decodes the downloaded sick-records feed into registry records.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/runnerr0/exposure/internal/storage"
)

// Entry is one feature of the feed.
type Entry struct {
	Properties Properties `json:"properties"`
	Geometry   Geometry   `json:"geometry"`
}

// Properties holds the descriptive fields of a feed entry. Key_Field and
// the time fields arrive as either JSON numbers or strings.
type Properties struct {
	KeyField    flexString `json:"Key_Field"`
	Name        string     `json:"Name"`
	Place       string     `json:"Place"`
	Comments    string     `json:"Comments"`
	FromTimeUTC flexString `json:"fromTime_utc"`
	ToTimeUTC   flexString `json:"toTime_utc"`
}

// Geometry holds the point coordinates of a feed entry.
type Geometry struct {
	Coordinates []float64 `json:"coordinates"`
}

// Skip records an entry that could not be converted.
type Skip struct {
	Index  int
	Reason string
}

// Result is the outcome of decoding a feed.
type Result struct {
	Records []storage.SickRecord
	Skipped []Skip
}

// Indices selects which coordinate positions hold longitude and latitude.
type Indices struct {
	Long int
	Lat  int
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// Decode reads a feed from r. The feed is either a JSON array of entries
// or an object with a "features" array. Entries that cannot be converted
// are listed in Result.Skipped rather than failing the whole feed.
func Decode(r io.Reader, idx Indices) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	entries, err := unmarshalEntries(data)
	if err != nil {
		return nil, err
	}

	res := &Result{Records: make([]storage.SickRecord, 0, len(entries))}
	for i, e := range entries {
		rec, err := e.Record(idx)
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{Index: i, Reason: err.Error()})
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func unmarshalEntries(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("parse feed: empty document")
	}

	if trimmed[0] == '[' {
		var entries []Entry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("parse feed: %w", err)
		}
		return entries, nil
	}

	var collection struct {
		Features []Entry `json:"features"`
	}
	if err := json.Unmarshal(trimmed, &collection); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return collection.Features, nil
}

// Record converts the entry into a registry record.
func (e Entry) Record(idx Indices) (storage.SickRecord, error) {
	id := strings.TrimSpace(string(e.Properties.KeyField))
	if id == "" {
		return storage.SickRecord{}, fmt.Errorf("missing Key_Field")
	}

	coords := e.Geometry.Coordinates
	if idx.Long < 0 || idx.Long >= len(coords) || idx.Lat < 0 || idx.Lat >= len(coords) {
		return storage.SickRecord{}, fmt.Errorf("entry %s: coordinates %v lack index %d/%d", id, coords, idx.Long, idx.Lat)
	}

	from, err := parseMillis(string(e.Properties.FromTimeUTC))
	if err != nil {
		return storage.SickRecord{}, fmt.Errorf("entry %s: fromTime_utc: %w", id, err)
	}
	to, err := parseMillis(string(e.Properties.ToTimeUTC))
	if err != nil {
		return storage.SickRecord{}, fmt.Errorf("entry %s: toTime_utc: %w", id, err)
	}
	if to < from {
		return storage.SickRecord{}, fmt.Errorf("entry %s: window ends before it starts", id)
	}

	return storage.SickRecord{
		ObjectID: id,
		Name:     e.Properties.Name,
		Place:    e.Properties.Place,
		Comments: e.Properties.Comments,
		FromTime: from,
		ToTime:   to,
		Long:     coords[idx.Long],
		Lat:      coords[idx.Lat],
	}, nil
}

func parseMillis(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < -(1<<63) || f >= 1<<63 {
		return 0, fmt.Errorf("invalid millis %q", s)
	}
	return int64(f), nil
}
