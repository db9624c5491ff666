// Package watch turns an inbox directory into an event source: downloaded
// feeds, bulk exports and location fixes dropped into it are applied to
// the store, and a ticker drives the periodic wake cycle.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/runnerr0/exposure/internal/feed"
	"github.com/runnerr0/exposure/internal/storage"
	"github.com/runnerr0/exposure/internal/tracker"
)

// Subdirectories of the inbox that processed files are moved into.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// DefaultSettle is how long a file must go without events before it is read.
const DefaultSettle = 500 * time.Millisecond

// Kind is the type of an inbox file, chosen by extension.
type Kind string

const (
	KindFeed    Kind = "feed"    // .json: sick-records feed
	KindBulk    Kind = "bulk"    // .txt: bulk sample export
	KindFix     Kind = "fix"     // .fix: one location fix as JSON
	KindUnknown Kind = "unknown" // anything else is left alone
)

// KindOf classifies path by extension.
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return KindFeed
	case ".txt":
		return KindBulk
	case ".fix":
		return KindFix
	default:
		return KindUnknown
	}
}

// Outcome is the result of processing one inbox file.
type Outcome struct {
	Path  string
	Kind  Kind
	Count int
	Err   error
}

// Config controls a Watcher.
type Config struct {
	InboxDir     string
	WakeInterval time.Duration // zero disables the wake ticker
	Settle       time.Duration // zero uses DefaultSettle
	Indices      feed.Indices
}

// Watcher applies inbox files and runs wake cycles.
type Watcher struct {
	cfg     Config
	orch    *tracker.Orchestrator
	samples *storage.SampleRepository
	logger  *slog.Logger

	// OnOutcome, if set, is called after each file is processed.
	OnOutcome func(Outcome)
	// OnWake, if set, is called with each wake report.
	OnWake func(*tracker.WakeReport)
}

func New(cfg Config, orch *tracker.Orchestrator, samples *storage.SampleRepository, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{cfg: cfg, orch: orch, samples: samples, logger: logger}
}

// Run backfills existing files, then watches the inbox until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.InboxDir, 0755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.cfg.InboxDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.InboxDir, err)
	}
	w.logger.Info("watching inbox", "dir", w.cfg.InboxDir, "wake_interval", w.cfg.WakeInterval)

	if err := w.Backfill(ctx); err != nil {
		return err
	}

	var tick <-chan time.Time
	if w.cfg.WakeInterval > 0 {
		ticker := time.NewTicker(w.cfg.WakeInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	settle := w.cfg.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	settleTicker := time.NewTicker(max(settle/2, 10*time.Millisecond))
	defer settleTicker.Stop()

	// Files are read only once they have gone settle without a Create,
	// Write or Rename, so a writer still filling one is never cut short.
	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && KindOf(evt.Name) != KindUnknown {
				pending[evt.Name] = time.Now()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case now := <-settleTicker.C:
			for path, seen := range pending {
				if now.Sub(seen) < settle {
					continue
				}
				delete(pending, path)
				w.handle(ctx, path)
			}
		case <-tick:
			w.wake(ctx)
		}
	}
}

// Backfill processes every file already in the inbox, in name order.
func (w *Watcher) Backfill(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.InboxDir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.handle(ctx, filepath.Join(w.cfg.InboxDir, e.Name()))
	}
	return nil
}

func (w *Watcher) wake(ctx context.Context) {
	report := w.orch.OnWake(ctx)
	if w.OnWake != nil {
		w.OnWake(report)
	}
}

// handle processes path and files it under processed/ or failed/.
// Paths that vanished or are not regular files are ignored. An empty file
// is not ready yet and stays in the inbox until a write fills it.
func (w *Watcher) handle(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	kind := KindOf(path)
	if kind == KindUnknown {
		return
	}
	if info.Size() == 0 {
		w.logger.Debug("inbox file empty, waiting for content", "path", path)
		return
	}

	out := w.Process(ctx, path)

	dest := ProcessedDir
	if out.Err != nil {
		dest = FailedDir
		w.logger.Error("inbox file failed", "path", path, "kind", kind, "error", out.Err)
	} else {
		w.logger.Info("inbox file applied", "path", path, "kind", kind, "count", out.Count)
	}
	if err := w.file(path, dest); err != nil {
		w.logger.Warn("could not move inbox file", "path", path, "error", err)
	}

	if w.OnOutcome != nil {
		w.OnOutcome(out)
	}
}

// Process applies one inbox file without moving it.
func (w *Watcher) Process(ctx context.Context, path string) Outcome {
	out := Outcome{Path: path, Kind: KindOf(path)}

	data, err := os.ReadFile(path)
	if err != nil {
		out.Err = fmt.Errorf("read %s: %w", path, err)
		return out
	}

	switch out.Kind {
	case KindFeed:
		res, err := feed.Decode(bytes.NewReader(data), w.cfg.Indices)
		if err != nil {
			out.Err = err
			return out
		}
		for _, s := range res.Skipped {
			w.logger.Warn("feed entry skipped", "path", path, "index", s.Index, "reason", s.Reason)
		}
		out.Count, out.Err = w.orch.MergeFeed(ctx, res.Records)

	case KindBulk:
		out.Count, out.Err = w.samples.BulkInsert(ctx, string(data))

	case KindFix:
		var fix tracker.Fix
		if err := json.Unmarshal(data, &fix); err != nil {
			out.Err = fmt.Errorf("decode fix: %w", err)
			return out
		}
		if _, err := w.orch.OnLocation(ctx, fix); err != nil {
			out.Err = err
			return out
		}
		out.Count = 1

	default:
		out.Err = fmt.Errorf("unsupported inbox file %s", filepath.Base(path))
	}
	return out
}

func (w *Watcher) file(path, sub string) error {
	dir := filepath.Join(filepath.Dir(path), sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(dir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path)))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(path, dest)
}
