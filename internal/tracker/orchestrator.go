// Package tracker sequences the sample store, the sick registry and the
// intersection checkers in response to location, heartbeat and wake events.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/runnerr0/exposure/internal/intersect"
	"github.com/runnerr0/exposure/internal/storage"
)

// Meta keys owned by the orchestrator.
const (
	metaPendingFix = "pending_fix"
	metaLastPrune  = "last_prune"
)

// Wake stage names, in execution order.
const (
	StageRetention = "retention"
	StageUTC       = "utc_migration"
	StageSync      = "sync_pending"
	StageBLE       = "ble_check"
	StageGeo       = "geo_check"
)

// Transition is what a location event did to the sample store.
type Transition string

const (
	TransitionOpened     Transition = "opened"
	TransitionUnchanged  Transition = "unchanged"
	TransitionRolledOver Transition = "rolled_over"
	TransitionClosed     Transition = "closed"
	TransitionIgnored    Transition = "ignored"
	TransitionStale      Transition = "stale"
)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithGeoChecker sets the checker for the geo stage.
func WithGeoChecker(c intersect.GeoChecker) Option {
	return func(o *Orchestrator) { o.geo = c }
}

// WithBLEChecker sets the checker for the BLE stage. Without one the
// stage is recorded as skipped.
func WithBLEChecker(c intersect.BLEChecker) Option {
	return func(o *Orchestrator) { o.ble = c }
}

func WithMatchSink(s MatchSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithErrorReporter(r ErrorReporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRetention sets how long closed samples are kept and how often the
// wake cycle purges them.
func WithRetention(keep, every time.Duration) Option {
	return func(o *Orchestrator) {
		o.retention = keep
		o.pruneEvery = every
	}
}

// WithUTCMigration enables the one-time timezone correction in the wake
// cycle, shifting stored samples back by offsetMillis.
func WithUTCMigration(offsetMillis int64) Option {
	return func(o *Orchestrator) {
		o.utcOffset = offsetMillis
		o.migrateUTC = true
	}
}

func WithGeohashPrecision(p uint) Option {
	return func(o *Orchestrator) { o.precision = p }
}

// Orchestrator reacts to external lifecycle events. All state that must
// survive a restart lives in the store; the mutex only orders events
// arriving in this process.
type Orchestrator struct {
	samples  *storage.SampleRepository
	registry *storage.Registry
	meta     *storage.MetaStore

	geo      intersect.GeoChecker
	ble      intersect.BLEChecker
	sink     MatchSink
	reporter ErrorReporter
	logger   *slog.Logger
	now      func() time.Time

	retention  time.Duration
	pruneEvery time.Duration
	utcOffset  int64
	migrateUTC bool
	precision  uint

	mu sync.Mutex
}

// New returns an Orchestrator over the given stores.
func New(samples *storage.SampleRepository, registry *storage.Registry, meta *storage.MetaStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		samples:    samples,
		registry:   registry,
		meta:       meta,
		now:        time.Now,
		retention:  14 * 24 * time.Hour,
		pruneEvery: 24 * time.Hour,
		precision:  DefaultGeohashPrecision,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.reporter == nil {
		o.reporter = LogReporter{Logger: o.logger}
	}
	if o.sink == nil {
		o.sink = LogSink{Logger: o.logger}
	}
	if o.geo == nil {
		o.geo = intersect.Geo{RadiusMeters: 100, Now: o.nowMillis}
	}
	return o
}

func (o *Orchestrator) nowMillis() int64 {
	return o.now().UnixMilli()
}

// OnLocation applies a location fix to the sample store.
//
//	stationary, no open sample        -> open a dwell sample
//	stationary, open at same cell     -> nothing
//	stationary, open elsewhere        -> close it and open a new one
//	moving, open sample               -> close it at the fix time
//	moving, no open sample            -> nothing
//
// A fix older than the open sample's start, or older than the end of the
// newest closed sample, is ignored as stale. The decision and the write
// share one transaction, so events from other processes cannot interleave.
func (o *Orchestrator) OnLocation(ctx context.Context, fix Fix) (Transition, error) {
	if err := fix.Validate(); err != nil {
		return TransitionIgnored, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var t Transition
	_, err := o.samples.Advance(ctx, func(last *storage.Sample) storage.Step {
		var step storage.Step
		t, step = o.decide(last, fix)
		return step
	})
	if err != nil {
		o.reporter.Report(ctx, "location", err)
		return TransitionIgnored, err
	}
	o.logger.Debug("location applied", "transition", t, "moving", fix.IsMoving, "ts", fix.Timestamp)
	return t, nil
}

// decide maps the newest stored sample and a fix to a transition and the
// write that carries it out.
func (o *Orchestrator) decide(last *storage.Sample, fix Fix) (Transition, storage.Step) {
	open := last != nil && last.IsOpen()

	switch {
	case open && fix.Timestamp < last.StartTime:
		return TransitionStale, storage.Step{}
	case last != nil && !open && fix.Timestamp < *last.EndTime:
		return TransitionStale, storage.Step{}
	}

	switch {
	case fix.IsMoving && open:
		return TransitionClosed, storage.Step{Close: true, EndTime: fix.Timestamp}

	case fix.IsMoving:
		return TransitionIgnored, storage.Step{}

	case !open:
		return TransitionOpened, storage.Step{Open: fix.Sample(o.precision)}

	case last.GeoHash == fix.GeoHash(o.precision):
		return TransitionUnchanged, storage.Step{}

	default:
		return TransitionRolledOver, storage.Step{
			Close:   true,
			EndTime: fix.Timestamp,
			Open:    fix.Sample(o.precision),
		}
	}
}

// OnHeartbeat records a liveness ping. Nothing is persisted.
func (o *Orchestrator) OnHeartbeat(ctx context.Context) {
	o.logger.InfoContext(ctx, "heartbeat")
}

// Remember stores fix as the pending fix for the next wake cycle,
// replacing any earlier one.
func (o *Orchestrator) Remember(ctx context.Context, fix Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("encode fix: %w", err)
	}
	return o.meta.Set(ctx, metaPendingFix, string(data))
}

// SyncPending applies the pending fix, if any. A fix that fails on a
// storage error is put back for the next cycle; an invalid one is dropped.
func (o *Orchestrator) SyncPending(ctx context.Context) (Transition, bool, error) {
	raw, ok, err := o.meta.Take(ctx, metaPendingFix)
	if err != nil || !ok {
		return TransitionIgnored, false, err
	}

	var fix Fix
	if err := json.Unmarshal([]byte(raw), &fix); err != nil {
		return TransitionIgnored, true, fmt.Errorf("decode pending fix: %w", err)
	}

	t, err := o.OnLocation(ctx, fix)
	if err != nil && storage.KindOf(err) != "" {
		if rerr := o.meta.Set(ctx, metaPendingFix, raw); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return t, true, err
}

// MergeFeed adds the sick records not yet registered and returns how many
// were added.
func (o *Orchestrator) MergeFeed(ctx context.Context, recs []storage.SickRecord) (int, error) {
	n, err := o.registry.Merge(ctx, recs)
	if err != nil {
		o.reporter.Report(ctx, "merge", err)
		return 0, err
	}
	o.logger.InfoContext(ctx, "feed merged", "received", len(recs), "added", n)
	return n, nil
}

// Prune purges closed samples older than the retention window and records
// the run.
func (o *Orchestrator) Prune(ctx context.Context) (int64, error) {
	now := o.now()
	cutoff := now.Add(-o.retention).UnixMilli()

	n, err := o.samples.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if err := o.meta.Set(ctx, metaLastPrune, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return n, err
	}
	o.logger.InfoContext(ctx, "retention purge", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// pruneDue reports whether pruneEvery has passed since the last purge.
func (o *Orchestrator) pruneDue(ctx context.Context) (bool, error) {
	raw, ok, err := o.meta.Get(ctx, metaLastPrune)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	last, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true, nil
	}
	return o.now().Sub(time.UnixMilli(last)) >= o.pruneEvery, nil
}
