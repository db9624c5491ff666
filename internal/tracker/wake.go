package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/exposure/internal/intersect"
	"github.com/runnerr0/exposure/internal/storage"
)

// StageResult is the outcome of one wake stage.
type StageResult struct {
	Name    string        `json:"name"`
	Skipped bool          `json:"skipped,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Matches int           `json:"matches,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	Err     error         `json:"-"`
}

// WakeReport describes one wake cycle.
type WakeReport struct {
	CycleID  string        `json:"cycle_id"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Stages   []StageResult `json:"stages"`
}

// Stage returns the result for name, or nil if it did not run.
func (r *WakeReport) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Err joins the errors of every failed stage.
func (r *WakeReport) Err() error {
	var errs []error
	for _, s := range r.Stages {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	return errors.Join(errs...)
}

// errSkipped marks a stage that had nothing to do.
type errSkipped string

func (e errSkipped) Error() string { return string(e) }

// OnWake runs one background wake cycle: retention purge when due, the
// one-time UTC migration, the pending fix, then the BLE and geo checks.
// Every stage runs regardless of earlier failures; failures are reported
// and collected in the returned report.
func (o *Orchestrator) OnWake(ctx context.Context) *WakeReport {
	report := &WakeReport{
		CycleID: uuid.Must(uuid.NewV7()).String(),
		Started: o.now(),
	}
	logger := o.logger.With("cycle", report.CycleID)
	logger.InfoContext(ctx, "wake cycle started")

	stages := []struct {
		name string
		run  func(context.Context) (string, int, error)
	}{
		{StageRetention, o.retentionStage},
		{StageUTC, o.utcStage},
		{StageSync, o.syncStage},
		{StageBLE, o.bleStage},
		{StageGeo, o.geoStage},
	}

	for _, st := range stages {
		start := time.Now()
		detail, matches, err := runStage(ctx, st.run)
		res := StageResult{
			Name:    st.name,
			Detail:  detail,
			Matches: matches,
			Elapsed: time.Since(start),
		}

		var skip errSkipped
		switch {
		case errors.As(err, &skip):
			res.Skipped = true
			res.Detail = skip.Error()
		case err != nil:
			res.Err = err
			o.reporter.Report(ctx, st.name, err)
		}

		logger.DebugContext(ctx, "wake stage done", "stage", st.name, "skipped", res.Skipped, "error", res.Err)
		report.Stages = append(report.Stages, res)
	}

	report.Finished = o.now()
	logger.InfoContext(ctx, "wake cycle finished", "failed", report.Err() != nil)
	return report
}

// runStage converts a panicking stage into a stage error.
func runStage(ctx context.Context, fn func(context.Context) (string, int, error)) (detail string, matches int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (o *Orchestrator) retentionStage(ctx context.Context) (string, int, error) {
	due, err := o.pruneDue(ctx)
	if err != nil {
		return "", 0, err
	}
	if !due {
		return "", 0, errSkipped("not due")
	}
	n, err := o.Prune(ctx)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("purged %d samples", n), 0, nil
}

func (o *Orchestrator) utcStage(ctx context.Context) (string, int, error) {
	if !o.migrateUTC {
		return "", 0, errSkipped("disabled")
	}
	applied, err := o.samples.MigrateToUTC(ctx, o.utcOffset)
	if err != nil {
		return "", 0, err
	}
	if !applied {
		return "", 0, errSkipped("already migrated")
	}
	return fmt.Sprintf("shifted by -%dms", o.utcOffset), 0, nil
}

func (o *Orchestrator) syncStage(ctx context.Context) (string, int, error) {
	t, found, err := o.SyncPending(ctx)
	if err != nil {
		return "", 0, err
	}
	if !found {
		return "", 0, errSkipped("no pending fix")
	}
	return string(t), 0, nil
}

func (o *Orchestrator) bleStage(ctx context.Context) (string, int, error) {
	if o.ble == nil {
		return "", 0, errSkipped("disabled")
	}
	return o.check(ctx, StageBLE, o.ble.ComputeBLEIntersections)
}

func (o *Orchestrator) geoStage(ctx context.Context) (string, int, error) {
	return o.check(ctx, StageGeo, o.geo.ComputeGeoIntersections)
}

// check reads both tables fresh, runs compute and emits any matches.
func (o *Orchestrator) check(ctx context.Context, stage string, compute func([]storage.Sample, []storage.SickRecord) []intersect.Match) (string, int, error) {
	samples, err := o.samples.ListAll(ctx)
	if err != nil {
		return "", 0, err
	}
	sick, err := o.registry.ListAll(ctx)
	if err != nil {
		return "", 0, err
	}

	matches := compute(samples, sick)
	detail := fmt.Sprintf("%d samples x %d sick records", len(samples), len(sick))
	if len(matches) == 0 {
		return detail, 0, nil
	}
	if err := o.sink.Emit(ctx, stage, matches); err != nil {
		return detail, len(matches), fmt.Errorf("emit matches: %w", err)
	}
	return detail, len(matches), nil
}
