package tracker

import (
	"context"
	"log/slog"

	"github.com/runnerr0/exposure/internal/intersect"
)

// ErrorReporter receives every failure the orchestrator absorbs.
type ErrorReporter interface {
	Report(ctx context.Context, stage string, err error)
}

// MatchSink receives the intersections found by a wake cycle.
type MatchSink interface {
	Emit(ctx context.Context, stage string, matches []intersect.Match) error
}

// LogReporter reports errors to a slog logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, stage string, err error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "stage failed", "stage", stage, "error", err)
}

// LogSink logs each match at warn level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, stage string, matches []intersect.Match) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, m := range matches {
		logger.WarnContext(ctx, "possible exposure",
			"stage", stage,
			"object_id", m.Sick.ObjectID,
			"place", m.Sick.Place,
			"sample_id", m.Sample.ID,
			"distance_m", m.DistanceMeters,
			"overlap_ms", m.OverlapMillis,
		)
	}
	return nil
}

// CollectSink keeps every emitted match in memory.
type CollectSink struct {
	Matches map[string][]intersect.Match
}

func (s *CollectSink) Emit(_ context.Context, stage string, matches []intersect.Match) error {
	if s.Matches == nil {
		s.Matches = make(map[string][]intersect.Match)
	}
	s.Matches[stage] = append(s.Matches[stage], matches...)
	return nil
}
