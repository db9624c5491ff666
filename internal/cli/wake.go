package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/exposure/internal/intersect"
	"github.com/runnerr0/exposure/internal/tracker"
)

type matchJSON struct {
	Stage          string  `json:"stage"`
	ObjectID       string  `json:"object_id"`
	Place          string  `json:"place,omitempty"`
	SampleID       int64   `json:"sample_id"`
	DistanceMeters float64 `json:"distance_m"`
	OverlapMillis  int64   `json:"overlap_ms"`
}

type stageJSON struct {
	Name      string `json:"name"`
	Skipped   bool   `json:"skipped"`
	Detail    string `json:"detail,omitempty"`
	Matches   int    `json:"matches"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Execute implements the go-flags Commander interface for WakeCommand.
func (c *WakeCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, c.executeWithApp)
}

func (c *WakeCommand) executeWithApp(a *app) error {
	sink := &tracker.CollectSink{}
	orch := tracker.New(a.samples, a.registry, a.meta,
		append(orchestratorOptions(a.cfg, a.logger), tracker.WithMatchSink(sink))...)

	report := orch.OnWake(context.Background())

	var matches []matchJSON
	for _, stage := range []string{tracker.StageBLE, tracker.StageGeo} {
		for _, m := range sink.Matches[stage] {
			matches = append(matches, toMatchJSON(stage, m))
		}
	}

	if jsonOut(c.globals) {
		stages := make([]stageJSON, len(report.Stages))
		for i, s := range report.Stages {
			stages[i] = toStageJSON(s)
		}
		if matches == nil {
			matches = []matchJSON{}
		}
		return printJSON(map[string]any{
			"cycle_id": report.CycleID,
			"stages":   stages,
			"matches":  matches,
		})
	}

	printReport(report)
	if len(matches) == 0 {
		fmt.Println("No possible exposures found.")
	} else {
		fmt.Printf("%d possible exposures:\n", len(matches))
		for _, m := range matches {
			fmt.Printf("  [%s] %s %s: sample #%d, %.0fm, %s overlap\n",
				m.Stage, m.ObjectID, m.Place, m.SampleID, m.DistanceMeters,
				time.Duration(m.OverlapMillis)*time.Millisecond)
		}
	}
	return report.Err()
}

func toMatchJSON(stage string, m intersect.Match) matchJSON {
	return matchJSON{
		Stage:          stage,
		ObjectID:       m.Sick.ObjectID,
		Place:          m.Sick.Place,
		SampleID:       m.Sample.ID,
		DistanceMeters: m.DistanceMeters,
		OverlapMillis:  m.OverlapMillis,
	}
}

func toStageJSON(s tracker.StageResult) stageJSON {
	out := stageJSON{
		Name:      s.Name,
		Skipped:   s.Skipped,
		Detail:    s.Detail,
		Matches:   s.Matches,
		ElapsedMS: s.Elapsed.Milliseconds(),
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return out
}

func printReport(r *tracker.WakeReport) {
	fmt.Printf("Wake cycle %s\n", r.CycleID)
	for _, s := range r.Stages {
		status := "ok"
		switch {
		case s.Err != nil:
			status = "FAILED: " + s.Err.Error()
		case s.Skipped:
			status = "skipped"
		}
		line := fmt.Sprintf("  %-14s %s", s.Name, status)
		if s.Detail != "" {
			line += " (" + s.Detail + ")"
		}
		fmt.Println(line)
	}
}
