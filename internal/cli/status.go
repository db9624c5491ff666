package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/exposure/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string      `json:"version"`
	DatabasePath      string      `json:"database_path"`
	DatabaseSizeBytes int64       `json:"database_size_bytes"`
	SchemaVersion     int         `json:"schema_version"`
	TotalSamples      int64       `json:"total_samples"`
	OpenSamples       int64       `json:"open_samples"`
	SickRecords       int64       `json:"sick_records"`
	OldestStart       string      `json:"oldest_start,omitempty"`
	NewestEnd         string      `json:"newest_end,omitempty"`
	LastSample        *sampleJSON `json:"last_sample,omitempty"`
	UTCMigrated       bool        `json:"utc_migrated"`
	RetentionDays     int         `json:"retention_days"`
	BLEEnabled        bool        `json:"ble_enabled"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, c.executeWithApp)
}

// executeWithApp runs status against a provided app (for testing).
func (c *StatusCommand) executeWithApp(a *app) error {
	ctx := context.Background()

	stats, err := a.samples.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	last, err := a.samples.LastSample(ctx)
	if err != nil {
		return fmt.Errorf("get last sample: %w", err)
	}

	if jsonOut(c.globals) {
		return c.printStatusJSON(a, stats, last)
	}
	return c.printStatusHuman(a, stats, last)
}

func (c *StatusCommand) printStatusHuman(a *app, stats *storage.Stats, last *storage.Sample) error {
	fmt.Println("Exposure Status")
	fmt.Println("===============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", a.engine.Path(), formatBytes(stats.DatabaseBytes))
	fmt.Printf("Schema:        v%d\n", stats.SchemaVersion)
	fmt.Printf("Samples:       %s (%d open)\n", formatNumber(stats.TotalSamples), stats.OpenSamples)
	fmt.Printf("Sick records:  %s\n", formatNumber(stats.SickRecords))

	if stats.TotalSamples > 0 {
		fmt.Printf("Oldest:        %s\n", formatMillis(stats.OldestStart))
		if stats.NewestEnd > 0 {
			fmt.Printf("Newest end:    %s\n", formatMillis(stats.NewestEnd))
		}
	}
	if last != nil {
		state := "closed"
		if last.IsOpen() {
			state = "open"
		}
		fmt.Printf("Last sample:   #%d %s at %s (%s)\n", last.ID, state, last.GeoHash, formatMillis(last.StartTime))
	}

	fmt.Printf("Retention:     %d days\n", a.cfg.Retention.Days)
	if stats.UTCMigrated {
		fmt.Println("UTC migration: applied")
	} else {
		fmt.Println("UTC migration: not applied")
	}
	if a.cfg.Intersection.BLEEnabled {
		fmt.Println("BLE check:     enabled")
	} else {
		fmt.Println("BLE check:     disabled")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(a *app, stats *storage.Stats, last *storage.Sample) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      a.engine.Path(),
		DatabaseSizeBytes: stats.DatabaseBytes,
		SchemaVersion:     stats.SchemaVersion,
		TotalSamples:      stats.TotalSamples,
		OpenSamples:       stats.OpenSamples,
		SickRecords:       stats.SickRecords,
		UTCMigrated:       stats.UTCMigrated,
		RetentionDays:     a.cfg.Retention.Days,
		BLEEnabled:        a.cfg.Intersection.BLEEnabled,
	}

	if stats.TotalSamples > 0 {
		out.OldestStart = formatMillis(stats.OldestStart)
		if stats.NewestEnd > 0 {
			out.NewestEnd = formatMillis(stats.NewestEnd)
		}
	}
	if last != nil {
		s := toSampleJSON(*last)
		out.LastSample = &s
	}

	return printJSON(out)
}
