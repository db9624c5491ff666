package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/exposure/internal/storage"
)

type sampleJSON struct {
	ID        int64   `json:"id"`
	Lat       float64 `json:"lat"`
	Long      float64 `json:"long"`
	Accuracy  float64 `json:"accuracy"`
	StartTime int64   `json:"start_time"`
	EndTime   *int64  `json:"end_time"`
	GeoHash   string  `json:"geo_hash"`
	WifiHash  string  `json:"wifi_hash,omitempty"`
	Hash      string  `json:"hash,omitempty"`
}

func toSampleJSON(s storage.Sample) sampleJSON {
	return sampleJSON{
		ID:        s.ID,
		Lat:       s.Lat,
		Long:      s.Long,
		Accuracy:  s.Accuracy,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		GeoHash:   s.GeoHash,
		WifiHash:  s.WifiHash,
		Hash:      s.Hash,
	}
}

// Execute implements the go-flags Commander interface for SamplesCommand.
func (c *SamplesCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, c.executeWithApp)
}

func (c *SamplesCommand) executeWithApp(a *app) error {
	all, err := a.samples.ListAll(context.Background())
	if err != nil {
		return fmt.Errorf("list samples: %w", err)
	}

	selected := all
	if c.OpenOnly {
		selected = selected[:0:0]
		for _, s := range all {
			if s.IsOpen() {
				selected = append(selected, s)
			}
		}
	}
	if c.Limit > 0 && len(selected) > c.Limit {
		selected = selected[len(selected)-c.Limit:]
	}

	if jsonOut(c.globals) {
		out := make([]sampleJSON, len(selected))
		for i, s := range selected {
			out[i] = toSampleJSON(s)
		}
		return printJSON(out)
	}

	if len(selected) == 0 {
		fmt.Println("No samples.")
		return nil
	}

	fmt.Printf("%-6s %-10s %-11s %-12s %-20s %-20s\n", "ID", "LAT", "LONG", "GEOHASH", "START", "END")
	for _, s := range selected {
		end := "open"
		if s.EndTime != nil {
			end = formatMillis(*s.EndTime)
		}
		fmt.Printf("%-6d %-10.5f %-11.5f %-12s %-20s %-20s\n",
			s.ID, s.Lat, s.Long, s.GeoHash, formatMillis(s.StartTime), end)
	}
	if len(selected) < len(all) {
		fmt.Printf("(%d of %d samples)\n", len(selected), len(all))
	}
	return nil
}
