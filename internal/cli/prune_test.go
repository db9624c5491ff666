package cli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/exposure/internal/storage"
)

// setupPruneTest seeds closed samples that ended 30 days ago and 1 hour
// ago, plus one open sample, and returns a PruneCommand wired to them.
func setupPruneTest(t *testing.T, oldCount, recentCount int) (*PruneCommand, *app) {
	t.Helper()
	a := newTestApp(t)
	ctx := context.Background()
	now := time.Now()

	seed := func(end time.Time, n int) {
		for i := 0; i < n; i++ {
			endMS := end.UnixMilli() - int64(i)
			require.NoError(t, a.samples.Append(ctx, &storage.Sample{
				Lat: 32.1, Long: 34.8, StartTime: endMS - 1000, EndTime: storage.Millis(endMS),
			}))
		}
	}
	seed(now.Add(-30*24*time.Hour), oldCount)
	seed(now.Add(-time.Hour), recentCount)
	require.NoError(t, a.samples.Append(ctx, &storage.Sample{
		Lat: 32.1, Long: 34.8, StartTime: now.Add(-60 * 24 * time.Hour).UnixMilli(),
	}))

	cmd := &PruneCommand{
		globals: &GlobalFlags{},
		version: "test",
		app:     a,
	}
	return cmd, a
}

func countSamples(t *testing.T, a *app) int64 {
	t.Helper()
	stats, err := a.samples.Stats(context.Background())
	require.NoError(t, err)
	return stats.TotalSamples
}

func TestPrune_DefaultRetention(t *testing.T) {
	cmd, a := setupPruneTest(t, 5, 3)
	cmd.Force = true

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "Pruned 5 samples")
	assert.Contains(t, output, "14 days")
	// the open sample is never pruned
	assert.Equal(t, int64(4), countSamples(t, a))

	_, ok, err := a.meta.Get(context.Background(), "last_prune")
	require.NoError(t, err)
	assert.True(t, ok, "default-retention prune records its run")
}

func TestPrune_CustomOlderThan(t *testing.T) {
	cmd, a := setupPruneTest(t, 5, 3)
	cmd.OlderThan = "40d"
	cmd.Force = true

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "No samples to prune")
	assert.Equal(t, int64(9), countSamples(t, a))
}

func TestPrune_DryRun(t *testing.T) {
	cmd, a := setupPruneTest(t, 5, 3)
	cmd.DryRun = true

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "[DRY RUN]")
	assert.Contains(t, output, "5 samples")
	assert.Equal(t, int64(9), countSamples(t, a))
}

func TestPrune_ConfirmationYes(t *testing.T) {
	cmd, a := setupPruneTest(t, 5, 3)
	cmd.stdin = strings.NewReader("y\n")

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "Proceed?")
	assert.Contains(t, output, "Pruned 5 samples")
	assert.Equal(t, int64(4), countSamples(t, a))
}

func TestPrune_ConfirmationNo(t *testing.T) {
	cmd, a := setupPruneTest(t, 5, 3)
	cmd.stdin = strings.NewReader("n\n")

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "Proceed?")
	assert.Contains(t, output, "Aborted")
	assert.Equal(t, int64(9), countSamples(t, a))
}

func TestPrune_JSONOutput(t *testing.T) {
	cmd, _ := setupPruneTest(t, 5, 3)
	cmd.Force = true
	cmd.globals.JSON = true

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	var result map[string]interface{}
	err := json.Unmarshal([]byte(strings.TrimSpace(output)), &result)
	require.NoError(t, err, "output should be valid JSON: %s", output)

	assert.Equal(t, float64(5), result["pruned"])
	assert.Equal(t, false, result["dry_run"])
	assert.Contains(t, result, "older_than")
	assert.Contains(t, result, "cutoff")
}

func TestPrune_InvalidOlderThan(t *testing.T) {
	cmd, _ := setupPruneTest(t, 1, 0)
	cmd.OlderThan = "soon"
	assert.Error(t, cmd.Execute(nil))
}
