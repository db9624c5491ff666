package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/exposure/internal/storage"
)

const twoTuples = "(32.1,34.8,10,1000,2000,'g1','w1','h1'),(32.2,34.9,12,3000,4000,'g2','w2','h2')"

const testFeed = `{"features": [
  {"properties": {"Key_Field": "A1", "Place": "market", "fromTime_utc": 1500, "toTime_utc": 3000},
   "geometry": {"coordinates": [34.8, 32.1]}},
  {"properties": {"Key_Field": "B2", "fromTime_utc": 1, "toTime_utc": 2},
   "geometry": {"coordinates": [34.8]}}
]}`

func TestImport_FromStdin(t *testing.T) {
	a := newTestApp(t)
	cmd := &ImportCommand{globals: &GlobalFlags{}, app: a, stdin: strings.NewReader(twoTuples)}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "Imported 2 samples")
	all, err := a.samples.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "g2", all[1].GeoHash)
}

func TestImport_FromFileWithReplace(t *testing.T) {
	a := newTestApp(t)
	_, err := a.samples.BulkInsert(context.Background(), "(1,1,1,1,2,'a','b','c')")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "history.txt")
	require.NoError(t, os.WriteFile(path, []byte(twoTuples), 0644))

	cmd := &ImportCommand{Replace: true, globals: &GlobalFlags{JSON: true}, app: a}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute([]string{path}))
	})

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(output)), &result))
	assert.Equal(t, float64(2), result["imported"])
	assert.Equal(t, float64(1), result["replaced"])
	assert.Equal(t, int64(2), countSamples(t, a))
}

func TestImport_Malformed(t *testing.T) {
	a := newTestApp(t)
	cmd := &ImportCommand{globals: &GlobalFlags{}, app: a, stdin: strings.NewReader("(1,2,3)")}

	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple of 8")
	assert.Equal(t, int64(0), countSamples(t, a))
}

func TestImport_TwoOpenSamplesRejected(t *testing.T) {
	a := newTestApp(t)
	payload := "(32.1,34.8,10,1000,null,'g1','w1','h1'),(32.2,34.9,12,3000,null,'g2','w2','h2')"
	cmd := &ImportCommand{globals: &GlobalFlags{}, app: a, stdin: strings.NewReader(payload)}

	err := cmd.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import rejected")
	assert.True(t, storage.IsConstraint(err))
	assert.Equal(t, int64(0), countSamples(t, a))
}

func TestImport_MissingFile(t *testing.T) {
	cmd := &ImportCommand{globals: &GlobalFlags{}, app: newTestApp(t)}
	assert.Error(t, cmd.Execute([]string{"/nonexistent/history.txt"}))
}

func TestMerge_Feed(t *testing.T) {
	a := newTestApp(t)
	cmd := &MergeCommand{globals: &GlobalFlags{}, app: a, stdin: strings.NewReader(testFeed)}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute([]string{"-"}))
	})
	assert.Contains(t, output, "1 received, 1 new, 0 already known")
	assert.Contains(t, output, "skipped entry 1")

	cmd.stdin = strings.NewReader(testFeed)
	output = captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "1 received, 0 new, 1 already known")

	n, err := a.registry.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFix_StateTransitions(t *testing.T) {
	a := newTestApp(t)

	run := func(cmd *FixCommand) string {
		cmd.globals = &GlobalFlags{}
		cmd.app = a
		return captureOutput(t, func() {
			require.NoError(t, cmd.Execute(nil))
		})
	}

	assert.Contains(t, run(&FixCommand{Lat: 32.1, Long: 34.8, Timestamp: 1000}), "opened")
	assert.Contains(t, run(&FixCommand{Lat: 32.1, Long: 34.8, Timestamp: 1500}), "unchanged")
	assert.Contains(t, run(&FixCommand{Lat: 32.1, Long: 34.8, Timestamp: 2000, Moving: true}), "closed")

	all, err := a.samples.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].EndTime)
	assert.Equal(t, int64(2000), *all[0].EndTime)
}

func TestClose_OpenThenNothingLeft(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.samples.Append(ctx, &storage.Sample{Lat: 32.1, Long: 34.8, StartTime: 1000}))

	cmd := &CloseCommand{At: 4000, globals: &GlobalFlags{}, app: a}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "Closed sample 1")

	output = captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "No open sample.")

	last, err := a.samples.LastSample(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), *last.EndTime)
}

func TestFix_Invalid(t *testing.T) {
	cmd := &FixCommand{Lat: 132.1, Long: 34.8, Timestamp: 1000, globals: &GlobalFlags{}, app: newTestApp(t)}
	assert.Error(t, cmd.Execute(nil))
}

func TestFix_PendingThenWake(t *testing.T) {
	a := newTestApp(t)

	fix := &FixCommand{Lat: 32.1, Long: 34.8, Timestamp: 1000, Pending: true, globals: &GlobalFlags{}, app: a}
	output := captureOutput(t, func() {
		require.NoError(t, fix.Execute(nil))
	})
	assert.Contains(t, output, "pending fix")
	assert.Equal(t, int64(0), countSamples(t, a))

	wake := &WakeCommand{globals: &GlobalFlags{}, app: a}
	output = captureOutput(t, func() {
		require.NoError(t, wake.Execute(nil))
	})
	assert.Contains(t, output, "sync_pending")
	assert.Contains(t, output, "opened")
	assert.Equal(t, int64(1), countSamples(t, a))
}

func TestWake_ReportsMatches(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	// recent enough to survive the retention stage
	now := time.Now().UnixMilli()
	hour := int64(time.Hour / time.Millisecond)
	_, err := a.samples.BulkInsert(ctx, fmt.Sprintf(
		"(32.1,34.8,10,%d,%d,'g1','w1','h1'),(32.2,34.9,12,%d,%d,'g2','w2','h2')",
		now-3*hour, now-2*hour, now-hour, now-hour/2))
	require.NoError(t, err)

	recentFeed := fmt.Sprintf(`[{"properties": {"Key_Field": "A1", "fromTime_utc": %d, "toTime_utc": %d},
	  "geometry": {"coordinates": [34.8, 32.1]}}]`, now-150*hour/60, now)
	merge := &MergeCommand{globals: &GlobalFlags{}, app: a, stdin: strings.NewReader(recentFeed)}
	captureOutput(t, func() {
		require.NoError(t, merge.Execute(nil))
	})

	cmd := &WakeCommand{globals: &GlobalFlags{JSON: true}, app: a}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	var result struct {
		CycleID string `json:"cycle_id"`
		Stages  []struct {
			Name    string `json:"name"`
			Skipped bool   `json:"skipped"`
		} `json:"stages"`
		Matches []struct {
			Stage    string `json:"stage"`
			ObjectID string `json:"object_id"`
			SampleID int64  `json:"sample_id"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(output)), &result), output)

	assert.NotEmpty(t, result.CycleID)
	require.Len(t, result.Stages, 5)
	assert.Equal(t, "ble_check", result.Stages[3].Name)
	assert.True(t, result.Stages[3].Skipped)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "geo_check", result.Matches[0].Stage)
	assert.Equal(t, "A1", result.Matches[0].ObjectID)
	assert.Equal(t, int64(1), result.Matches[0].SampleID)
}

func TestMigrateUTC_Once(t *testing.T) {
	a := newTestApp(t)
	_, err := a.samples.BulkInsert(context.Background(), "(1,1,1,10000,20000,'a','b','c')")
	require.NoError(t, err)

	cmd := &MigrateUTCCommand{Offset: 4000, globals: &GlobalFlags{}, app: a}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "Shifted all samples by -4000ms")

	output = captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "already applied")

	all, err := a.samples.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6000), all[0].StartTime)
}

func TestSamples_ListAndFilter(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	_, err := a.samples.BulkInsert(ctx, twoTuples)
	require.NoError(t, err)

	open := &FixCommand{Lat: 31, Long: 35, Timestamp: 5000, globals: &GlobalFlags{}, app: a}
	captureOutput(t, func() {
		require.NoError(t, open.Execute(nil))
	})

	cmd := &SamplesCommand{Limit: 2, globals: &GlobalFlags{}, app: a}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "(2 of 3 samples)")
	assert.Contains(t, output, "open")

	cmd = &SamplesCommand{OpenOnly: true, globals: &GlobalFlags{JSON: true}, app: a}
	output = captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(output)), &rows))
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["end_time"])
	assert.Equal(t, float64(5000), rows[0]["start_time"])
}

func TestSamples_Empty(t *testing.T) {
	cmd := &SamplesCommand{globals: &GlobalFlags{}, app: newTestApp(t)}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "No samples.")
}

func TestHeartbeat_NoWrites(t *testing.T) {
	a := newTestApp(t)
	cmd := &HeartbeatCommand{globals: &GlobalFlags{}, app: a}
	require.NoError(t, cmd.Execute(nil))
	assert.Equal(t, int64(0), countSamples(t, a))
}
