package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 14, cfg.Retention.Days)
	assert.Equal(t, 24, cfg.Retention.PruneIntervalHours)
	assert.Equal(t, "~/.config/exposure", cfg.Storage.Path)
	assert.Equal(t, "exposure.db", cfg.Storage.SQLiteFile)
	assert.Equal(t, 5000, cfg.Storage.BusyTimeoutMS)
	assert.Equal(t, 15, cfg.Sync.WakeIntervalMinutes)
	assert.False(t, cfg.Sync.MigrateUTC)
	assert.Equal(t, int64(7200000), cfg.Sync.UTCOffsetMillis)
	assert.Equal(t, 100, cfg.Sync.BulkBatchRows)
	assert.Equal(t, "inbox", cfg.Sync.InboxDir)
	assert.Equal(t, uint(8), cfg.Sync.GeohashPrecision)
	assert.Equal(t, 100.0, cfg.Intersection.RadiusMeters)
	assert.Equal(t, 0, cfg.Intersection.SickGeometryLongIndex)
	assert.Equal(t, 1, cfg.Intersection.SickGeometryLatIndex)
	assert.False(t, cfg.Intersection.BLEEnabled)
	assert.Equal(t, uint(7), cfg.Intersection.BLEPrecision)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	require.NoError(t, cfg.Validate())
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 14*24*time.Hour, cfg.RetentionWindow())
	assert.Equal(t, 24*time.Hour, cfg.PruneInterval())
	assert.Equal(t, 15*time.Minute, cfg.WakeInterval())
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  days: 21
  prune_interval_hours: 12
sync:
  migrate_utc: true
  utc_offset_millis: 10800000
intersection:
  sick_geometry_long_index: 1
  sick_geometry_lat_index: 0
logging:
  level: "debug"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 21, cfg.Retention.Days)
	assert.Equal(t, 12, cfg.Retention.PruneIntervalHours)
	assert.True(t, cfg.Sync.MigrateUTC)
	assert.Equal(t, int64(10800000), cfg.Sync.UTCOffsetMillis)
	assert.Equal(t, 1, cfg.Intersection.SickGeometryLongIndex)
	assert.Equal(t, 0, cfg.Intersection.SickGeometryLatIndex)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Non-overridden values remain defaults
	assert.Equal(t, 100, cfg.Sync.BulkBatchRows)
	assert.Equal(t, "~/.config/exposure", cfg.Storage.Path)
	assert.Equal(t, 100.0, cfg.Intersection.RadiusMeters)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load("/tmp/nonexistent_path_12345/config.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero retention", "retention:\n  days: 0\n", "retention.days"},
		{"precision too long", "sync:\n  geohash_precision: 13\n", "geohash_precision"},
		{"same indices", "intersection:\n  sick_geometry_long_index: 1\n", "must differ"},
		{"negative radius", "intersection:\n  radius_meters: -5\n", "radius_meters"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(cfgPath, []byte(tt.yaml), 0644))

			_, err := Load(cfgPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	// Should return defaults
	assert.Equal(t, 14, cfg.Retention.Days)
	assert.Equal(t, "exposure.db", cfg.Storage.SQLiteFile)

	// File should now exist on disk
	_, statErr := os.Stat(cfgPath)
	assert.NoError(t, statErr)

	// File should be valid YAML loadable again
	cfg2, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}

func TestLoadOrCreateLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  days: 7
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retention.Days)
	// Other fields remain defaults
	assert.Equal(t, 15, cfg.Sync.WakeIntervalMinutes)
}

func TestDatabaseAndInboxPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/var/lib/exposure"

	db, err := cfg.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/exposure/exposure.db", db)

	inbox, err := cfg.InboxPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/exposure/inbox", inbox)

	cfg.Sync.InboxDir = "/srv/feeds"
	inbox, err = cfg.InboxPath()
	require.NoError(t, err)
	assert.Equal(t, "/srv/feeds", inbox)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/x/y")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x", "y"), got)

	got, err = ExpandPath("/abs")
	require.NoError(t, err)
	assert.Equal(t, "/abs", got)
}
