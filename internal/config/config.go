package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/exposure/config.yaml"

// Config holds all exposure configuration.
type Config struct {
	Retention    RetentionConfig    `yaml:"retention"`
	Storage      StorageConfig      `yaml:"storage"`
	Sync         SyncConfig         `yaml:"sync"`
	Intersection IntersectionConfig `yaml:"intersection"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type RetentionConfig struct {
	Days               int `yaml:"days"`
	PruneIntervalHours int `yaml:"prune_interval_hours"`
}

type StorageConfig struct {
	Path          string `yaml:"path"`
	SQLiteFile    string `yaml:"sqlite_file"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

type SyncConfig struct {
	WakeIntervalMinutes int    `yaml:"wake_interval_minutes"`
	MigrateUTC          bool   `yaml:"migrate_utc"`
	UTCOffsetMillis     int64  `yaml:"utc_offset_millis"`
	BulkBatchRows       int    `yaml:"bulk_batch_rows"`
	InboxDir            string `yaml:"inbox_dir"`
	GeohashPrecision    uint   `yaml:"geohash_precision"`
}

type IntersectionConfig struct {
	RadiusMeters          float64 `yaml:"radius_meters"`
	SickGeometryLongIndex int     `yaml:"sick_geometry_long_index"`
	SickGeometryLatIndex  int     `yaml:"sick_geometry_lat_index"`
	BLEEnabled            bool    `yaml:"ble_enabled"`
	BLEPrecision          uint    `yaml:"ble_precision"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML, or
// holds values that fail Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be positive, got %d", c.Retention.Days)
	}
	if c.Retention.PruneIntervalHours <= 0 {
		return fmt.Errorf("retention.prune_interval_hours must be positive, got %d", c.Retention.PruneIntervalHours)
	}
	if c.Sync.WakeIntervalMinutes <= 0 {
		return fmt.Errorf("sync.wake_interval_minutes must be positive, got %d", c.Sync.WakeIntervalMinutes)
	}
	if c.Sync.GeohashPrecision < 1 || c.Sync.GeohashPrecision > 12 {
		return fmt.Errorf("sync.geohash_precision must be 1-12, got %d", c.Sync.GeohashPrecision)
	}
	if c.Intersection.BLEPrecision < 1 || c.Intersection.BLEPrecision > 12 {
		return fmt.Errorf("intersection.ble_precision must be 1-12, got %d", c.Intersection.BLEPrecision)
	}
	if c.Intersection.RadiusMeters <= 0 {
		return fmt.Errorf("intersection.radius_meters must be positive, got %v", c.Intersection.RadiusMeters)
	}
	if c.Intersection.SickGeometryLongIndex < 0 || c.Intersection.SickGeometryLatIndex < 0 {
		return fmt.Errorf("intersection geometry indices must not be negative")
	}
	if c.Intersection.SickGeometryLongIndex == c.Intersection.SickGeometryLatIndex {
		return fmt.Errorf("intersection geometry indices must differ")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// DatabasePath returns the expanded path of the SQLite file.
func (c *Config) DatabasePath() (string, error) {
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// InboxPath returns the expanded inbox directory. A relative inbox_dir is
// resolved against storage.path.
func (c *Config) InboxPath() (string, error) {
	inbox, err := ExpandPath(c.Sync.InboxDir)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(inbox) {
		return inbox, nil
	}
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, inbox), nil
}

func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Retention.Days) * 24 * time.Hour
}

func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.Retention.PruneIntervalHours) * time.Hour
}

func (c *Config) WakeInterval() time.Duration {
	return time.Duration(c.Sync.WakeIntervalMinutes) * time.Minute
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
