package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Retention: RetentionConfig{
			Days:               14,
			PruneIntervalHours: 24,
		},
		Storage: StorageConfig{
			Path:          "~/.config/exposure",
			SQLiteFile:    "exposure.db",
			BusyTimeoutMS: 5000,
		},
		Sync: SyncConfig{
			WakeIntervalMinutes: 15,
			MigrateUTC:          false,
			UTCOffsetMillis:     7200000,
			BulkBatchRows:       100,
			InboxDir:            "inbox",
			GeohashPrecision:    8,
		},
		Intersection: IntersectionConfig{
			RadiusMeters:          100,
			SickGeometryLongIndex: 0,
			SickGeometryLatIndex:  1,
			BLEEnabled:            false,
			BLEPrecision:          7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
