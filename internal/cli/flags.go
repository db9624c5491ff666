package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	DBPath  string `long:"db-path" description:"Override the database file from the config"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand — show store statistics and configuration summary.
type StatusCommand struct {
	globals *GlobalFlags
	version string
	app     *app // injectable for testing; nil means open from config
}

// SamplesCommand — list stored location samples.
type SamplesCommand struct {
	Limit    int  `long:"limit" description:"Show only the newest N samples (0 for all)" default:"20"`
	OpenOnly bool `long:"open" description:"Only show the open sample"`

	globals *GlobalFlags
	version string
	app     *app
}

// FixCommand — apply one location fix to the store.
type FixCommand struct {
	Lat       float64 `long:"lat" description:"Latitude (required)" required:"true"`
	Long      float64 `long:"long" description:"Longitude (required)" required:"true"`
	Accuracy  float64 `long:"accuracy" description:"Accuracy in meters" default:"0"`
	Timestamp int64   `long:"ts" description:"Fix time in epoch millis (default now)"`
	Moving    bool    `long:"moving" description:"The device is moving"`
	WifiHash  string  `long:"wifi-hash" description:"Proximity bucket hash"`
	Pending   bool    `long:"pending" description:"Store as the pending fix for the next wake instead of applying now"`

	globals *GlobalFlags
	version string
	app     *app
}

// HeartbeatCommand — record a liveness ping.
type HeartbeatCommand struct {
	globals *GlobalFlags
	version string
	app     *app
}

// CloseCommand — close the open sample when location tracking stops.
type CloseCommand struct {
	At int64 `long:"at" description:"End time in epoch millis (default now)"`

	globals *GlobalFlags
	version string
	app     *app
}

// ImportCommand — bulk-import historical samples.
type ImportCommand struct {
	Replace   bool `long:"replace" description:"Delete every stored sample before importing"`
	BatchRows int  `long:"batch-rows" description:"Rows per INSERT statement (default from config)"`

	globals *GlobalFlags
	version string
	app     *app
	stdin   io.Reader
}

// MergeCommand — merge a downloaded sick-records feed into the registry.
type MergeCommand struct {
	globals *GlobalFlags
	version string
	app     *app
	stdin   io.Reader
}

// PruneCommand — apply retention pruning to closed samples.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 14d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`
	Force     bool   `long:"force" description:"Skip confirmation prompt"`

	globals *GlobalFlags
	version string
	app     *app
	stdin   io.Reader
}

// PurgeCommand — delete ALL samples, and optionally the registry.
type PurgeCommand struct {
	All      bool `long:"all" description:"Required flag to confirm purge intent"`
	Force    bool `long:"force" description:"Skip safety confirmation prompt"`
	Registry bool `long:"registry" description:"Also wipe the sick-records registry"`

	globals *GlobalFlags
	version string
	app     *app
	stdin   io.Reader
}

// MigrateUTCCommand — apply the one-time timezone correction.
type MigrateUTCCommand struct {
	Offset int64 `long:"offset" description:"Milliseconds to subtract (default from config)"`

	globals *GlobalFlags
	version string
	app     *app
}

// WakeCommand — run one background wake cycle.
type WakeCommand struct {
	globals *GlobalFlags
	version string
	app     *app
}

// WatchCommand — watch the inbox and run wake cycles on a timer.
type WatchCommand struct {
	Inbox    string `long:"inbox" description:"Inbox directory (default from config)"`
	Interval string `long:"interval" description:"Wake interval, e.g. 15m (default from config)"`
	NoWake   bool   `long:"no-wake" description:"Only process inbox files, never run wake cycles"`

	globals *GlobalFlags
	version string
	app     *app
}
