package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/exposure/internal/config"
	"github.com/runnerr0/exposure/internal/feed"
	"github.com/runnerr0/exposure/internal/intersect"
	"github.com/runnerr0/exposure/internal/storage"
	"github.com/runnerr0/exposure/internal/tracker"
)

// app bundles the store and orchestrator a command works against.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *storage.Engine
	samples  *storage.SampleRepository
	registry *storage.Registry
	meta     *storage.MetaStore
	orch     *tracker.Orchestrator
}

// openApp loads the config named by globals and wires the store at the
// resolved database path.
func openApp(globals *GlobalFlags) (*app, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, err
	}

	dbPath, err := resolveDBPath(globals, cfg)
	if err != nil {
		return nil, err
	}

	verbose := globals != nil && globals.Verbose
	logger := newLogger(cfg.Logging, verbose, os.Stderr)
	return newApp(cfg, dbPath, logger), nil
}

// newApp wires repositories and the orchestrator on the database at dbPath.
// Nothing is opened until the first query.
func newApp(cfg *config.Config, dbPath string, logger *slog.Logger, opts ...tracker.Option) *app {
	engine := storage.NewEngine(dbPath, storage.WithBusyTimeout(cfg.Storage.BusyTimeoutMS))
	a := &app{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		samples:  storage.NewSampleRepository(engine, logger),
		registry: storage.NewRegistry(engine, logger),
		meta:     storage.NewMetaStore(engine),
	}
	a.samples.SetBatchRows(cfg.Sync.BulkBatchRows)
	a.orch = tracker.New(a.samples, a.registry, a.meta, append(orchestratorOptions(cfg, logger), opts...)...)
	return a
}

func orchestratorOptions(cfg *config.Config, logger *slog.Logger) []tracker.Option {
	opts := []tracker.Option{
		tracker.WithLogger(logger),
		tracker.WithRetention(cfg.RetentionWindow(), cfg.PruneInterval()),
		tracker.WithGeohashPrecision(cfg.Sync.GeohashPrecision),
		tracker.WithGeoChecker(intersect.Geo{
			RadiusMeters: cfg.Intersection.RadiusMeters,
			Now:          func() int64 { return time.Now().UnixMilli() },
		}),
	}
	if cfg.Intersection.BLEEnabled {
		opts = append(opts, tracker.WithBLEChecker(intersect.Bucket{
			Precision: cfg.Intersection.BLEPrecision,
			Now:       func() int64 { return time.Now().UnixMilli() },
		}))
	}
	if cfg.Sync.MigrateUTC {
		opts = append(opts, tracker.WithUTCMigration(cfg.Sync.UTCOffsetMillis))
	}
	return opts
}

func (a *app) Close() error {
	return a.engine.Close()
}

func (a *app) feedIndices() feed.Indices {
	return feed.Indices{
		Long: a.cfg.Intersection.SickGeometryLongIndex,
		Lat:  a.cfg.Intersection.SickGeometryLatIndex,
	}
}

// withApp runs fn against the injected app, or one opened from globals.
func withApp(injected *app, globals *GlobalFlags, fn func(*app) error) error {
	if injected != nil {
		return fn(injected)
	}
	a, err := openApp(globals)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		path, err := config.ExpandPath(globals.Config)
		if err != nil {
			return nil, err
		}
		return config.Load(path)
	}
	return config.LoadOrCreate()
}

// resolveDBPath prefers --db-path over the configured location.
func resolveDBPath(globals *GlobalFlags, cfg *config.Config) (string, error) {
	if globals != nil && globals.DBPath != "" {
		return config.ExpandPath(globals.DBPath)
	}
	return cfg.DatabasePath()
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func jsonOut(globals *GlobalFlags) bool {
	return globals != nil && globals.JSON
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads the file named by args[0], or in when there is no
// argument or it is "-".
func readInput(args []string, in io.Reader) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		if in == nil {
			in = os.Stdin
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}

// confirm prints prompt and reports whether the answer matched want.
func confirm(in io.Reader, prompt, want string) bool {
	if in == nil {
		in = os.Stdin
	}
	fmt.Print(prompt)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), want)
}

// parseDuration parses a human-friendly duration string like "14d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "14 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatMillis renders epoch millis as RFC3339 in UTC.
func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
