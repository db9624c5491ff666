package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status     *StatusCommand
	Samples    *SamplesCommand
	Fix        *FixCommand
	Heartbeat  *HeartbeatCommand
	Close      *CloseCommand
	Import     *ImportCommand
	Merge      *MergeCommand
	Prune      *PruneCommand
	Purge      *PurgeCommand
	MigrateUTC *MigrateUTCCommand
	Wake       *WakeCommand
	Watch      *WatchCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "exposure"
	parser.LongDescription = "On-device location sample store and exposure-intersection engine."

	cmds := &commands{
		Status:     &StatusCommand{globals: &globals, version: version},
		Samples:    &SamplesCommand{globals: &globals, version: version},
		Fix:        &FixCommand{globals: &globals, version: version},
		Heartbeat:  &HeartbeatCommand{globals: &globals, version: version},
		Close:      &CloseCommand{globals: &globals, version: version},
		Import:     &ImportCommand{globals: &globals, version: version},
		Merge:      &MergeCommand{globals: &globals, version: version},
		Prune:      &PruneCommand{globals: &globals, version: version},
		Purge:      &PurgeCommand{globals: &globals, version: version},
		MigrateUTC: &MigrateUTCCommand{globals: &globals, version: version},
		Wake:       &WakeCommand{globals: &globals, version: version},
		Watch:      &WatchCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show store statistics", "Show sample and registry statistics and a configuration summary.", cmds.Status)
	parser.AddCommand("samples", "List stored samples", "List stored location samples, newest last.", cmds.Samples)
	parser.AddCommand("fix", "Apply a location fix", "Apply one location fix: open, roll over or close the current sample.", cmds.Fix)
	parser.AddCommand("heartbeat", "Record a heartbeat", "Record a stationary liveness ping. Nothing is stored.", cmds.Heartbeat)
	parser.AddCommand("close", "Close the open sample", "Close the open sample, e.g. when the location provider stops.", cmds.Close)
	parser.AddCommand("import", "Bulk-import samples", "Bulk-import samples from a (v1,...,v8),(...) payload file or stdin.", cmds.Import)
	parser.AddCommand("merge", "Merge a sick-records feed", "Merge a downloaded sick-records feed (JSON) into the registry.", cmds.Merge)
	parser.AddCommand("prune", "Apply retention pruning", "Delete closed samples older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL samples", "Delete ALL samples, and with --registry the sick-records registry. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("migrate-utc", "Apply the one-time UTC correction", "Shift every stored sample back by a fixed offset, once per database.", cmds.MigrateUTC)
	parser.AddCommand("wake", "Run one wake cycle", "Run one background wake cycle: retention, UTC migration, pending fix, BLE and geo checks.", cmds.Wake)
	parser.AddCommand("watch", "Watch the inbox", "Apply files dropped into the inbox and run wake cycles on a timer.", cmds.Watch)

	return parser, &globals, cmds
}

// Run is the main entry point for the exposure CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("exposure %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
