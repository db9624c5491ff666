package cli

import (
	"context"
	"fmt"
	"time"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, c.executeWithApp)
}

func (c *PruneCommand) executeWithApp(a *app) error {
	ctx := context.Background()

	retention := a.cfg.RetentionWindow()
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return err
		}
		retention = d
	}
	cutoff := time.Now().Add(-retention).UnixMilli()

	count, err := a.samples.CountOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count expired samples: %w", err)
	}

	if c.DryRun || count == 0 {
		return c.report(count, retention, cutoff)
	}

	if !c.Force {
		fmt.Printf("%d closed samples are older than %s.\n", count, formatDurationHuman(retention))
		if !confirm(c.stdin, "Proceed? [y/N] ", "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var pruned int64
	if c.OlderThan == "" {
		pruned, err = a.orch.Prune(ctx)
	} else {
		pruned, err = a.samples.PurgeOlderThan(ctx, cutoff)
	}
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return c.report(pruned, retention, cutoff)
}

func (c *PruneCommand) report(n int64, retention time.Duration, cutoff int64) error {
	if jsonOut(c.globals) {
		return printJSON(map[string]any{
			"pruned":     n,
			"dry_run":    c.DryRun,
			"older_than": formatDurationHuman(retention),
			"cutoff":     formatMillis(cutoff),
		})
	}

	switch {
	case n == 0:
		fmt.Println("No samples to prune.")
	case c.DryRun:
		fmt.Printf("[DRY RUN] Would prune %s samples older than %s.\n", formatNumber(n), formatDurationHuman(retention))
	default:
		fmt.Printf("Pruned %s samples older than %s.\n", formatNumber(n), formatDurationHuman(retention))
	}
	return nil
}
