package cli

import (
	"context"
	"fmt"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}
	return withApp(c.app, c.globals, c.executeWithApp)
}

func (c *PurgeCommand) executeWithApp(a *app) error {
	// Confirmation prompt unless --force
	if !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete ALL stored location samples.")
		if c.Registry {
			fmt.Println("  - and every known sick record")
		}
		fmt.Println()
		fmt.Println("This action cannot be undone.")
		fmt.Println()
		if !confirm(c.stdin, `Type "PURGE" to confirm: `, "PURGE") {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

	ctx := context.Background()
	samples, err := a.samples.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	var sick int64
	if c.Registry {
		if sick, err = a.registry.DeleteAll(ctx); err != nil {
			return fmt.Errorf("purge registry failed: %w", err)
		}
	}

	if jsonOut(c.globals) {
		return printJSON(map[string]any{
			"purged":       true,
			"samples":      samples,
			"sick_records": sick,
		})
	}

	fmt.Printf("Purged %s samples.\n", formatNumber(samples))
	if c.Registry {
		fmt.Printf("Purged %s sick records.\n", formatNumber(sick))
	}
	return nil
}
