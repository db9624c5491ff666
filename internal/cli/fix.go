package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/exposure/internal/tracker"
)

// Execute implements the go-flags Commander interface for FixCommand.
func (c *FixCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, c.executeWithApp)
}

func (c *FixCommand) executeWithApp(a *app) error {
	ctx := context.Background()

	fix := tracker.Fix{
		Latitude:  c.Lat,
		Longitude: c.Long,
		Accuracy:  c.Accuracy,
		Timestamp: c.Timestamp,
		IsMoving:  c.Moving,
		WifiHash:  c.WifiHash,
	}
	if fix.Timestamp == 0 {
		fix.Timestamp = time.Now().UnixMilli()
	}

	if c.Pending {
		if err := a.orch.Remember(ctx, fix); err != nil {
			return fmt.Errorf("store pending fix: %w", err)
		}
		if jsonOut(c.globals) {
			return printJSON(map[string]any{"pending": true, "timestamp": fix.Timestamp})
		}
		fmt.Println("Stored pending fix for the next wake cycle.")
		return nil
	}

	t, err := a.orch.OnLocation(ctx, fix)
	if err != nil {
		return fmt.Errorf("apply fix: %w", err)
	}

	if jsonOut(c.globals) {
		return printJSON(map[string]any{"transition": string(t), "timestamp": fix.Timestamp})
	}
	fmt.Printf("Fix applied: %s\n", t)
	return nil
}

// Execute implements the go-flags Commander interface for HeartbeatCommand.
func (c *HeartbeatCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, func(a *app) error {
		a.orch.OnHeartbeat(context.Background())
		return nil
	})
}

// Execute implements the go-flags Commander interface for CloseCommand.
func (c *CloseCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, c.executeWithApp)
}

func (c *CloseCommand) executeWithApp(a *app) error {
	at := c.At
	if at == 0 {
		at = time.Now().UnixMilli()
	}

	closed, err := a.samples.CloseLastOpenSample(context.Background(), at)
	if err != nil {
		return fmt.Errorf("close sample: %w", err)
	}

	if jsonOut(c.globals) {
		if closed == nil {
			return printJSON(map[string]any{"closed": false})
		}
		return printJSON(map[string]any{"closed": true, "id": closed.ID, "end_time": at})
	}
	if closed == nil {
		fmt.Println("No open sample.")
		return nil
	}
	fmt.Printf("Closed sample %d at %s.\n", closed.ID, formatMillis(at))
	return nil
}
