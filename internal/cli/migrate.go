package cli

import (
	"context"
	"fmt"
)

// Execute implements the go-flags Commander interface for MigrateUTCCommand.
func (c *MigrateUTCCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, c.executeWithApp)
}

func (c *MigrateUTCCommand) executeWithApp(a *app) error {
	offset := c.Offset
	if offset == 0 {
		offset = a.cfg.Sync.UTCOffsetMillis
	}

	applied, err := a.samples.MigrateToUTC(context.Background(), offset)
	if err != nil {
		return fmt.Errorf("migrate to utc: %w", err)
	}

	if jsonOut(c.globals) {
		return printJSON(map[string]any{"applied": applied, "offset_millis": offset})
	}
	if applied {
		fmt.Printf("Shifted all samples by -%dms.\n", offset)
	} else {
		fmt.Println("UTC migration already applied; nothing changed.")
	}
	return nil
}
