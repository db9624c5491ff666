package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/runnerr0/exposure/internal/feed"
	"github.com/runnerr0/exposure/internal/storage"
)

// Execute implements the go-flags Commander interface for ImportCommand.
func (c *ImportCommand) Execute(args []string) error {
	data, err := readInput(args, c.stdin)
	if err != nil {
		return err
	}
	return withApp(c.app, c.globals, func(a *app) error {
		return c.executeWithApp(a, string(data))
	})
}

func (c *ImportCommand) executeWithApp(a *app, payload string) error {
	ctx := context.Background()

	if c.BatchRows > 0 {
		a.samples.SetBatchRows(c.BatchRows)
	}

	var (
		n        int
		replaced int64
		err      error
	)
	if c.Replace {
		n, replaced, err = a.samples.ReplaceAll(ctx, payload)
	} else {
		n, err = a.samples.BulkInsert(ctx, payload)
	}
	if storage.IsConstraint(err) {
		return fmt.Errorf("import rejected: payload breaks a sample constraint (one open sample, end not before start): %w", err)
	}
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	if jsonOut(c.globals) {
		return printJSON(map[string]any{"imported": n, "replaced": replaced})
	}
	if c.Replace {
		fmt.Printf("Replaced %s samples.\n", formatNumber(replaced))
	}
	fmt.Printf("Imported %s samples.\n", formatNumber(int64(n)))
	return nil
}

// Execute implements the go-flags Commander interface for MergeCommand.
func (c *MergeCommand) Execute(args []string) error {
	data, err := readInput(args, c.stdin)
	if err != nil {
		return err
	}
	return withApp(c.app, c.globals, func(a *app) error {
		return c.executeWithApp(a, data)
	})
}

func (c *MergeCommand) executeWithApp(a *app, data []byte) error {
	res, err := feed.Decode(bytes.NewReader(data), a.feedIndices())
	if err != nil {
		return err
	}

	added, err := a.orch.MergeFeed(context.Background(), res.Records)
	if err != nil {
		return fmt.Errorf("merge feed: %w", err)
	}

	if jsonOut(c.globals) {
		skipped := make([]map[string]any, len(res.Skipped))
		for i, s := range res.Skipped {
			skipped[i] = map[string]any{"index": s.Index, "reason": s.Reason}
		}
		return printJSON(map[string]any{
			"received": len(res.Records),
			"added":    added,
			"skipped":  skipped,
		})
	}

	fmt.Printf("Merged feed: %d received, %d new, %d already known.\n",
		len(res.Records), added, len(res.Records)-added)
	for _, s := range res.Skipped {
		fmt.Printf("  skipped entry %d: %s\n", s.Index, s.Reason)
	}
	return nil
}
