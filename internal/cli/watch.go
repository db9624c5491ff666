package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/runnerr0/exposure/internal/watch"
)

// Execute implements the go-flags Commander interface for WatchCommand.
func (c *WatchCommand) Execute(args []string) error {
	return withApp(c.app, c.globals, func(a *app) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return c.executeWithApp(ctx, a)
	})
}

func (c *WatchCommand) executeWithApp(ctx context.Context, a *app) error {
	inbox := c.Inbox
	if inbox == "" {
		var err error
		if inbox, err = a.cfg.InboxPath(); err != nil {
			return err
		}
	}

	interval := a.cfg.WakeInterval()
	if c.Interval != "" {
		d, err := parseDuration(c.Interval)
		if err != nil {
			return err
		}
		interval = d
	}
	if c.NoWake {
		interval = 0
	}

	w := watch.New(watch.Config{
		InboxDir:     inbox,
		WakeInterval: interval,
		Indices:      a.feedIndices(),
	}, a.orch, a.samples, a.logger)

	w.OnOutcome = func(o watch.Outcome) {
		if o.Err != nil {
			fmt.Printf("%s: %s failed: %v\n", o.Path, o.Kind, o.Err)
			return
		}
		fmt.Printf("%s: %s applied (%d)\n", o.Path, o.Kind, o.Count)
	}
	w.OnWake = printReport

	return w.Run(ctx)
}
