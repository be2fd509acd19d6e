package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// NewRefreshCommand returns the refresh subcommand.
func NewRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Re-fetch the cached price series of every subject (or one)",
		ArgsUsage: "[SUBJECT]",
		Action:    runRefresh,
	}
}

func runRefresh(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Refresh.SourceURL == "" {
		return fmt.Errorf("refresh.source_url is not configured")
	}

	if subject := cmd.Args().First(); subject != "" {
		conv, err := a.ctrl.Conversation(subject)
		if err != nil {
			return err
		}
		if err := a.refresher.Refresh(ctx, conv.Subject); err != nil {
			return err
		}
		fmt.Printf("Refreshed %s.\n", conv.Subject)
		return nil
	}

	n, err := a.refresher.RefreshAll(ctx)
	if err != nil {
		slog.Warn("some subjects kept their previous data", "error", err)
	}
	fmt.Printf("Refreshed %d subject(s).\n", n)
	return nil
}
