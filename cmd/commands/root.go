package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/fintellix/internal/config"
	"github.com/dohr-michael/fintellix/internal/secrets"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "fintellix",
		Usage: "Stock analysis chat with background LLM jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			if err := secrets.UnsealFromKeyFile(secrets.KeyPath()); err != nil {
				slog.Warn("unseal environment", "error", err)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewAskCommand(),
			NewWatchCommand(),
			NewStatusCommand(),
			NewConversationsCommand(),
			NewProvidersCommand(),
			NewSettingsCommand(),
			NewRefreshCommand(),
			NewSecretsCommand(),
			NewMCPServeCommand(),
		},
	}
}
