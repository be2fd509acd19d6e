package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/fintellix/internal/config"
	"github.com/dohr-michael/fintellix/internal/gateway"
	"github.com/dohr-michael/fintellix/internal/heartbeat"
	"github.com/dohr-michael/fintellix/internal/storage"
)

func heartbeatPath() string {
	return filepath.Join(config.FintellixPath(), "heartbeat.json")
}

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP/WebSocket control surface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	host, port := a.cfg.Gateway.Host, a.cfg.Gateway.Port
	if cmd.IsSet("host") {
		host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		port = int(cmd.Int("port"))
	}

	eventLog := storage.NewEventLogger(filepath.Join(config.FintellixPath(), "logs", "events"), a.bus)
	defer eventLog.Close()

	a.refresher.Start()

	server := gateway.NewServer(gateway.Deps{
		Bus:        a.bus,
		Controller: a.ctrl,
		Registry:   a.registry,
		Settings:   a.settings,
		Refresher:  a.refresher,
	}, host, port)

	hb := heartbeat.NewWriter(heartbeatPath(), fmt.Sprintf("%s:%d", host, port), a.cfg.Scheduler.Workers,
		func() int { return len(a.scheduler.Active()) })
	hb.Start()
	defer hb.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
