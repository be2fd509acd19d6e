package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/fintellix/clients/ws"
	"github.com/dohr-michael/fintellix/internal/events"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream events from a running gateway",
		ArgsUsage: "[SUBJECT]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL (default from config)",
			},
			&cli.IntFlag{
				Name:  "replay",
				Usage: "Print up to N remembered events first",
				Value: 20,
			},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("gateway")
	if url == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		url = fmt.Sprintf("ws://%s:%d/api/ws", cfg.Gateway.Host, cfg.Gateway.Port)
	}

	client, err := wsclient.Dial(ctx, url, wsclient.Options{
		Subject: cmd.Args().First(),
		Replay:  int(cmd.Int("replay")),
	})
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Event == "" {
			continue
		}
		fmt.Fprintf(os.Stdout, "%s  %-22s %-6s %s\n",
			time.Now().Format("15:04:05"), frame.Event, frame.Subject, summarize(frame.Payload))
	}
}

// summarize extracts the payload map of an event frame for display.
func summarize(raw []byte) string {
	var e events.Event
	if err := json.Unmarshal(raw, &e); err != nil || len(e.Payload) == 0 {
		return ""
	}
	return fmt.Sprint(e.Payload)
}
