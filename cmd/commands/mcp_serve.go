package commands

import (
	"context"
	"log/slog"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	fxmcp "github.com/dohr-michael/fintellix/internal/mcp"
)

// Version is reported to MCP clients.
var Version = "dev"

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "mcp-serve",
		Usage:  "Expose queries and conversations as an MCP server (stdio)",
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the MCP transport.
	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()
	a.refresher.Start()

	server := fxmcp.NewServer(a.ctrl, Version)
	slog.Debug("starting MCP server", "subjects", len(a.ctrl.Subjects()))
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
