package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/fintellix/internal/config"
	"github.com/dohr-michael/fintellix/internal/settings"
)

// NewSettingsCommand returns the settings subcommand.
func NewSettingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change persisted preferences",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the current settings",
				Action: runSettingsShow,
			},
			{
				Name:  "set",
				Usage: "Change provider, model or display preferences",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "provider", Usage: "lm_studio, ollama or openai"},
					&cli.StringFlag{Name: "model", Usage: "Model name (empty = provider default)"},
					&cli.BoolFlag{Name: "beginner", Usage: "Explain financial terms in answers"},
					&cli.BoolFlag{Name: "web-search", Usage: "Offer the web_search tool to the backend"},
				},
				Action: runSettingsSet,
			},
		},
		DefaultCommand: "show",
	}
}

func runSettingsShow(_ context.Context, _ *cli.Command) error {
	st := settings.Open(config.SettingsPath())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st.Current())
}

func runSettingsSet(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.IsSet("provider") || cmd.IsSet("model") {
		name := a.ctrl.Context().Selection.Provider
		if cmd.IsSet("provider") {
			name = cmd.String("provider")
		}
		sel, err := a.ctrl.SetProvider(ctx, name, cmd.String("model"))
		if err != nil {
			return err
		}
		fmt.Printf("provider: %s, model: %s\n", sel.Provider, sel.Model)
	}

	if cmd.IsSet("beginner") || cmd.IsSet("web-search") {
		cur, err := a.settings.Update(func(s *settings.Settings) {
			if cmd.IsSet("beginner") {
				s.BeginnerMode = cmd.Bool("beginner")
			}
			if cmd.IsSet("web-search") {
				s.WebSearch = cmd.Bool("web-search")
			}
		})
		if err != nil {
			return err
		}
		fmt.Printf("beginner_mode: %t, web_search: %t\n", cur.BeginnerMode, cur.WebSearch)
	}
	return nil
}
