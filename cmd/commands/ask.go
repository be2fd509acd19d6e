package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/fintellix/internal/conversations"
	"github.com/dohr-michael/fintellix/internal/session"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask about a stock and print the answer",
		ArgsUsage: "<SUBJECT> <question...>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "competitors",
				Usage: "Compare SUBJECT with these tickers instead of asking a question",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Provider to use for this question (persisted)",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model to use for this question (persisted)",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 300,
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print markdown without rendering",
			},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	competitors := cmd.StringSlice("competitors")
	if len(args) < 1 || (len(args) < 2 && len(competitors) == 0) {
		return fmt.Errorf("usage: fintellix ask <SUBJECT> <question...>")
	}
	subject, text := args[0], strings.Join(args[1:], " ")

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
		if _, err := a.ctrl.SetProvider(ctx, name, cmd.String("model")); err != nil {
			return err
		}
	}

	var res session.SubmitResult
	if len(competitors) > 0 {
		res, err = a.ctrl.SubmitCompetitors(subject, competitors)
	} else {
		res, err = a.ctrl.SubmitQuery(subject, text)
	}
	if err != nil {
		return err
	}
	if !res.Queued {
		return fmt.Errorf("%s already has a job in flight; question recorded", res.Subject)
	}

	sel := a.ctrl.Context().Selection
	fmt.Fprintf(os.Stderr, "asking %s/%s about %s...\n", sel.Provider, sel.Model, res.Subject)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		landed, err := a.ctrl.Tick(string(res.Subject))
		if err != nil {
			return err
		}
		if landed {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for the answer (the job keeps its slot until it returns)")
		case <-ticker.C:
		}
	}

	conv, err := a.ctrl.Conversation(string(res.Subject))
	if err != nil {
		return err
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != conversations.RoleAssistant {
		return fmt.Errorf("no answer recorded for %s", res.Subject)
	}
	printMarkdown(os.Stdout, last.Content, cmd.Bool("raw"))
	if strings.HasPrefix(last.Content, session.ErrorPrefix) {
		return fmt.Errorf("job for %s failed", res.Subject)
	}
	return nil
}
