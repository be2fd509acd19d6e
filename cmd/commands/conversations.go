package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/fintellix/internal/conversations"
)

// NewConversationsCommand returns the conversations subcommand.
func NewConversationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "conversations",
		Aliases: []string{"conv"},
		Usage:   "Inspect stored conversations",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List subjects with a conversation",
				Action: runConversationsList,
			},
			{
				Name:      "show",
				Usage:     "Show the messages of a subject",
				ArgsUsage: "<SUBJECT>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: text, markdown, json or yaml",
						Value: "text",
					},
				},
				Action: runConversationsShow,
			},
			{
				Name:  "clear",
				Usage: "Delete every conversation",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Do not ask for confirmation",
					},
				},
				Action: runConversationsClear,
			},
		},
		DefaultCommand: "list",
	}
}

func runConversationsList(_ context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	list := a.ctrl.Subjects()
	if len(list) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tMESSAGES\tSTARTED\tDATA")
	for _, k := range list {
		conv, err := a.ctrl.Conversation(string(k))
		if err != nil {
			continue
		}
		started := "-"
		if ts := conv.StartedAt(); !ts.IsZero() {
			started = ts.Local().Format("2006-01-02 15:04")
		}
		data := "-"
		if len(conv.Data) > 0 {
			data = fmt.Sprintf("%d bytes", len(conv.Data))
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", k, len(conv.Messages), started, data)
	}
	return w.Flush()
}

// exportMessage is the yaml/json shape of a message.
type exportMessage struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
	Ts      string `json:"ts,omitempty" yaml:"ts,omitempty"`
}

type exportConversation struct {
	Subject  string          `json:"subject" yaml:"subject"`
	Messages []exportMessage `json:"messages" yaml:"messages"`
	Data     any             `json:"stock_data,omitempty" yaml:"stock_data,omitempty"`
}

func toExport(conv *conversations.Conversation) (exportConversation, error) {
	out := exportConversation{Subject: string(conv.Subject), Messages: make([]exportMessage, 0, len(conv.Messages))}
	for _, m := range conv.Messages {
		em := exportMessage{Role: string(m.Role), Content: m.Content}
		if !m.Ts.IsZero() {
			em.Ts = m.Ts.Format(time.RFC3339)
		}
		out.Messages = append(out.Messages, em)
	}
	if len(conv.Data) > 0 {
		if err := json.Unmarshal(conv.Data, &out.Data); err != nil {
			return out, fmt.Errorf("decode stock data: %w", err)
		}
	}
	return out, nil
}

func runConversationsShow(_ context.Context, cmd *cli.Command) error {
	subject := cmd.Args().First()
	if subject == "" {
		return fmt.Errorf("usage: fintellix conversations show <SUBJECT>")
	}

	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.ctrl.Conversation(subject)
	if err != nil {
		return err
	}

	switch format := strings.ToLower(cmd.String("format")); format {
	case "yaml", "json":
		exp, err := toExport(conv)
		if err != nil {
			return err
		}
		if format == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(exp)
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(exp)
	case "markdown", "md":
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", conv.Subject)
		for _, m := range conv.Messages {
			fmt.Fprintf(&b, "**%s**\n\n%s\n\n", m.Role, m.Content)
		}
		printMarkdown(os.Stdout, b.String(), false)
		return nil
	case "text":
		if len(conv.Messages) == 0 {
			fmt.Println("No messages for this subject.")
			return nil
		}
		for _, m := range conv.Messages {
			fmt.Printf("[%s] %s: %s\n", m.Ts.Local().Format("15:04:05"), m.Role, m.Content)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func runConversationsClear(_ context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		if !isTTY(os.Stdin) {
			return fmt.Errorf("refusing to clear without --yes")
		}
		fmt.Fprint(os.Stderr, "Delete every conversation? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	n := len(a.ctrl.Subjects())
	if err := a.ctrl.Clear(); err != nil {
		return err
	}
	fmt.Printf("Cleared %d conversation(s).\n", n)
	return nil
}
