// Package mcp exposes the session controller to MCP clients, so an assistant
// can queue analyses and read the answers back.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/fintellix/internal/conversations"
	"github.com/dohr-michael/fintellix/internal/session"
	"github.com/dohr-michael/fintellix/internal/subjects"
	"github.com/dohr-michael/fintellix/internal/tasks"
)

// Controller is the part of session.Controller offered as MCP tools.
type Controller interface {
	SubmitQuery(subject, text string) (session.SubmitResult, error)
	SubmitCompetitors(subject string, competitors []string) (session.SubmitResult, error)
	Poll(subject string) (tasks.Status, error)
	Tick(subject string) (bool, error)
	Conversation(subject string) (*conversations.Conversation, error)
	Subjects() []subjects.Key
}

// Tool names.
const (
	ToolSubmitQuery       = "submit_query"
	ToolSubmitCompetitors = "submit_competitors"
	ToolPollSubject       = "poll_subject"
	ToolGetConversation   = "get_conversation"
	ToolListSubjects      = "list_subjects"
)

type param struct {
	typ      string
	desc     string
	required bool
}

type toolDef struct {
	name   string
	desc   string
	params map[string]param
}

var toolDefs = []toolDef{
	{
		name: ToolSubmitQuery,
		desc: "Queue a question about a stock symbol. Returns immediately; use poll_subject and get_conversation for the answer.",
		params: map[string]param{
			"subject": {"string", "Stock symbol, e.g. NVDA", true},
			"text":    {"string", "The question", true},
		},
	},
	{
		name: ToolSubmitCompetitors,
		desc: "Queue a competitor comparison for a stock symbol.",
		params: map[string]param{
			"subject":     {"string", "Stock symbol being compared", true},
			"competitors": {"array", "Competitor symbols", true},
		},
	},
	{
		name: ToolPollSubject,
		desc: "Report whether a job for the symbol is idle, running, complete or failed.",
		params: map[string]param{
			"subject": {"string", "Stock symbol", true},
		},
	},
	{
		name: ToolGetConversation,
		desc: "Return the conversation for a symbol, including any answer that just finished.",
		params: map[string]param{
			"subject": {"string", "Stock symbol", true},
		},
	},
	{
		name: ToolListSubjects,
		desc: "List symbols with a conversation, oldest conversation first.",
	},
}

// inputSchema renders params as a JSON Schema object.
func inputSchema(params map[string]param) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		prop := map[string]any{"type": p.typ, "description": p.desc}
		if p.typ == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		props[name] = prop
		if p.required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Tools dispatches MCP tool calls to a Controller.
type Tools struct {
	ctrl Controller
}

// NewTools creates the dispatcher.
func NewTools(ctrl Controller) *Tools {
	return &Tools{ctrl: ctrl}
}

type callArgs struct {
	Subject     string   `json:"subject"`
	Text        string   `json:"text"`
	Competitors []string `json:"competitors"`
}

// Call runs tool name with JSON arguments and returns its text result.
func (t *Tools) Call(name string, raw json.RawMessage) (string, error) {
	var args callArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	switch name {
	case ToolSubmitQuery:
		res, err := t.ctrl.SubmitQuery(args.Subject, args.Text)
		if err != nil {
			return "", err
		}
		return describeSubmit(res), nil
	case ToolSubmitCompetitors:
		res, err := t.ctrl.SubmitCompetitors(args.Subject, args.Competitors)
		if err != nil {
			return "", err
		}
		return describeSubmit(res), nil
	case ToolPollSubject:
		st, err := t.ctrl.Poll(args.Subject)
		if err != nil {
			return "", err
		}
		if st.TaskID == "" {
			return fmt.Sprintf("%s: %s", st.Subject, st.State), nil
		}
		return fmt.Sprintf("%s: %s (%s)", st.Subject, st.State, st.TaskID), nil
	case ToolGetConversation:
		if _, err := t.ctrl.Tick(args.Subject); err != nil {
			return "", err
		}
		conv, err := t.ctrl.Conversation(args.Subject)
		if err != nil {
			return "", err
		}
		return formatConversation(conv), nil
	case ToolListSubjects:
		keys := t.ctrl.Subjects()
		if len(keys) == 0 {
			return "no conversations", nil
		}
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = string(k)
		}
		return strings.Join(names, "\n"), nil
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func describeSubmit(res session.SubmitResult) string {
	if res.Queued {
		return fmt.Sprintf("queued %s for %s", res.TaskID, res.Subject)
	}
	return fmt.Sprintf("%s already has a job running; the question was recorded but not queued", res.Subject)
}

func formatConversation(conv *conversations.Conversation) string {
	if conv == nil || len(conv.Messages) == 0 {
		return "no messages"
	}
	var b strings.Builder
	for i, m := range conv.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", m.Role, m.Content)
	}
	return b.String()
}

// NewServer creates an MCP server offering the controller's operations.
func NewServer(ctrl Controller, version string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "fintellix",
		Version: version,
	}, nil)

	tools := NewTools(ctrl)
	for _, def := range toolDefs {
		name := def.name
		server.AddTool(&mcpsdk.Tool{
			Name:        name,
			Description: def.desc,
			InputSchema: inputSchema(def.params),
		}, func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			text, err := tools.Call(name, req.Params.Arguments)
			if err != nil {
				if isUserError(err) {
					slog.Debug("mcp tool rejected", "tool", name, "error", err)
				} else {
					slog.Warn("mcp tool failed", "tool", name, "error", err)
				}
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
			}, nil
		})
	}
	return server
}

// isUserError reports whether err came from bad tool input.
func isUserError(err error) bool {
	return errors.Is(err, subjects.ErrInvalidKey) ||
		errors.Is(err, session.ErrEmptyQuery) ||
		errors.Is(err, session.ErrNoCompetitors) ||
		errors.Is(err, session.ErrUnknownSubject)
}
