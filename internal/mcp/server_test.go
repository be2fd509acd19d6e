package mcp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dohr-michael/fintellix/internal/conversations"
	"github.com/dohr-michael/fintellix/internal/session"
	"github.com/dohr-michael/fintellix/internal/subjects"
	"github.com/dohr-michael/fintellix/internal/tasks"
)

type fakeController struct {
	busy   bool
	ticks  int
	convs  map[subjects.Key]*conversations.Conversation
	order  []subjects.Key
	lastCo []string
}

func newFake() *fakeController {
	return &fakeController{convs: map[subjects.Key]*conversations.Conversation{}}
}

func (f *fakeController) SubmitQuery(subject, text string) (session.SubmitResult, error) {
	k, err := subjects.Normalize(subject)
	if err != nil {
		return session.SubmitResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return session.SubmitResult{}, session.ErrEmptyQuery
	}
	conv, ok := f.convs[k]
	if !ok {
		conv = &conversations.Conversation{Subject: k}
		f.convs[k] = conv
		f.order = append(f.order, k)
	}
	m := conv.Append(conversations.RoleUser, text)
	if f.busy {
		return session.SubmitResult{Subject: k, Message: m}, nil
	}
	f.busy = true
	return session.SubmitResult{Subject: k, Message: m, Queued: true, TaskID: "task_0001"}, nil
}

func (f *fakeController) SubmitCompetitors(subject string, competitors []string) (session.SubmitResult, error) {
	if len(competitors) == 0 {
		return session.SubmitResult{}, session.ErrNoCompetitors
	}
	f.lastCo = competitors
	return f.SubmitQuery(subject, "Compare "+subject+" with "+strings.Join(competitors, ", "))
}

func (f *fakeController) Poll(subject string) (tasks.Status, error) {
	k, err := subjects.Normalize(subject)
	if err != nil {
		return tasks.Status{}, err
	}
	if f.busy {
		return tasks.Status{Subject: k, State: tasks.StateRunning, TaskID: "task_0001"}, nil
	}
	return tasks.Status{Subject: k, State: tasks.StateIdle}, nil
}

func (f *fakeController) Tick(subject string) (bool, error) {
	f.ticks++
	k := subjects.MustNormalize(subject)
	if !f.busy {
		return false, nil
	}
	f.busy = false
	f.convs[k].Append(conversations.RoleAssistant, "XYZ trades near its 52-week high.")
	return true, nil
}

func (f *fakeController) Conversation(subject string) (*conversations.Conversation, error) {
	k, err := subjects.Normalize(subject)
	if err != nil {
		return nil, err
	}
	conv, ok := f.convs[k]
	if !ok {
		return nil, session.ErrUnknownSubject
	}
	return conv.Clone(), nil
}

func (f *fakeController) Subjects() []subjects.Key { return f.order }

func call(t *testing.T, tools *Tools, name, args string) (string, error) {
	t.Helper()
	return tools.Call(name, json.RawMessage(args))
}

func TestToolsQueryFlow(t *testing.T) {
	ctrl := newFake()
	tools := NewTools(ctrl)

	out, err := call(t, tools, ToolSubmitQuery, `{"subject":"xyz","text":"How is XYZ doing?"}`)
	if err != nil || !strings.Contains(out, "queued task_0001 for XYZ") {
		t.Fatalf("submit = %q, %v", out, err)
	}

	out, err = call(t, tools, ToolSubmitQuery, `{"subject":"XYZ","text":"And the dividend?"}`)
	if err != nil || !strings.Contains(out, "not queued") {
		t.Fatalf("busy submit = %q, %v", out, err)
	}

	out, err = call(t, tools, ToolPollSubject, `{"subject":"XYZ"}`)
	if err != nil || out != "XYZ: running (task_0001)" {
		t.Fatalf("poll = %q, %v", out, err)
	}

	out, err = call(t, tools, ToolGetConversation, `{"subject":"XYZ"}`)
	if err != nil {
		t.Fatal(err)
	}
	if ctrl.ticks != 1 {
		t.Errorf("get_conversation ticks = %d, want 1", ctrl.ticks)
	}
	want := "[user] How is XYZ doing?\n\n[user] And the dividend?\n\n[assistant] XYZ trades near its 52-week high."
	if out != want {
		t.Errorf("conversation =\n%s\nwant\n%s", out, want)
	}

	out, err = call(t, tools, ToolPollSubject, `{"subject":"XYZ"}`)
	if err != nil || out != "XYZ: idle" {
		t.Fatalf("poll after tick = %q, %v", out, err)
	}
}

func TestToolsCompetitorsAndList(t *testing.T) {
	ctrl := newFake()
	tools := NewTools(ctrl)

	if out, _ := call(t, tools, ToolListSubjects, ``); out != "no conversations" {
		t.Errorf("empty list = %q", out)
	}
	if _, err := call(t, tools, ToolSubmitCompetitors, `{"subject":"NVDA","competitors":["AMD","INTC"]}`); err != nil {
		t.Fatal(err)
	}
	if strings.Join(ctrl.lastCo, ",") != "AMD,INTC" {
		t.Errorf("competitors = %v", ctrl.lastCo)
	}
	if out, _ := call(t, tools, ToolListSubjects, `{}`); out != "NVDA" {
		t.Errorf("list = %q", out)
	}
}

func TestToolsErrors(t *testing.T) {
	tools := NewTools(newFake())

	cases := []struct {
		name, tool, args string
		want             error
	}{
		{"bad subject", ToolSubmitQuery, `{"subject":"","text":"hi"}`, subjects.ErrInvalidKey},
		{"empty query", ToolSubmitQuery, `{"subject":"XYZ","text":"  "}`, session.ErrEmptyQuery},
		{"no competitors", ToolSubmitCompetitors, `{"subject":"XYZ"}`, session.ErrNoCompetitors},
		{"unknown subject", ToolGetConversation, `{"subject":"QQQ"}`, session.ErrUnknownSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := call(t, tools, tc.tool, tc.args)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if !isUserError(err) {
				t.Errorf("%v not classified as user error", err)
			}
		})
	}

	if _, err := call(t, tools, "delete_everything", `{}`); err == nil {
		t.Error("unknown tool accepted")
	}
	if _, err := call(t, tools, ToolPollSubject, `{not json`); err == nil {
		t.Error("invalid json accepted")
	}
}

func TestInputSchema(t *testing.T) {
	for _, def := range toolDefs {
		schema := inputSchema(def.params)
		if schema["type"] != "object" {
			t.Errorf("%s: type = %v", def.name, schema["type"])
		}
		req, _ := schema["required"].([]string)
		if len(req) != len(def.params) {
			t.Errorf("%s: required = %v", def.name, req)
		}
	}
	comp := inputSchema(toolDefs[1].params)["properties"].(map[string]any)["competitors"].(map[string]any)
	if comp["type"] != "array" || comp["items"] == nil {
		t.Errorf("competitors schema = %v", comp)
	}
}

func TestNewServer(t *testing.T) {
	if NewServer(newFake(), "test") == nil {
		t.Fatal("NewServer returned nil")
	}
}
