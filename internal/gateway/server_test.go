package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/fintellix/internal/conversations"
	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/providers"
	"github.com/dohr-michael/fintellix/internal/session"
	"github.com/dohr-michael/fintellix/internal/settings"
	"github.com/dohr-michael/fintellix/internal/subjects"
	"github.com/dohr-michael/fintellix/internal/tasks"
)

type stubProvider struct {
	name   string
	models []string
	up     bool
}

func (p *stubProvider) Name() string                        { return p.name }
func (p *stubProvider) DefaultModel() string                { return "default-model" }
func (p *stubProvider) ListModels(context.Context) []string { return p.models }
func (p *stubProvider) IsAvailable(context.Context) bool    { return p.up }
func (p *stubProvider) RunQuery(context.Context, providers.Query) (string, error) {
	return "", nil
}

type testServer struct {
	*Server
	bus     *events.Bus
	sched   *tasks.Scheduler
	release chan struct{}
	once    sync.Once
}

func (ts *testServer) releaseAll() {
	ts.once.Do(func() { close(ts.release) })
}

// waitForEvents polls the bus history until at least n events are present.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	release := make(chan struct{})
	sched := tasks.NewScheduler(tasks.Config{
		Bus: bus,
		Runner: tasks.RunnerFunc(func(_ context.Context, task tasks.Task) (string, error) {
			<-release
			return "answer to " + task.Query, nil
		}),
	})
	sched.Start()
	t.Cleanup(sched.Stop)

	reg := providers.NewRegistry(
		&stubProvider{name: providers.NameLMStudio, up: true},
		&stubProvider{name: providers.NameOllama, models: []string{"llama3"}},
	)
	st := settings.Open(filepath.Join(dir, "settings.json"))
	ctrl := session.New(session.Config{
		Store:     conversations.NewFileStore(filepath.Join(dir, "conversations.json")),
		Scheduler: sched,
		Registry:  reg,
		Settings:  st,
		Bus:       bus,
	})

	srv := NewServer(Deps{Bus: bus, Controller: ctrl, Registry: reg, Settings: st}, "localhost", 0)
	t.Cleanup(srv.hub.Close)
	ts := &testServer{Server: srv, bus: bus, sched: sched, release: release}
	// Runs before sched.Stop so blocked jobs can return.
	t.Cleanup(ts.releaseAll)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) finish(t *testing.T, subject subjects.Key) {
	t.Helper()
	ts.releaseAll()
	deadline := time.Now().Add(2 * time.Second)
	for !ts.sched.Poll(subject).State.Terminal() {
		if time.Now().After(deadline) {
			t.Fatalf("%s did not finish", subject)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestSubmitPollAndRead(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/subjects/xyz/queries", `{"text":"Analyze XYZ"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("first submit = %d %s", w.Code, w.Body)
	}
	first := decode[session.SubmitResult](t, w)
	if first.Subject != "XYZ" || !first.Queued || first.TaskID == "" {
		t.Fatalf("first submit body = %+v", first)
	}

	w = ts.do(t, http.MethodPost, "/api/subjects/XYZ/queries", `{"text":"and now?"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("busy submit = %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/subjects/XYZ", "")
	busy := decode[subjectResponse](t, w)
	if !busy.Status.Busy() || len(busy.Conversation.Messages) != 2 {
		t.Fatalf("while busy = %+v", busy)
	}

	ts.finish(t, "XYZ")

	w = ts.do(t, http.MethodGet, "/api/subjects/XYZ", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get subject = %d", w.Code)
	}
	done := decode[subjectResponse](t, w)
	if done.Status.State != tasks.StateIdle {
		t.Errorf("state = %s, want idle", done.Status.State)
	}
	msgs := done.Conversation.Messages
	if len(msgs) != 3 || msgs[2].Role != conversations.RoleAssistant || msgs[2].Content != "answer to Analyze XYZ" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestSubmitValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		path, body string
		want       int
	}{
		{"/api/subjects/XYZ/queries", `{"text":""}`, http.StatusBadRequest},
		{"/api/subjects/XYZ/queries", `{"txt":"hi"}`, http.StatusBadRequest},
		{"/api/subjects/WAY-TOO-LONG-KEY/queries", `{"text":"hi"}`, http.StatusBadRequest},
		{"/api/subjects/XYZ/competitors", `{"competitors":[]}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		if w := ts.do(t, http.MethodPost, c.path, c.body); w.Code != c.want {
			t.Errorf("POST %s %s = %d, want %d", c.path, c.body, w.Code, c.want)
		}
	}
	if w := ts.do(t, http.MethodGet, "/api/subjects/NOPE", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown subject = %d", w.Code)
	}
}

func TestSubjectsAndClear(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/subjects/AAPL/queries", `{"text":"hi"}`)
	ts.do(t, http.MethodPost, "/api/subjects/NVDA/competitors", `{"competitors":["amd"]}`)

	list := decode[[]subjectSummary](t, ts.do(t, http.MethodGet, "/api/subjects", ""))
	if len(list) != 2 || list[0].Subject != "AAPL" || list[1].Subject != "NVDA" {
		t.Fatalf("subjects = %+v", list)
	}
	if !list[1].Selected || list[1].Messages != 1 {
		t.Errorf("NVDA summary = %+v", list[1])
	}

	if w := ts.do(t, http.MethodDelete, "/api/conversations", ""); w.Code != http.StatusNoContent {
		t.Fatalf("clear = %d", w.Code)
	}
	list = decode[[]subjectSummary](t, ts.do(t, http.MethodGet, "/api/subjects", ""))
	if len(list) != 0 {
		t.Fatalf("after clear = %+v", list)
	}
}

func TestProvidersEndpoints(t *testing.T) {
	ts := newTestServer(t)

	body := decode[providersResponse](t, ts.do(t, http.MethodGet, "/api/providers", ""))
	if len(body.Providers) != 2 || body.Selection.Provider != providers.NameLMStudio {
		t.Fatalf("providers = %+v", body)
	}

	w := ts.do(t, http.MethodGet, "/api/providers/ollama/models", "")
	models := decode[map[string]any](t, w)
	if list, _ := models["models"].([]any); len(list) != 1 || list[0] != "llama3" {
		t.Errorf("models = %v", models)
	}
	if w := ts.do(t, http.MethodGet, "/api/providers/watson/models", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown provider = %d", w.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	cur := decode[settings.Settings](t, ts.do(t, http.MethodGet, "/api/settings", ""))
	if cur.LLMProvider != settings.DefaultProvider || !cur.WebSearch {
		t.Fatalf("defaults = %+v", cur)
	}

	w := ts.do(t, http.MethodPut, "/api/settings", `{"llm_provider":"ollama","selected_model":"llama3","beginner_mode":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put = %d %s", w.Code, w.Body)
	}
	cur = decode[settings.Settings](t, w)
	if cur.LLMProvider != "ollama" || cur.SelectedModel != "llama3" || !cur.BeginnerMode {
		t.Errorf("updated = %+v", cur)
	}

	if w := ts.do(t, http.MethodPut, "/api/settings", `{"llm_provider":"watson"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown provider = %d", w.Code)
	}
	if w := ts.do(t, http.MethodPut, "/api/settings", `{"selected_model":"gpt-9"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown model = %d", w.Code)
	}
}

func TestHandleEvents(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 10; i++ {
		ts.bus.Publish(events.NewEvent(events.EventConversationUpdated, events.SourceSession, map[string]any{"i": i}))
	}
	waitForEvents(ts.bus, 10)

	w := ts.do(t, http.MethodGet, "/api/events?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := decode[[]map[string]any](t, w); len(body) != 5 {
		t.Fatalf("expected 5 events with limit=5, got %d", len(body))
	}
	if w := ts.do(t, http.MethodGet, "/api/events?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}

	ts.bus.Publish(events.NewSubjectEvent(events.SourceSession, "AMD", events.ConversationClearedPayload{}))
	for i := 0; i < 200 && len(ts.bus.HistoryFor(1, events.Filter{Subject: "AMD"})) == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	w = ts.do(t, http.MethodGet, "/api/events?subject=amd", "")
	body := decode[[]map[string]any](t, w)
	if len(body) != 1 || body[0]["subject"] != "AMD" {
		t.Fatalf("subject filter = %v", body)
	}
	w = ts.do(t, http.MethodGet, "/api/events?type=conversation.cleared", "")
	if body := decode[[]map[string]any](t, w); len(body) != 1 {
		t.Fatalf("type filter = %d events", len(body))
	}
}

func TestRefreshWithoutRefresher(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodPost, "/api/refresh", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("refresh = %d", w.Code)
	}
}
