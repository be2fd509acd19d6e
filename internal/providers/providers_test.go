package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/dohr-michael/fintellix/internal/config"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestLMStudio_ListModelsNative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, map[string]any{"data": []map[string]string{
			{"id": "qwen2.5-7b", "type": "llm", "state": "loaded"},
			{"id": "llama-3-8b", "type": "llm", "state": "not-loaded"},
			{"id": "nomic-embed", "type": "embeddings", "state": "loaded"},
		}})
	}))
	defer srv.Close()

	p := NewLMStudio(config.ProviderConfig{BaseURL: srv.URL + "/v1"}, nil)
	got := p.ListModels(context.Background())
	if !slices.Equal(got, []string{"qwen2.5-7b"}) {
		t.Errorf("ListModels = %v", got)
	}
}

func TestLMStudio_ListModelsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			writeJSON(w, map[string]any{"data": []map[string]string{{"id": "local-a"}, {"id": ""}, {"id": "local-b"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewLMStudio(config.ProviderConfig{BaseURL: srv.URL + "/v1/"}, nil)
	got := p.ListModels(context.Background())
	if !slices.Equal(got, []string{"local-a", "local-b"}) {
		t.Errorf("ListModels = %v", got)
	}
	if !p.IsAvailable(context.Background()) {
		t.Error("IsAvailable = false, want true")
	}
}

func TestLMStudio_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewLMStudio(config.ProviderConfig{BaseURL: url + "/v1"}, nil)
	if got := p.ListModels(context.Background()); got == nil || len(got) != 0 {
		t.Errorf("ListModels = %#v, want empty non-nil", got)
	}
	if p.IsAvailable(context.Background()) {
		t.Error("IsAvailable = true for closed server")
	}
}

func TestOllama_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			writeJSON(w, map[string]any{"models": []map[string]any{
				{"name": "llama3:latest", "model": "llama3:latest"},
				{"name": "mistral:7b", "model": "mistral:7b"},
			}})
		case "/":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllama(config.ProviderConfig{BaseURL: srv.URL}, nil)
	got := p.ListModels(context.Background())
	if !slices.Equal(got, []string{"llama3:latest", "mistral:7b"}) {
		t.Errorf("ListModels = %v", got)
	}
	if !p.IsAvailable(context.Background()) {
		t.Error("IsAvailable = false, want true")
	}
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewOllama(config.ProviderConfig{BaseURL: url}, nil)
	if got := p.ListModels(context.Background()); len(got) != 0 {
		t.Errorf("ListModels = %v, want empty", got)
	}
	if p.IsAvailable(context.Background()) {
		t.Error("IsAvailable = true for closed server")
	}
}

func TestOpenAI_ListModelsRanking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"data": []map[string]string{
			{"id": "gpt-3.5-turbo"},
			{"id": "whisper-1"},
			{"id": "gpt-4o-realtime-preview"},
			{"id": "gpt-4"},
			{"id": "gpt-4o-mini"},
			{"id": "gpt-3.5-turbo-instruct"},
			{"id": "gpt-4-turbo"},
			{"id": "chatgpt-4o-latest"},
		}})
	}))
	defer srv.Close()

	p := NewOpenAI(config.ProviderConfig{BaseURL: srv.URL, APIKey: "sk-test"}, nil)
	got := p.ListModels(context.Background())
	want := []string{"gpt-4o-mini", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo", "chatgpt-4o-latest"}
	if !slices.Equal(got, want) {
		t.Errorf("ListModels = %v, want %v", got, want)
	}
	if !p.IsAvailable(context.Background()) {
		t.Error("IsAvailable = false with key set")
	}
}

func TestOpenAI_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewOpenAI(config.ProviderConfig{}, nil)

	if p.IsAvailable(context.Background()) {
		t.Error("IsAvailable = true without key")
	}
	if got := p.ListModels(context.Background()); len(got) != 0 {
		t.Errorf("ListModels = %v, want empty", got)
	}
	_, err := p.RunQuery(context.Background(), Query{Text: "hi"})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != NameOpenAI {
		t.Fatalf("RunQuery error = %v, want ProviderError", err)
	}
}

func TestRankOpenAIModels_Cap(t *testing.T) {
	var ids []string
	for i := range 30 {
		ids = append(ids, "gpt-4-"+strings.Repeat("x", i+1))
	}
	if got := rankOpenAIModels(ids); len(got) != maxOpenAIModels {
		t.Errorf("len = %d, want %d", len(got), maxOpenAIModels)
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("MY_KEY", "from-template")
	t.Setenv("OPENAI_API_KEY", "from-env")

	if got := resolveAPIKey(config.ProviderConfig{APIKey: "direct"}, "OPENAI_API_KEY"); got != "direct" {
		t.Errorf("direct key = %q", got)
	}
	if got := resolveAPIKey(config.ProviderConfig{APIKey: "${MY_KEY}"}, "OPENAI_API_KEY"); got != "from-template" {
		t.Errorf("template key = %q", got)
	}
	if got := resolveAPIKey(config.ProviderConfig{}, "OPENAI_API_KEY"); got != "from-env" {
		t.Errorf("env fallback = %q", got)
	}
}

// completionServer answers /v1/chat/completions like an OpenAI-compatible backend.
func completionServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"backend exploded","type":"server_error"}}`))
			return
		}
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) == 0 || body.Messages[0].Role != "system" {
			t.Errorf("expected a system message first, got %+v", body.Messages)
		}
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "local-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLMStudio_RunQuery(t *testing.T) {
	srv := completionServer(t, "XYZ is up 2%", http.StatusOK)
	p := NewLMStudio(config.ProviderConfig{BaseURL: srv.URL + "/v1"}, NewToolset(config.WebSearchConfig{}))

	got, err := p.RunQuery(context.Background(), Query{Text: "Analyze XYZ", SystemPrompt: "You are an analyst."})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if got != "XYZ is up 2%" {
		t.Errorf("RunQuery = %q", got)
	}
}

func TestLMStudio_RunQueryEmptyAnswer(t *testing.T) {
	srv := completionServer(t, "", http.StatusOK)
	p := NewLMStudio(config.ProviderConfig{BaseURL: srv.URL + "/v1"}, nil)

	got, err := p.RunQuery(context.Background(), Query{Text: "Analyze XYZ", SystemPrompt: "You are an analyst."})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if got != noResponse {
		t.Errorf("RunQuery = %q, want %q", got, noResponse)
	}
}

func TestLMStudio_RunQueryFailure(t *testing.T) {
	srv := completionServer(t, "", http.StatusInternalServerError)
	p := NewLMStudio(config.ProviderConfig{BaseURL: srv.URL + "/v1"}, nil)

	_, err := p.RunQuery(context.Background(), Query{Text: "Analyze XYZ", SystemPrompt: "x"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	if pe.Provider != NameLMStudio || pe.Error() == "" {
		t.Errorf("unexpected error %+v", pe)
	}
}

func TestNewWebSearchToolEngines(t *testing.T) {
	t.Setenv("BING_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_CX", "")
	ctx := context.Background()

	if _, err := newWebSearchTool(ctx, config.WebSearchConfig{}); err != nil {
		t.Fatalf("duckduckgo: %v", err)
	}
	if _, err := newWebSearchTool(ctx, config.WebSearchConfig{Engine: config.EngineBing}); err == nil {
		t.Error("bing without key should fail")
	}
	if _, err := newWebSearchTool(ctx, config.WebSearchConfig{Engine: config.EngineGoogle, GoogleAPIKey: "k"}); err == nil {
		t.Error("google without cx should fail")
	}
	if _, err := newWebSearchTool(ctx, config.WebSearchConfig{Engine: "altavista"}); err == nil {
		t.Error("unknown engine should fail")
	}

	// A failing engine leaves web_search out instead of failing the query.
	ts := NewToolset(config.WebSearchConfig{Engine: config.EngineBing})
	for _, tl := range ts.For(ctx, Query{WebSearch: true}) {
		info, _ := tl.Info(ctx)
		if info.Name == webSearchName {
			t.Error("web_search offered without credentials")
		}
	}
}
