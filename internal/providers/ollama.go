package providers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	ollamaapi "github.com/ollama/ollama/api"

	"github.com/dohr-michael/fintellix/internal/config"
)

// Ollama is the local daemon backend.
type Ollama struct {
	cfg    config.ProviderConfig
	tools  *Toolset
	client *http.Client
}

// NewOllama creates the Ollama provider.
func NewOllama(cfg config.ProviderConfig, tools *Toolset) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Ollama{cfg: cfg, tools: tools, client: &http.Client{}}
}

func (p *Ollama) Name() string { return NameOllama }

func (p *Ollama) DefaultModel() string {
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel
	}
	return DefaultOllamaModel
}

// api returns a native client, nil when the base URL does not parse.
func (p *Ollama) api() *ollamaapi.Client {
	u, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return nil
	}
	return ollamaapi.NewClient(u, p.client)
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels asks the daemon for its local models through the native client,
// then through a raw /api/tags call.
func (p *Ollama) ListModels(ctx context.Context) []string {
	if client := p.api(); client != nil {
		lctx, cancel := context.WithTimeout(ctx, listTimeout)
		resp, err := client.List(lctx)
		cancel()
		if err == nil {
			names := make([]string, 0, len(resp.Models))
			for _, m := range resp.Models {
				names = append(names, m.Name)
			}
			return names
		}
		slog.Debug("ollama native listing failed, falling back", "error", err)
	}

	var tags ollamaTags
	if err := getJSON(ctx, p.client, p.cfg.BaseURL+"/api/tags", "", listTimeout, &tags); err != nil {
		slog.Debug("ollama model listing failed", "error", err)
		return []string{}
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names
}

func (p *Ollama) IsAvailable(ctx context.Context) bool {
	if client := p.api(); client != nil {
		hctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := client.Heartbeat(hctx)
		cancel()
		if err == nil {
			return true
		}
	}
	return probe(ctx, p.client, p.cfg.BaseURL+"/api/tags")
}

func (p *Ollama) RunQuery(ctx context.Context, q Query) (string, error) {
	if q.Model == "" {
		q.Model = p.DefaultModel()
	}
	timeout := p.cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	modelConfig := &einoollama.ChatModelConfig{
		BaseURL:    p.cfg.BaseURL,
		Model:      q.Model,
		Timeout:    timeout,
		HTTPClient: newValidatingClient(NameOllama, timeout),
		Options:    &einoollama.Options{Temperature: *temperature(p.cfg)},
	}

	chatModel, err := einoollama.NewChatModel(ctx, modelConfig)
	if err != nil {
		return "", wrapProviderError(NameOllama, err)
	}
	out, err := runAgent(ctx, NameOllama, chatModel, q, p.tools.For(ctx, q))
	if err != nil {
		return "", wrapProviderError(NameOllama, err)
	}
	return out, nil
}
