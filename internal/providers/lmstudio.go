package providers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/dohr-michael/fintellix/internal/config"
)

// LMStudio talks to a local LM Studio server through its OpenAI-compatible
// API. Model discovery prefers the native REST API, which knows which models
// are actually loaded.
type LMStudio struct {
	cfg    config.ProviderConfig
	tools  *Toolset
	client *http.Client
}

// NewLMStudio creates the LM Studio provider.
func NewLMStudio(cfg config.ProviderConfig, tools *Toolset) *LMStudio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:1234/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &LMStudio{cfg: cfg, tools: tools, client: &http.Client{}}
}

func (p *LMStudio) Name() string { return NameLMStudio }

func (p *LMStudio) DefaultModel() string {
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel
	}
	return DefaultLMStudioModel
}

// rootURL strips the /v1 suffix to reach the native API.
func (p *LMStudio) rootURL() string {
	return strings.TrimSuffix(p.cfg.BaseURL, "/v1")
}

type lmStudioNativeModels struct {
	Data []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		State string `json:"state"`
	} `json:"data"`
}

type openAIModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns loaded models, falling back to the OpenAI-compatible
// listing when the native API is absent.
func (p *LMStudio) ListModels(ctx context.Context) []string {
	var native lmStudioNativeModels
	err := getJSON(ctx, p.client, p.rootURL()+"/api/v0/models", "", probeTimeout, &native)
	if err == nil {
		var ids []string
		for _, m := range native.Data {
			if m.ID == "" || m.State != "loaded" || m.Type == "embeddings" {
				continue
			}
			ids = append(ids, m.ID)
		}
		return ids
	}
	slog.Debug("lm_studio native listing failed, falling back", "error", err)

	var list openAIModelList
	if err := getJSON(ctx, p.client, p.cfg.BaseURL+"/models", "", probeTimeout, &list); err != nil {
		slog.Debug("lm_studio model listing failed", "error", err)
		return []string{}
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (p *LMStudio) IsAvailable(ctx context.Context) bool {
	return probe(ctx, p.client, p.cfg.BaseURL+"/models")
}

// RunQuery runs q against the local server. LM Studio ignores the API key
// but the OpenAI client insists on one.
func (p *LMStudio) RunQuery(ctx context.Context, q Query) (string, error) {
	if q.Model == "" {
		q.Model = p.DefaultModel()
	}
	timeout := p.cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	modelConfig := &einoopenai.ChatModelConfig{
		APIKey:     "lm-studio",
		BaseURL:    p.cfg.BaseURL,
		Model:      q.Model,
		Timeout:    timeout,
		HTTPClient: newValidatingClient(NameLMStudio, timeout),
	}
	modelConfig.Temperature = temperature(p.cfg)

	chatModel, err := einoopenai.NewChatModel(ctx, modelConfig)
	if err != nil {
		return "", wrapProviderError(NameLMStudio, err)
	}
	out, err := runAgent(ctx, NameLMStudio, chatModel, q, p.tools.For(ctx, q))
	if err != nil {
		return "", wrapProviderError(NameLMStudio, err)
	}
	return out, nil
}
