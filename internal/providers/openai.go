package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/dohr-michael/fintellix/internal/config"
)

const maxOpenAIModels = 20

// openAIPriority orders the chat models from most to least capable.
var openAIPriority = []string{"gpt-4o", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo", "gpt-3"}

// openAIExcluded marks model ids that are not chat models.
var openAIExcluded = []string{"realtime", "audio", "tts", "instruct", "image"}

// OpenAI is the hosted API backend. It needs a credential and nothing else
// to be considered available.
type OpenAI struct {
	cfg    config.ProviderConfig
	tools  *Toolset
	client *http.Client
}

// NewOpenAI creates the OpenAI provider.
func NewOpenAI(cfg config.ProviderConfig, tools *Toolset) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg, tools: tools, client: &http.Client{}}
}

func (p *OpenAI) Name() string { return NameOpenAI }

func (p *OpenAI) DefaultModel() string {
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel
	}
	return DefaultOpenAIModel
}

func (p *OpenAI) apiKey() string {
	return resolveAPIKey(p.cfg, "OPENAI_API_KEY")
}

// ListModels returns GPT chat models, most capable first.
func (p *OpenAI) ListModels(ctx context.Context) []string {
	key := p.apiKey()
	if key == "" {
		return []string{}
	}

	var list openAIModelList
	if err := getJSON(ctx, p.client, p.cfg.BaseURL+"/models", key, listTimeout, &list); err != nil {
		slog.Debug("openai model listing failed", "error", err)
		return []string{}
	}

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return rankOpenAIModels(ids)
}

func rankOpenAIModels(ids []string) []string {
	var chat []string
	for _, id := range ids {
		if !strings.Contains(strings.ToLower(id), "gpt") || containsAny(id, openAIExcluded...) {
			continue
		}
		chat = append(chat, id)
	}

	sorted := make([]string, 0, len(chat))
	for _, prefix := range openAIPriority {
		for _, id := range chat {
			if strings.HasPrefix(id, prefix) && !slices.Contains(sorted, id) {
				sorted = append(sorted, id)
			}
		}
	}
	for _, id := range chat {
		if !slices.Contains(sorted, id) {
			sorted = append(sorted, id)
		}
	}

	if len(sorted) > maxOpenAIModels {
		sorted = sorted[:maxOpenAIModels]
	}
	return sorted
}

func (p *OpenAI) IsAvailable(_ context.Context) bool {
	return p.apiKey() != ""
}

func (p *OpenAI) RunQuery(ctx context.Context, q Query) (string, error) {
	key := p.apiKey()
	if key == "" {
		return "", &ProviderError{Provider: NameOpenAI, Cause: errors.New("OPENAI_API_KEY not set")}
	}
	if q.Model == "" {
		q.Model = p.DefaultModel()
	}
	timeout := p.cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	modelConfig := &einoopenai.ChatModelConfig{
		APIKey:     key,
		BaseURL:    p.cfg.BaseURL,
		Model:      q.Model,
		Timeout:    timeout,
		HTTPClient: newValidatingClient(NameOpenAI, timeout),
	}
	modelConfig.Temperature = temperature(p.cfg)

	chatModel, err := einoopenai.NewChatModel(ctx, modelConfig)
	if err != nil {
		return "", wrapProviderError(NameOpenAI, err)
	}
	out, err := runAgent(ctx, NameOpenAI, chatModel, q, p.tools.For(ctx, q))
	if err != nil {
		return "", wrapProviderError(NameOpenAI, err)
	}
	return out, nil
}

// temperature defaults to 0 for reproducible analyses.
func temperature(cfg config.ProviderConfig) *float32 {
	t := float32(0)
	if cfg.Temperature != nil {
		t = float32(*cfg.Temperature)
	}
	return &t
}

// wrapProviderError classifies err and tags it with the provider name.
func wrapProviderError(provider string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		cause := pe.Cause
		if cause == nil {
			cause = errors.New("unexpected response")
		}
		return &ProviderError{Provider: provider, Body: pe.Body, Cause: ClassifyError(cause)}
	}
	return &ProviderError{Provider: provider, Cause: ClassifyError(err)}
}
