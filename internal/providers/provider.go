// Package providers wraps the reasoning backends that answer analysis queries.
package providers

import (
	"context"
)

// Provider names.
const (
	NameLMStudio = "lm_studio"
	NameOllama   = "ollama"
	NameOpenAI   = "openai"
)

// Default models used when the caller does not choose one.
const (
	DefaultLMStudioModel = "local-model"
	DefaultOllamaModel   = "llama2"
	DefaultOpenAIModel   = "gpt-4-turbo"
)

// Query is one request handed to a backend.
type Query struct {
	Text         string
	SystemPrompt string
	Model        string // empty means the provider default
	WebSearch    bool   // offer the web_search tool when configured
}

// Provider is a reasoning backend.
//
// ListModels and IsAvailable never fail: connectivity problems yield an empty
// list or false. RunQuery blocks for the duration of the remote call and
// reports failures as *ProviderError.
type Provider interface {
	Name() string
	DefaultModel() string
	ListModels(ctx context.Context) []string
	IsAvailable(ctx context.Context) bool
	RunQuery(ctx context.Context, q Query) (string, error)
}

// Selection is the provider/model pair chosen for a job. It travels by value
// with each submission.
type Selection struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Status is the reachability of one provider.
type Status struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}
