package providers

import (
	"context"
	"log/slog"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dohr-michael/fintellix/internal/config"
)

// Registry maps provider names to implementations. It is fixed after
// construction and safe for concurrent use.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Name()] = p
	}
	return r
}

// NewDefaultRegistry builds the lm_studio, ollama and openai providers.
func NewDefaultRegistry(cfg config.ProvidersConfig, tools *Toolset) *Registry {
	return NewRegistry(
		NewLMStudio(cfg.LMStudio, tools),
		NewOllama(cfg.Ollama, tools),
		NewOpenAI(cfg.OpenAI, tools),
	)
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named provider or a *ConfigurationError.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &ConfigurationError{Provider: name, Reason: "unknown provider"}
	}
	return p, nil
}

// Select validates a provider/model choice. An empty model resolves to the
// provider default. When the backend can list its models, a model it does
// not offer is rejected; an unreachable backend cannot veto the choice.
func (r *Registry) Select(ctx context.Context, name, model string) (Selection, error) {
	p, err := r.Get(name)
	if err != nil {
		return Selection{}, err
	}
	if model == "" {
		return Selection{Provider: name, Model: p.DefaultModel()}, nil
	}

	if known := p.ListModels(ctx); len(known) > 0 && !slices.Contains(known, model) {
		return Selection{}, &ConfigurationError{Provider: name, Model: model, Reason: "model not offered by provider"}
	}
	return Selection{Provider: name, Model: model}, nil
}

// Probe checks every provider concurrently.
func (r *Registry) Probe(ctx context.Context) []Status {
	names := r.Names()
	out := make([]Status, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		p := r.providers[name]
		g.Go(func() error {
			out[i] = Status{Name: name, Available: p.IsAvailable(gctx)}
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("provider probe", "statuses", out)
	return out
}
