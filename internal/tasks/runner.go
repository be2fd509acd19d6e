package tasks

import (
	"context"

	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/providers"
)

// Prefs are the user toggles read at the moment a job starts.
type Prefs struct {
	BeginnerMode bool
	WebSearch    bool
}

// ProviderRunner executes tasks against the provider registry.
type ProviderRunner struct {
	registry *providers.Registry
	prefs    func() Prefs
}

// NewProviderRunner creates a runner. prefs may be nil.
func NewProviderRunner(registry *providers.Registry, prefs func() Prefs) *ProviderRunner {
	if prefs == nil {
		prefs = func() Prefs { return Prefs{WebSearch: true} }
	}
	return &ProviderRunner{registry: registry, prefs: prefs}
}

// Run builds the prompt for t's kind and hands it to the selected provider.
func (r *ProviderRunner) Run(ctx context.Context, t Task) (string, error) {
	p, err := r.registry.Get(t.Selection.Provider)
	if err != nil {
		return "", err
	}
	prefs := r.prefs()

	q := providers.Query{
		SystemPrompt: SystemPrompt(t.Kind, prefs.BeginnerMode),
		Model:        t.Selection.Model,
		WebSearch:    prefs.WebSearch,
	}
	switch t.Kind {
	case KindCompetitors:
		q.Text = CompetitorQuery(t.Subject, t.Competitors)
	default:
		q.Text = AnalysisQuery(t.Subject, t.Query)
	}

	return p.RunQuery(events.ContextWithSubject(ctx, string(t.Subject)), q)
}
