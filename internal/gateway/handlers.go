package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/fintellix/internal/conversations"
	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/providers"
	"github.com/dohr-michael/fintellix/internal/session"
	"github.com/dohr-michael/fintellix/internal/settings"
	"github.com/dohr-michael/fintellix/internal/subjects"
	"github.com/dohr-michael/fintellix/internal/tasks"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps domain errors to HTTP statuses.
func errorStatus(err error) int {
	var cfgErr *providers.ConfigurationError
	switch {
	case errors.Is(err, subjects.ErrInvalidKey),
		errors.Is(err, session.ErrEmptyQuery),
		errors.Is(err, session.ErrNoCompetitors),
		errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownSubject):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	var filter events.Filter
	if raw := r.URL.Query().Get("subject"); raw != "" {
		key, err := subjects.Normalize(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Subject = string(key)
	}
	for _, t := range r.URL.Query()["type"] {
		filter.Types = append(filter.Types, events.EventType(t))
	}

	type eventJSON struct {
		ID        string             `json:"id"`
		Subject   string             `json:"subject,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	history := s.deps.Bus.HistoryFor(limit, filter)
	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			Subject:   e.Subject,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, result)
}

type providersResponse struct {
	Providers []providers.Status  `json:"providers"`
	Selection providers.Selection `json:"selection"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, providersResponse{
		Providers: s.deps.Registry.Probe(r.Context()),
		Selection: s.deps.Controller.Context().Selection,
	})
}

func (s *Server) handleProviderModels(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	models := p.ListModels(r.Context())
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":      p.Name(),
		"default_model": p.DefaultModel(),
		"models":        models,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Current())
}

type settingsRequest struct {
	LLMProvider   *string `json:"llm_provider"`
	SelectedModel *string `json:"selected_model"`
	BeginnerMode  *bool   `json:"beginner_mode"`
	WebSearch     *bool   `json:"web_search"`
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.LLMProvider != nil || req.SelectedModel != nil {
		name := s.deps.Controller.Context().Selection.Provider
		if req.LLMProvider != nil {
			name = *req.LLMProvider
		}
		model := ""
		if req.SelectedModel != nil {
			model = *req.SelectedModel
		}
		if _, err := s.deps.Controller.SetProvider(r.Context(), name, model); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
	}

	cur, err := s.deps.Settings.Update(func(st *settings.Settings) {
		if req.BeginnerMode != nil {
			st.BeginnerMode = *req.BeginnerMode
		}
		if req.WebSearch != nil {
			st.WebSearch = *req.WebSearch
		}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

type subjectSummary struct {
	Subject   subjects.Key `json:"subject"`
	State     tasks.State  `json:"state"`
	TaskID    string       `json:"task_id,omitempty"`
	Messages  int          `json:"messages"`
	StartedAt time.Time    `json:"started_at,omitzero"`
	Selected  bool         `json:"selected,omitempty"`
}

func (s *Server) handleSubjects(w http.ResponseWriter, _ *http.Request) {
	ctrl := s.deps.Controller
	if _, err := ctrl.TickAll(); err != nil {
		slog.Error("tick subjects", "error", err)
	}

	selected := ctrl.Context().Selected
	list := ctrl.Subjects()
	out := make([]subjectSummary, 0, len(list))
	for _, k := range list {
		conv, err := ctrl.Conversation(string(k))
		if err != nil {
			// Cleared between the two calls.
			continue
		}
		st, _ := ctrl.Poll(string(k))
		out = append(out, subjectSummary{
			Subject:   k,
			State:     st.State,
			TaskID:    st.TaskID,
			Messages:  len(conv.Messages),
			StartedAt: conv.StartedAt(),
			Selected:  k == selected,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type subjectResponse struct {
	Conversation *conversations.Conversation `json:"conversation"`
	Status       tasks.Status                `json:"status"`
}

func (s *Server) handleSubject(w http.ResponseWriter, r *http.Request) {
	ctrl := s.deps.Controller
	raw := chi.URLParam(r, "subject")
	if _, err := ctrl.Tick(raw); err != nil {
		if errors.Is(err, subjects.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		slog.Error("tick subject", "subject", raw, "error", err)
	}

	conv, err := ctrl.Conversation(raw)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	st, _ := ctrl.Poll(raw)
	writeJSON(w, http.StatusOK, subjectResponse{Conversation: conv, Status: st})
}

// submitStatus is 202 when a job was queued and 409 when the subject was
// busy and only the message was recorded.
func submitStatus(res session.SubmitResult) int {
	if res.Queued {
		return http.StatusAccepted
	}
	return http.StatusConflict
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.deps.Controller.SubmitQuery(chi.URLParam(r, "subject"), req.Text)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, submitStatus(res), res)
}

func (s *Server) handleSubmitCompetitors(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Competitors []string `json:"competitors"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.deps.Controller.SubmitCompetitors(chi.URLParam(r, "subject"), req.Competitors)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, submitStatus(res), res)
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Controller.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("market data refresh not configured"))
		return
	}
	n, err := s.deps.Refresher.RefreshAll(r.Context())
	resp := map[string]any{"refreshed": n}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
