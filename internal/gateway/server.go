package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/gateway/ws"
	"github.com/dohr-michael/fintellix/internal/marketdata"
	"github.com/dohr-michael/fintellix/internal/providers"
	"github.com/dohr-michael/fintellix/internal/session"
	"github.com/dohr-michael/fintellix/internal/settings"
)

// Deps are the components served over HTTP.
type Deps struct {
	Bus        *events.Bus
	Controller *session.Controller
	Registry   *providers.Registry
	Settings   *settings.Store
	Refresher  *marketdata.Refresher // optional
}

// Server is the fintellix HTTP control surface.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	deps       Deps
}

// NewServer creates a new gateway server.
func NewServer(deps Deps, host string, port int) *Server {
	var ctrl ws.Controller
	if deps.Controller != nil {
		ctrl = deps.Controller
	}
	hub := ws.NewHub(deps.Bus, ctrl)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{hub: hub, deps: deps}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)

	r.Route("/api/providers", func(r chi.Router) {
		r.Get("/", s.handleProviders)
		r.Get("/{name}/models", s.handleProviderModels)
	})

	r.Get("/api/settings", s.handleGetSettings)
	r.Put("/api/settings", s.handlePutSettings)

	r.Route("/api/subjects", func(r chi.Router) {
		r.Get("/", s.handleSubjects)
		r.Get("/{subject}", s.handleSubject)
		r.Post("/{subject}/queries", s.handleSubmitQuery)
		r.Post("/{subject}/competitors", s.handleSubmitCompetitors)
	})
	r.Delete("/api/conversations", s.handleClear)
	r.Post("/api/refresh", s.handleRefresh)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("fintellix gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
