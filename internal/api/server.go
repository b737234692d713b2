package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	// Recover sits outside tracing so a panic still gets a JSON 500.
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())
	router.Post("/reference/reload", handler.ReloadReference)

	router.Route("/api", func(r chi.Router) {
		r.Route("/claims", func(r chi.Router) {
			r.Post("/validate", handler.ValidateClaim)
			r.Post("/batch-validate", handler.BatchValidate)
			r.Post("/submit", handler.SubmitClaim)
			r.Get("/", handler.ListClaims)
			r.Get("/{id}", handler.GetClaim)
			r.Get("/{id}/summary", handler.SummarizeClaim)
		})

		r.Post("/chat/ask", handler.Ask)

		r.Get("/stats/summary", handler.StatsSummary)
		r.Get("/stats/agents", handler.AgentStats)

		r.Get("/policy-rules", handler.ListPolicyRules)
		r.Post("/policy-rules", handler.CreatePolicyRule)
		r.Post("/policy-rules/reload", handler.ReloadPolicyRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start listens until Shutdown. Batch validation with enrichment can run
// long, so WriteTimeout comes from config rather than a fixed value.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    64 << 10,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
