package api

import (
	"log/slog"
	"net/http"

	"github.com/clindoc/dsrpop/internal/config"
	"github.com/clindoc/dsrpop/internal/pipeline"
	"github.com/clindoc/dsrpop/internal/synth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for dsrpop.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	openai       *synth.OpenAIClient
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, openai *synth.OpenAIClient, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		openai:       openai,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/populate", s.handlePopulate)
		r.Get("/api/populate/{jobID}/status", s.handlePopulateStatus)
		r.Get("/api/populate/{jobID}/result", s.handlePopulateResult)
		r.Get("/api/populate/{jobID}/report", s.handlePopulateReport)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
