package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/metrics"
	"github.com/JakeFAU/license-resolver/internal/orchestrator"
	"github.com/JakeFAU/license-resolver/internal/progress/sinks"
	"github.com/JakeFAU/license-resolver/internal/report"
)

// StatusSource reports the orchestrator state.
type StatusSource interface {
	Status() orchestrator.Status
}

// PassBoard lists recently observed passes, newest first.
type PassBoard interface {
	Recent() []sinks.PassStatus
}

// Deps are the read-only views the server exposes. Nil members disable the
// routes that need them.
type Deps struct {
	Status   StatusSource
	Passes   PassBoard
	Reports  report.Store
	Gatherer prometheus.Gatherer
	APIKey   string
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the resolver's status views.
type Server struct {
	router  chi.Router
	deps    Deps
	reports *ReportHandler
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		deps:    deps,
		reports: NewReportHandler(deps.Reports, logger),
		logger:  logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(30 * time.Second))
		if deps.APIKey != "" {
			r.Use(apiKeyMiddleware(deps.APIKey))
		}
		r.Get("/status", s.status)
		r.Get("/reports", s.reports.ListReports)
		r.Get("/reports/{run_id}", s.reports.GetReport)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not attached")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	Orchestrator *orchestrator.Status `json:"orchestrator,omitempty"`
	Passes       []sinks.PassStatus   `json:"passes"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Passes: []sinks.PassStatus{}}
	if s.deps.Status != nil {
		st := s.deps.Status.Status()
		resp.Orchestrator = &st
	}
	if s.deps.Passes != nil {
		resp.Passes = s.deps.Passes.Recent()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
