// Package httpapi serves a read-only HTTP view of the daemon state for
// dashboards and scripting. All mutations go through the RPC control plane.
package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/gobs/pkg/model"
)

// Service is the daemon surface the API reads from.
type Service interface {
	Get(id int64) (*model.Job, error)
	ListWaiting() []*model.Job
	ListRunning() []*model.Job
	ListFinished(limit int) []*model.Job
	CPUs() model.CPUUsage
	ConfigMap() map[string]string
}

// Server is the read-only status API server.
type Server struct {
	router    chi.Router
	svc       Service
	logger    *slog.Logger
	startTime time.Time
}

// New creates a Server with all routes registered.
func New(svc Service, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		svc:       svc,
		logger:    logger.With("component", "httpapi"),
		startTime: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tagRequestID)
	r.Use(logRequests(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/cpus", s.handleCPUs)
		r.Get("/config", s.handleConfig)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// handleListJobs lists jobs by derived state. Without a state filter all
// three groups are returned keyed by state.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid limit %q", raw))
			return
		}
		limit = n
	}

	rawState := r.URL.Query().Get("state")
	if rawState == "" {
		respondOK(w, reqID, map[string]any{
			"waiting":  s.svc.ListWaiting(),
			"running":  s.svc.ListRunning(),
			"finished": s.svc.ListFinished(limit),
		})
		return
	}

	state, err := model.ParseJobState(rawState)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid state %q", rawState))
		return
	}

	var jobs []*model.Job
	switch state {
	case model.JobWaiting:
		jobs = s.svc.ListWaiting()
	case model.JobRunning:
		jobs = s.svc.ListRunning()
	case model.JobDone:
		jobs = s.svc.ListFinished(limit)
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	respondOK(w, reqID, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid job id %q", chi.URLParam(r, "id")))
		return
	}

	job, err := s.svc.Get(id)
	if err != nil {
		respondError(w, reqID, http.StatusNotFound, asModelError(err))
		return
	}
	respondOK(w, reqID, job)
}

func (s *Server) handleCPUs(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.svc.CPUs())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.svc.ConfigMap())
}
