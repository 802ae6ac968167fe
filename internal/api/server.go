// Package api exposes the admin HTTP interface for the scraper service:
// health, metrics, scheduler status and manual trigger endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pricescan/pricescan-scraper/internal/scrape"
	"github.com/pricescan/pricescan-scraper/internal/telemetry"
)

// Controller is the slice of the scheduler the API drives.
type Controller interface {
	Start() error
	Stop()
	Running() bool
	Status() map[string]scrape.SourceStatus
	ManualTrigger(ctx context.Context, sourceID, query string) (scrape.RunResult, error)
}

// Server wires HTTP handlers to the scheduler.
type Server struct {
	router    chi.Router
	scheduler Controller
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(scheduler Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scheduler: scheduler,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api/scraper", func(r chi.Router) {
		r.Get("/", s.status)
		r.Post("/start", s.start)
		r.Post("/stop", s.stop)
		r.Post("/trigger", s.trigger)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Running bool                  `json:"running"`
	Sources []scrape.SourceStatus `json:"sources"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	byID := s.scheduler.Status()
	sources := make([]scrape.SourceStatus, 0, len(byID))
	for _, st := range byID {
		sources = append(sources, st)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })

	writeJSON(w, http.StatusOK, statusResponse{
		Running: s.scheduler.Running(),
		Sources: sources,
	})
}

func (s *Server) start(w http.ResponseWriter, _ *http.Request) {
	if err := s.scheduler.Start(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	if !s.scheduler.Running() {
		writeError(w, http.StatusConflict, "scheduler is not running")
		return
	}
	s.scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type triggerRequest struct {
	SourceID string `json:"source_id"`
	Query    string `json:"query"`
}

type triggerResponse struct {
	SourceID string           `json:"source_id"`
	Listings []scrape.Listing `json:"listings"`
	Found    int              `json:"found"`
	Dropped  int              `json:"dropped"`
	Errors   []string         `json:"errors,omitempty"`
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "source_id is required")
		return
	}

	result, err := s.scheduler.ManualTrigger(r.Context(), req.SourceID, req.Query)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	resp := triggerResponse{
		SourceID: result.SourceID,
		Listings: result.Listings,
		Found:    len(result.Listings),
		Dropped:  result.Dropped,
	}
	for _, runErr := range result.Errors {
		resp.Errors = append(resp.Errors, runErr.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
