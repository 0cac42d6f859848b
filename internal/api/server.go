package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
	"github.com/JakeFAU/layered-crawler/internal/dispatcher"
	"github.com/JakeFAU/layered-crawler/internal/metrics"
	"github.com/JakeFAU/layered-crawler/internal/progress/sinks"
	"github.com/JakeFAU/layered-crawler/internal/queue/memory"
)

// Submitter queues runs for execution. *worker.Worker satisfies it.
type Submitter interface {
	Submit(run crawler.Run) error
}

// ProgressSource reports live progress for a run. *sinks.Tracker satisfies it.
type ProgressSource interface {
	Progress(runID string) (sinks.RunProgress, bool)
}

// Dependencies are the collaborators of a Server. Progress and Ready are
// optional.
type Dependencies struct {
	Runs      crawler.RunStore
	Submitter Submitter
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Progress  ProgressSource
	Ready     func(context.Context) error
}

// Config controls request handling.
type Config struct {
	AuthEnabled     bool
	APIKey          string
	DefaultDepth    int
	DefaultExcludes []string
	RequestTimeout  time.Duration
}

// Server wires HTTP handlers to the run store and the run worker.
type Server struct {
	router chi.Router
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg Config, logger *zap.Logger) (*Server, error) {
	if deps.Runs == nil || deps.Submitter == nil || deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("api: run store, submitter, id generator and clock are required")
	}
	if cfg.AuthEnabled && cfg.APIKey == "" {
		return nil, errors.New("api: api key is required when auth is enabled")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.submitCrawl)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Get("/progress", s.getProgress)
			})
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL      string   `json:"url"`
	Depth    *int     `json:"depth"`
	Excludes []string `json:"excludes"`
}

type crawlResponse struct {
	RunID  string            `json:"run_id"`
	Status crawler.RunStatus `json:"status"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.enqueue(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatcher.ErrClosed) || errors.Is(err, memory.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("submit crawl failed", zap.String("url", params.Seed), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, crawlResponse{RunID: run.ID, Status: run.Status})
}

func (s *Server) toParameters(req crawlRequest) (crawler.RunParameters, error) {
	if req.URL == "" {
		return crawler.RunParameters{}, errors.New("url required")
	}
	if _, err := crawler.HostOf(req.URL); err != nil {
		return crawler.RunParameters{}, err
	}
	depth := s.cfg.DefaultDepth
	if req.Depth != nil {
		depth = *req.Depth
	}
	if depth < 0 {
		return crawler.RunParameters{}, errors.New("depth must be >= 0")
	}
	excludes := slices.Clone(s.cfg.DefaultExcludes)
	for _, ex := range req.Excludes {
		if ex != "" && !slices.Contains(excludes, ex) {
			excludes = append(excludes, ex)
		}
	}
	return crawler.RunParameters{Seed: req.URL, Depth: depth, Excludes: excludes}, nil
}

func (s *Server) enqueue(ctx context.Context, params crawler.RunParameters) (crawler.Run, error) {
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return crawler.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := crawler.Run{
		ID:         id,
		Status:     crawler.RunStatusQueued,
		Submitted:  s.deps.Clock.Now(),
		Parameters: params,
	}
	if err := s.deps.Runs.CreateRun(ctx, run); err != nil {
		return crawler.Run{}, fmt.Errorf("create run: %w", err)
	}
	if err := s.deps.Submitter.Submit(run); err != nil {
		finished := s.deps.Clock.Now()
		run.Status = crawler.RunStatusFailed
		run.Finished = &finished
		run.ErrorText = err.Error()
		if uerr := s.deps.Runs.UpdateRun(context.WithoutCancel(ctx), run); uerr != nil {
			s.logger.Error("mark rejected run failed", zap.String("run_id", run.ID), zap.Error(uerr))
		}
		return crawler.Run{}, err
	}
	return run, nil
}

type runResponse struct {
	Run      crawler.Run        `json:"run"`
	Progress *sinks.RunProgress `json:"progress,omitempty"`
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, crawler.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	resp := runResponse{Run: run}
	if s.deps.Progress != nil {
		if p, ok := s.deps.Progress.Progress(runID); ok {
			resp.Progress = &p
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking unavailable")
		return
	}
	runID := chi.URLParam(r, "run_id")
	p, ok := s.deps.Progress.Progress(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "no progress for run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "progress": p})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
