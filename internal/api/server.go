package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/flowpbx/callsearch/internal/api/middleware"
	"github.com/flowpbx/callsearch/internal/config"
	"github.com/flowpbx/callsearch/internal/metrics"
	"github.com/flowpbx/callsearch/internal/search"
)

// pinger reports whether the backing store is currently reachable.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	svc     *search.Service
	store   pinger
	cfg     *config.Config
	metrics *metrics.Collector
	limiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(svc *search.Service, store pinger, cfg *config.Config, coll *metrics.Collector) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		svc:     svc,
		store:   store,
		cfg:     cfg,
		metrics: coll,
		limiter: middleware.NewIPRateLimiter(middleware.RateLimitConfig{
			Rate:            rate.Limit(cfg.RateLimitRPS),
			Burst:           int(cfg.RateLimitRPS) * 2,
			CleanupInterval: 5 * time.Minute,
			MaxAge:          10 * time.Minute,
		}),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.limiter))
			r.Post("/search", s.handleSearch)
		})
	})

	slog.Info("api routes mounted")
}

type searchRequest struct {
	CreatedAt    int64  `json:"createdAt"`
	TerminatedAt int64  `json:"terminatedAt"`
	Query        string `json:"query"`
}

// handleSearch streams NDJSON search results. The response body starts as
// soon as the request validates; a store failure discovered mid-stream is
// reported as a trailing error line rather than a status change.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	start := time.Now()
	results, err := s.svc.Search(r.Context(), search.Request{
		CreatedAt:    req.CreatedAt,
		TerminatedAt: req.TerminatedAt,
		Query:        req.Query,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveSearch("invalid_query", time.Since(start))
		}
		if errors.Is(err, search.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	slog.Debug("search started",
		"request_id", chimw.GetReqID(r.Context()),
		"created_at", req.CreatedAt,
		"terminated_at", req.TerminatedAt,
	)

	nd := newNDJSONWriter(w)
	outcome := "ok"
	results(func(res search.Result, err error) bool {
		if err != nil {
			outcome = "store_unavailable"
			slog.Error("search stream interrupted", "request_id", chimw.GetReqID(r.Context()), "error", err)
			nd.WriteError("search interrupted: store unavailable") //nolint:errcheck
			return false
		}
		if s.metrics != nil {
			s.metrics.ObserveResult(len(res.CallID))
		}
		return nd.WriteResult(res) == nil
	})

	if s.metrics != nil {
		s.metrics.ObserveSearch(outcome, time.Since(start))
	}
}

// handleHealth reports store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
