// Package gateway is the HTTP entry point: it admits clients, enforces
// budgets and hands requests to the generation service.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/byheaven/aitoy/pkg/admission"
	"github.com/byheaven/aitoy/pkg/budget"
	"github.com/byheaven/aitoy/pkg/config"
	"github.com/byheaven/aitoy/pkg/generation"
	"github.com/byheaven/aitoy/pkg/history"
	"github.com/byheaven/aitoy/pkg/observability"
	"github.com/byheaven/aitoy/pkg/tracker"
)

// Deps are the collaborators the gateway drives. Limiter, Service and
// Orchestrator are required; the rest may be nil.
type Deps struct {
	Limiter      *admission.Limiter
	Stats        admission.StatsStore
	Service      *generation.Service
	Orchestrator *generation.Orchestrator
	Tracker      tracker.Tracker
	Budget       *budget.Enforcer
	History      *history.Store
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// Server is the aitoy HTTP gateway.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
	router chi.Router
	now    func() time.Time
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, deps: d, logger: logger, now: time.Now}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(d.Metrics.Middleware)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.cors)
		r.Post("/generate-image", s.handleGenerateImage)
		r.Get("/generate-image", s.handleHealth)
		r.Options("/generate-image", s.handlePreflight)
		r.Post("/generate-variations", s.handleGenerateBatch)
		r.Get("/generate-variations", s.handleCapabilities)
		r.Options("/generate-variations", s.handlePreflight)
		r.Get("/rate-limit", s.handleRateLimit)
		r.Get("/history", s.handleHistory)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway and shuts it down gracefully when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("aitoy gateway listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		// Batches can run for several provider timeouts; give them time to finish.
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requestID honours an incoming X-Request-ID and otherwise assigns a UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.cfg.Gateway.AllowedOrigin; origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}
