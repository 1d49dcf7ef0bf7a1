// Package server serves the stored leaks, health and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/tricrawl/internal/database"
	"github.com/nao1215/tricrawl/internal/model"
)

const (
	// defaultLimit is the page size when the request has no limit.
	defaultLimit = 100

	// maxLimit caps the page size.
	maxLimit = 1000

	shutdownTimeout = 10 * time.Second
)

// Reader reads stored records. database.Repository implements it.
type Reader interface {
	List(ctx context.Context, f database.Filter) ([]*model.Record, error)
	Get(ctx context.Context, dedupID string) (*model.Record, error)
}

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server is the TriCrawl HTTP API.
type Server struct {
	reader   Reader
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	handler  http.Handler
}

// New creates a Server. A nil gatherer serves the default registry and a
// nil logger uses slog.Default().
func New(reader Reader, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{reader: reader, gatherer: gatherer, logger: logger}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/leaks", s.handleListLeaks)
		r.Get("/leaks/{dedupID}", s.handleGetLeak)
	})

	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.reader.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// leaksResponse is the body of GET /api/v1/leaks.
type leaksResponse struct {
	Count   int             `json:"count"`
	Records []*model.Record `json:"records"`
}

func (s *Server) handleListLeaks(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.reader.List(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list leaks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list leaks")
		return
	}
	writeJSON(w, http.StatusOK, leaksResponse{Count: len(recs), Records: recs})
}

func (s *Server) handleGetLeak(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "dedupID")
	rec, err := s.reader.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get leak", "dedup_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get leak")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "leak not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// parseFilter reads source, min_risk, since, limit and offset.
func parseFilter(r *http.Request) (database.Filter, error) {
	q := r.URL.Query()
	f := database.Filter{
		Source: q.Get("source"),
		Limit:  defaultLimit,
	}

	if v := q.Get("min_risk"); v != "" {
		level, err := model.ParseRiskLevel(v)
		if err != nil {
			return f, fmt.Errorf("invalid min_risk %q", v)
		}
		f.MinRisk = level
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid since %q: want RFC 3339", v)
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid offset %q", v)
		}
		f.Offset = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
