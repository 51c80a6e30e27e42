// Package api exposes the query surface, report intake and operational
// endpoints over HTTP. Authentication and authorization live in front of
// this service; handlers only perform the underlying reads and writes.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/dronewatch/tracker/internal/archive"
	"github.com/dronewatch/tracker/internal/counter"
	"github.com/dronewatch/tracker/internal/engine"
	"github.com/dronewatch/tracker/internal/query"
)

// Server wires the HTTP handlers to the core services.
type Server struct {
	query      *query.Service
	engine     *engine.Engine
	migrator   *archive.Migrator
	counters   counter.Store
	limiter    *rate.Limiter
	ratePerMin int
}

// Config carries the handler dependencies.
type Config struct {
	Query      *query.Service
	Engine     *engine.Engine
	Migrator   *archive.Migrator
	Counters   counter.Store
	RatePerMin int
}

// New creates a Server.
func New(cfg Config) *Server {
	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = 20
	}
	return &Server{
		query:      cfg.Query,
		engine:     cfg.Engine,
		migrator:   cfg.Migrator,
		counters:   cfg.Counters,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMin)/60.0*10), perMin),
		ratePerMin: perMin,
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/planes", func(r chi.Router) {
		r.Get("/", s.handleListPlanes)
		r.With(s.rateLimit).Post("/single", s.handleSingleReport)
		r.Get("/{identity}", s.handleGetPlane)
		r.Delete("/{identity}", s.handleDeletePlane)
	})

	r.Route("/archive", func(r chi.Router) {
		r.Get("/", s.handleListArchive)
		r.Post("/manual", s.handleManualArchive)
	})

	r.Get("/statistics/overview", s.handleOverview)

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// rateLimit bounds report submissions: a global token bucket against bursts,
// then a per-client window through the shared counter store.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many submissions")
			return
		}
		if s.counters != nil {
			key := "rate:report:" + clientIP(r)
			count, err := s.counters.Incr(r.Context(), key, time.Minute)
			if err != nil {
				log.Printf("Warning: rate counter unavailable: %v", err)
			} else if count > int64(s.ratePerMin) {
				writeError(w, http.StatusTooManyRequests, "too many submissions")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// middleware.RealIP has already rewritten RemoteAddr when the request
	// carried a forwarding header.
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}
