package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/csvwtest/internal/earl"
	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/processors"
	"github.com/roach88/csvwtest/internal/results"
	"github.com/roach88/csvwtest/internal/runner"
)

// DefaultMaxAge is the Cache-Control max-age of manifest responses.
const DefaultMaxAge = 5 * time.Minute

// Server serves the harness.
type Server struct {
	manifests *manifest.Store
	runner    *runner.Runner
	results   *results.Store
	runID     string
	registry  *processors.Registry
	doap      *earl.Loader
	logger    *slog.Logger

	maxAge          time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithResults records every POST verdict in store under a run id created
// when the server starts.
func WithResults(store *results.Store) Option {
	return func(s *Server) { s.results = store }
}

// WithProcessors sets the registry used to name processors and to find
// DOAP descriptions.
func WithProcessors(r *processors.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithDOAPLoader sets how DOAP descriptions are fetched.
func WithDOAPLoader(l *earl.Loader) Option {
	return func(s *Server) { s.doap = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxAge sets the Cache-Control max-age of cacheable responses.
func WithMaxAge(d time.Duration) Option {
	return func(s *Server) { s.maxAge = d }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// New creates a server.
func New(manifests *manifest.Store, run *runner.Runner, opts ...Option) *Server {
	s := &Server{
		manifests:       manifests,
		runner:          run,
		doap:            &earl.Loader{},
		logger:          slog.New(slog.DiscardHandler),
		maxAge:          DefaultMaxAge,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.results != nil {
		s.runID = s.results.NewRunID()
	}
	return s
}

// RunID returns the id POST verdicts are recorded under, or "" when
// results are not recorded.
func (s *Server) RunID() string { return s.runID }

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(middleware.URLFormat)

	r.Get("/", redirectTo("/tests"))
	r.Get("/tests/", redirectTo("/tests"))
	r.Get("/tests", s.getManifest)
	r.Get("/tests/{id}", s.getEntry)
	r.Post("/tests/{id}", s.runEntry)
	r.Get("/earl", s.getEARL)
	return r
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("serving", "addr", ln.Addr().String(), "manifest", s.manifests.Location())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func redirectTo(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"content_type", ww.Header().Get("Content-Type"),
			"duration", time.Since(start),
		}
		if loc := ww.Header().Get("Location"); loc != "" {
			attrs = append(attrs, "location", loc)
		}
		s.logger.Info("request", attrs...)
	})
}
