// Package server is the HTTP front end. Each request runs in its own
// goroutine under a deadline; a watchdog answers 504 when the deadline
// passes even if the worker is still blocked, and a panicking worker is
// answered with 500. Neither case affects the listener or other requests.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/Aman-CERP/xrefsearch/internal/search"
	"github.com/Aman-CERP/xrefsearch/internal/telemetry"
)

const (
	// DefaultRequestTimeout bounds one request end to end.
	DefaultRequestTimeout = 120 * time.Second

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config configures the HTTP front end.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// RequestTimeout is the per-request deadline.
	RequestTimeout time.Duration

	// RateLimit is the sustained requests per second admitted to tree
	// routes. Zero disables admission control.
	RateLimit float64

	// RateBurst is the token bucket size. Defaults to one second's worth.
	RateBurst int
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes query telemetry on /_stats.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server routes search requests to the engine.
type Server struct {
	engine  *search.Engine
	metrics *telemetry.QueryMetrics
	cfg     Config
	limiter *rate.Limiter
	router  *mux.Router
	started time.Time
}

// New creates a server over engine.
func New(engine *search.Engine, cfg Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: search engine is required", search.ErrNilDependency)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	s := &Server{engine: engine, cfg: cfg, started: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = max(int(cfg.RateLimit), 1)
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests, varyAccept)

	r.Path("/healthz").Methods(http.MethodGet).HandlerFunc(s.handleHealth)
	if s.metrics != nil {
		r.Path("/_stats").Methods(http.MethodGet).HandlerFunc(s.handleStats)
	}

	trees := r.PathPrefix("/{tree}").Subrouter()
	trees.Use(s.admit)
	trees.Path("/search").Methods(http.MethodGet).Handler(s.isolate(s.search))
	trees.Path("/sorch").Methods(http.MethodGet).Handler(s.isolate(s.sorch))
	trees.Path("/symbol").Methods(http.MethodGet).Handler(s.isolate(s.symbol))
	trees.Path("/define").Methods(http.MethodGet).Handler(s.isolate(s.define))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		varyAccept(http.HandlerFunc(http.NotFound)).ServeHTTP(w, r)
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("http server listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
