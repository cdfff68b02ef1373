// Package http provides the foreignd admin API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/fyrsmithlabs/foreignd/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// StateSource provides registry snapshots. Implementations marshal the
// call onto the goroutine that owns the registry.
type StateSource interface {
	Snapshot(ctx context.Context) (foreign.Snapshot, error)
}

// StateSourceFunc adapts a function to StateSource.
type StateSourceFunc func(ctx context.Context) (foreign.Snapshot, error)

// Snapshot calls f.
func (f StateSourceFunc) Snapshot(ctx context.Context) (foreign.Snapshot, error) {
	return f(ctx)
}

// Server serves health, state and metrics endpoints.
type Server struct {
	echo     *echo.Echo
	source   StateSource
	logger   *logging.Logger
	config   *Config
	registry *prometheus.Registry
	health   func() telemetry.HealthStatus
	meter    metric.Meter
}

// Option configures a Server.
type Option func(*Server)

// WithTelemetryHealth includes telemetry health in GET /health.
func WithTelemetryHealth(fn func() telemetry.HealthStatus) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// WithMeter sets the meter for request instruments.
func WithMeter(m metric.Meter) Option {
	return func(s *Server) {
		s.meter = m
	}
}

// WithRegistry sets the Prometheus registry served on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// NewServer creates a new admin server.
func NewServer(source StateSource, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("state source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		source:   source,
		logger:   logger.Named("http"),
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.registry.Register(newRegistryCollector(source, cfg.SnapshotTimeout.Duration())); err != nil {
		return nil, fmt.Errorf("registering registry collector: %w", err)
	}
	// Go and process collectors are optional; a caller-supplied registry may
	// already carry them.
	_ = s.registry.Register(collectors.NewGoCollector())
	_ = s.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(NewHTTPMetrics(s.meter, s.logger).MetricsMiddleware())
	if cfg.RateLimit.Enabled {
		e.Use(newRateLimiter(cfg.RateLimit).Middleware())
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/state", s.handleState)
	v1.GET("/exports", s.handleExports)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := req.Context()
		if id := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(id) {
			ctx = logging.WithRequestID(ctx, id)
			c.SetRequest(req.WithContext(ctx))
		}

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Debug(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// handleHealth reports ok unless the registry is gone or telemetry is degraded.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	code := http.StatusOK

	snap, err := s.snapshot(c.Request().Context())
	if err != nil {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		resp.Service = snap.State
		if snap.State != foreign.StateActive {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	if s.health != nil {
		th := s.health()
		resp.Telemetry = &th
		if th.Degraded && resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}
	return c.JSON(code, resp)
}

// handleState returns the full registry snapshot.
func (s *Server) handleState(c echo.Context) error {
	snap, err := s.snapshot(c.Request().Context())
	if err != nil {
		return s.unavailable(c, err)
	}
	return c.JSON(http.StatusOK, StateResponse{Snapshot: snap})
}

// handleExports returns live exports, optionally filtered by ?client=.
func (s *Server) handleExports(c echo.Context) error {
	snap, err := s.snapshot(c.Request().Context())
	if err != nil {
		return s.unavailable(c, err)
	}

	exports := snap.Exports
	if client := c.QueryParam("client"); client != "" {
		exports = exports[:0:0]
		for _, e := range snap.Exports {
			if e.Client == client {
				exports = append(exports, e)
			}
		}
	}
	if exports == nil {
		exports = []foreign.ExportedInfo{}
	}
	return c.JSON(http.StatusOK, ExportsResponse{Exports: exports, Total: len(exports)})
}

func (s *Server) snapshot(ctx context.Context) (foreign.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SnapshotTimeout.Duration())
	defer cancel()
	return s.source.Snapshot(ctx)
}

func (s *Server) unavailable(c echo.Context, err error) error {
	s.logger.Warn(c.Request().Context(), "snapshot failed", zap.Error(err))
	return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "registry unavailable"})
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Registry returns the Prometheus registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", ln.Addr().String()))
	s.echo.Listener = ln
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout.Duration())
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}
