package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/wilfranr/control-id-miid/internal/api/middleware"
	v1 "github.com/wilfranr/control-id-miid/internal/api/v1"
	"github.com/wilfranr/control-id-miid/internal/buildinfo"
	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/observability"
)

// Server is the control HTTP server.
// It manages the Echo instance, middleware and all HTTP routes.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger
	access logger.Logger

	service v1.Syncer
	journal v1.OutcomeStore
	metrics *observability.Metrics

	apiController *v1.Controller
	startTime     time.Time
	started       atomic.Bool
	done          chan struct{}
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithJournal enables the outcome listing endpoints.
func WithJournal(j v1.OutcomeStore) ServerOption {
	return func(s *Server) {
		s.journal = j
	}
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the server logger. Access logs go to its "access" module.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// New creates a control server for service with the given settings and options.
func New(settings *conf.Settings, service v1.Syncer, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return NewWithConfig(config, service, opts...), nil
}

// NewWithConfig creates a control server from an explicit Config.
func NewWithConfig(config *Config, service v1.Syncer, opts ...ServerOption) *Server {
	s := &Server{
		config:    config,
		service:   service,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	s.access = s.log.Module("access")

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("auth", config.AuthEnabled()),
		logger.Bool("metrics", s.metrics != nil && config.Metrics))
	return s
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(mw.NewTraceID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.access, func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	var auth []echo.MiddlewareFunc
	if s.config.AuthEnabled() {
		auth = append(auth, mw.NewBasicAuth(s.config.Username, s.config.Password))
	}

	s.echo.GET("/", s.index)
	s.apiController = v1.New(s.echo, s.service, s.journal, s.log, auth...)

	if s.metrics != nil && s.config.Metrics {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()), auth...)
	}
}

// index answers liveness probes without touching the backends.
func (s *Server) index(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"service":        "controlid-sync",
		"version":        buildinfo.Get().Version,
		"environment":    s.service.Environment(),
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
	})
}

// Start begins serving HTTP requests in a background goroutine and returns immediately.
// Use Shutdown to stop the server.
func (s *Server) Start() {
	s.started.Store(true)
	go func() {
		defer close(s.done)
		s.log.Info("starting HTTP server", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", logger.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}
	if s.started.Load() {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
