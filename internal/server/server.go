package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/metrics"
	"github.com/cadencectl/cadence/internal/observability"
	"github.com/cadencectl/cadence/internal/server/handlers"
	"github.com/cadencectl/cadence/internal/server/httperr"
	servermw "github.com/cadencectl/cadence/internal/server/middleware"
)

// Options wires the status server to the control plane. View may be nil,
// in which case the control endpoints are not mounted.
type Options struct {
	View        handlers.ControlView
	Health      *handlers.HealthManager
	NoEventLog  error
	MetricsPort int
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	cfg         config.ServerConfig
	opts        Options
	startedAt   time.Time
	metricsPort int
}

// New creates a new HTTP server instance
func New(cfg config.ServerConfig, opts Options) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID first for correlation, then metrics, then panic recovery.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httperr.Respond(w, req, httperr.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httperr.Respond(w, req, httperr.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	if opts.Health == nil {
		opts.Health = handlers.NewHealthManager("")
	}

	s := &Server{
		router:      r,
		cfg:         cfg,
		opts:        opts,
		metricsPort: opts.MetricsPort,
	}

	handlers.SetHTTPErrorResponder(httperr.Respond)
	s.registerRoutes()

	return s
}

// Start listens until Shutdown is called. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, 120*time.Second),
	}

	s.startedAt = time.Now()
	metrics.SetServerStartTime(s.startedAt.Unix())

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.cfg.Host),
			zap.Int("port", s.cfg.Port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Uptime is zero before Start.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured server port.
func (s *Server) Port() int {
	return s.cfg.Port
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
