package server

import (
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/observability"
	"github.com/cadencectl/cadence/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	hm := s.opts.Health
	s.router.Get("/health", hm.HealthHandler)
	s.router.Get("/health/live", hm.ProbeHandler("live", 2*time.Second))
	s.router.Get("/health/ready", hm.ProbeHandler("ready", 5*time.Second))
	s.router.Get("/health/startup", hm.ProbeHandler("startup", 3*time.Second))

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", s.MetricsHandler)

	s.registerAdminEndpoint()

	if s.opts.View == nil {
		return
	}
	control := &handlers.ControlHandlers{View: s.opts.View, NoEventLog: s.opts.NoEventLog}
	s.router.Get("/status", control.StatusHandler)
	s.router.Get("/window", control.WindowHandler)
	s.router.Get("/risk", control.RiskHandler)
	s.router.Get("/events", control.EventsHandler)
}

// registerAdminEndpoint mounts POST /admin/signal when an admin token is
// configured. Requests need the token as a bearer credential and are rate
// limited by the signals handler.
func (s *Server) registerAdminEndpoint() {
	if s.cfg.AdminToken == "" {
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.cfg.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
