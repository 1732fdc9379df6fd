// Package core provides the API chassis. It creates a chi router served
// either over plain HTTP or through the API Gateway Lambda adapter, and
// enforces cross-cutting concerns (security headers, logging, metrics,
// authentication, error handling) before requests reach handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dirhub/internal/config"
)

// Server holds the chassis dependencies. Optional collaborators are plain
// fields so main and tests can inject them after construction.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// MetricsHandler is mounted at GET /metrics when set.
	MetricsHandler http.Handler

	// V1RouteRegistrars mount domain handlers under /v1. WebhookRegistrars
	// mount provider callbacks under /webhooks, which skip authentication and
	// response compression.
	V1RouteRegistrars []func(chi.Router)
	WebhookRegistrars []func(chi.Router)

	// Closers run on Shutdown in registration order.
	Closers []func(context.Context) error

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// The caller mounts routes with MountRoutes after wiring registrars.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources. Every closer runs; the first error is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var first error
	for _, c := range s.Closers {
		if err := c(ctx); err != nil {
			s.Logger.ErrorContext(ctx, "error releasing server resource", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return fmt.Errorf("closing server resources: %w", first)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
