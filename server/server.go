// Package server exposes the worker's operational endpoints: a health check
// carrying scheduler state and the Prometheus scrape endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/routinesense/ai/proactive"
	"github.com/hrygo/routinesense/internal/profile"
)

// StatsProvider reports scheduler state. *proactive.Scheduler implements it.
type StatsProvider interface {
	GetStats() *proactive.SchedulerStats
}

// Server is the ops HTTP server.
type Server struct {
	Profile *profile.Profile

	echo    *echo.Echo
	stats   StatsProvider
	metrics http.Handler
	logger  *slog.Logger
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Version   string                    `json:"version"`
	Scheduler *proactive.SchedulerStats `json:"scheduler,omitempty"`
}

// NewServer builds the ops server. A nil metrics handler leaves /metrics unregistered.
func NewServer(profile *profile.Profile, stats StatsProvider, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return err
		}
	})

	s := &Server{
		Profile: profile,
		echo:    e,
		stats:   stats,
		metrics: metrics,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.Profile.Version}
	if s.stats != nil {
		resp.Scheduler = s.stats.GetStats()
		if !resp.Scheduler.Running {
			resp.Status = "idle"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	s.logger.Info("ops server listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
