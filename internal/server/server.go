// Package server exposes the HTTP surface: WebSocket endpoints for match and
// tournament channels, a small REST read/create API, and observability
// endpoints.
package server

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spk364/procomp/internal/auth"
	"github.com/spk364/procomp/internal/config"
	"github.com/spk364/procomp/internal/hub"
	"github.com/spk364/procomp/internal/match"
)

// redisHealthChecker is the minimal surface needed for Redis health checks.
type redisHealthChecker interface {
	Ping(ctx context.Context) error
}

// postgresHealthChecker is the minimal surface needed for PostgreSQL health checks.
type postgresHealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo     *echo.Echo
	config   *config.Config
	hub      *hub.Hub
	engine   *match.Engine
	verifier auth.Verifier
	clock    clockwork.Clock

	redisCheck    redisHealthChecker
	postgresCheck postgresHealthChecker
}

func NewServer(cfg *config.Config, h *hub.Hub, engine *match.Engine, verifier auth.Verifier, clock clockwork.Clock, redisCheck redisHealthChecker, postgresCheck postgresHealthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:          e,
		config:        cfg,
		hub:           h,
		engine:        engine,
		verifier:      verifier,
		clock:         clock,
		redisCheck:    redisCheck,
		postgresCheck: postgresCheck,
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
