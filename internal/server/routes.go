package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Match API
	s.echo.POST("/api/matches", s.handleCreateMatch)
	s.echo.GET("/api/matches/:id", s.handleGetMatch)
	s.echo.GET("/api/matches/:id/events", s.handleListMatchEvents)
	s.echo.POST("/api/matches/:id/comments", s.handleAddComment)
	s.echo.GET("/api/matches/:id/connections", s.handleMatchConnections)

	// WebSocket entry points, one per broadcast scope
	s.echo.GET("/ws/match/:id", s.handleMatchSocket)
	s.echo.GET("/ws/tournament/:id", s.handleTournamentSocket)
}
