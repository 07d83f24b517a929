package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Scoreboard HUDs and venue displays connect from arbitrary origins.
		return true
	},
}

// authenticate resolves the already-validated identity from the signed token
// carried in the Authorization header or the token query parameter.
func (s *Server) authenticate(c echo.Context) (domain.Identity, error) {
	token := c.QueryParam("token")
	if header := c.Request().Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		return domain.Identity{}, errors.AuthorizationError("missing token")
	}
	return s.verifier.Verify(token)
}

// effectiveRole honors the requested role only when the identity corroborates
// it; everyone else connects as a viewer.
func effectiveRole(requested string, identity domain.Identity) domain.Role {
	if domain.ParseRole(requested) == domain.RoleReferee && identity.Role == domain.RoleReferee {
		return domain.RoleReferee
	}
	return domain.RoleViewer
}

func (s *Server) handleMatchSocket(c echo.Context) error {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.String(400, "Invalid match ID")
	}

	identity, err := s.authenticate(c)
	if err != nil {
		return c.String(401, "Unauthorized")
	}

	// Reject before upgrading: a socket to a nonexistent match is useless.
	m, err := s.engine.Get(c.Request().Context(), matchID)
	if err != nil {
		structured := errors.AsStructuredError(err)
		return c.String(structured.HTTPStatus(), structured.Message)
	}

	role := effectiveRole(c.QueryParam("role"), identity)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return nil
	}

	channel := domain.MatchChannel(matchID)
	if err := s.hub.Connect(conn, channel, identity, role); err != nil {
		slog.Warn("Hub connect failed", "channel", channel, "error", err)
		_ = conn.Close()
		return nil
	}

	// Initial snapshot so the client renders without waiting for a mutation.
	if msg, err := domain.NewMatchMessage(domain.MessageMatchUpdate, matchID, m, s.clock.Now()); err == nil {
		_ = s.hub.Send(conn, msg)
	}

	s.runProtocol(c.Request().Context(), conn, channel, matchID, identity, role)
	return nil
}

func (s *Server) handleTournamentSocket(c echo.Context) error {
	tournamentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.String(400, "Invalid tournament ID")
	}

	identity, err := s.authenticate(c)
	if err != nil {
		return c.String(401, "Unauthorized")
	}

	role := effectiveRole(c.QueryParam("role"), identity)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return nil
	}

	channel := domain.TournamentChannel(tournamentID)
	if err := s.hub.Connect(conn, channel, identity, role); err != nil {
		slog.Warn("Hub connect failed", "channel", channel, "error", err)
		_ = conn.Close()
		return nil
	}

	s.runProtocol(c.Request().Context(), conn, channel, uuid.Nil, identity, role)
	return nil
}
