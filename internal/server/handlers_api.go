package server

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
	"github.com/spk364/procomp/internal/logging"
	"github.com/spk364/procomp/internal/match"
)

type createMatchRequest struct {
	Participant1 domain.Participant `json:"participant1"`
	Participant2 domain.Participant `json:"participant2"`
	Category     string             `json:"category"`
	Division     string             `json:"division"`
	Duration     int                `json:"duration"`
	RefereeID    *uuid.UUID         `json:"refereeId,omitempty"`
}

func (s *Server) handleCreateMatch(c echo.Context) error {
	identity, err := s.authenticate(c)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if identity.Role != domain.RoleReferee {
		return s.errorResponse(c, errors.AuthorizationError("Insufficient permissions"))
	}

	var req createMatchRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, errors.ProtocolError("invalid request body"))
	}

	m, err := s.engine.Create(c.Request().Context(), match.CreateRequest{
		Participant1: req.Participant1,
		Participant2: req.Participant2,
		Category:     req.Category,
		Division:     req.Division,
		Duration:     req.Duration,
		RefereeID:    req.RefereeID,
	}, identity.UserID)
	if err != nil {
		return s.errorResponse(c, err)
	}

	logging.WithActor(identity.UserID).Info("Match created", "match_id", m.ID.String())
	return c.JSON(201, m)
}

// handleGetMatch serves the current state point. Clients that missed live
// messages recover here; there is no event replay.
func (s *Server) handleGetMatch(c echo.Context) error {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return s.errorResponse(c, errors.ProtocolError("invalid match id"))
	}

	m, err := s.engine.Get(c.Request().Context(), matchID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(200, m)
}

func (s *Server) handleListMatchEvents(c echo.Context) error {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return s.errorResponse(c, errors.ProtocolError("invalid match id"))
	}

	events, err := s.engine.Events(c.Request().Context(), matchID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(200, map[string]any{"events": events})
}

type addCommentRequest struct {
	Text          string     `json:"text"`
	ParticipantID *uuid.UUID `json:"participantId,omitempty"`
}

func (s *Server) handleAddComment(c echo.Context) error {
	identity, err := s.authenticate(c)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if identity.Role != domain.RoleReferee {
		return s.errorResponse(c, errors.AuthorizationError("Insufficient permissions"))
	}

	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return s.errorResponse(c, errors.ProtocolError("invalid match id"))
	}

	var req addCommentRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, errors.ProtocolError("invalid request body"))
	}

	event, err := s.engine.AddComment(c.Request().Context(), matchID, req.Text, req.ParticipantID, identity.UserID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(201, event)
}

func (s *Server) handleMatchConnections(c echo.Context) error {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return s.errorResponse(c, errors.ProtocolError("invalid match id"))
	}

	count := s.hub.ClientCount(domain.MatchChannel(matchID))
	return c.JSON(200, map[string]any{
		"matchId":     matchID.String(),
		"clientCount": count,
	})
}

func (s *Server) errorResponse(c echo.Context, err error) error {
	structured := errors.AsStructuredError(err)
	if structured.Type == errors.TypeInternal {
		logging.WithError(err).Error("Request failed", "path", c.Request().URL.Path)
	}
	return c.JSON(structured.HTTPStatus(), structured.ToResponse())
}
