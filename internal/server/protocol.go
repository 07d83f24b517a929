package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
	"github.com/spk364/procomp/internal/logging"
	"golang.org/x/time/rate"
)

// Per-connection inbound frame budget. Scoreboard operators click fast, but
// nothing legitimate sustains more than a few commands per second.
const (
	frameRateLimit rate.Limit = 20
	frameRateBurst            = 40
)

// runProtocol is the per-connection loop. It blocks on socket reads until
// the client disconnects or the hub evicts the connection; all exit paths
// converge on the hub's idempotent Disconnect.
func (s *Server) runProtocol(ctx context.Context, conn *websocket.Conn, channel string, boundMatch uuid.UUID, identity domain.Identity, role domain.Role) {
	defer s.hub.Disconnect(conn)

	limiter := rate.NewLimiter(frameRateLimit, frameRateBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			s.sendError(conn, channel, "Rate limit exceeded")
			continue
		}
		s.handleFrame(ctx, conn, channel, boundMatch, identity, role, data)
	}
}

// handleFrame processes one inbound frame. Protocol and domain errors are
// answered with an ERROR frame to this connection only; they never reach
// other subscribers and never tear the connection down.
func (s *Server) handleFrame(ctx context.Context, conn *websocket.Conn, channel string, boundMatch uuid.UUID, identity domain.Identity, role domain.Role, data []byte) {
	s.hub.MarkActivity(conn)

	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, channel, "Invalid JSON format")
		return
	}

	// Heartbeat fast path, any role.
	switch msg.Type {
	case domain.MessagePing:
		s.sendReply(conn, channel, domain.MessagePong, nil)
		return
	case domain.MessagePong:
		return
	}

	if !role.CanSend(msg.Type) {
		if role != domain.RoleReferee && domain.RoleReferee.CanSend(msg.Type) {
			s.sendError(conn, channel, "Insufficient permissions")
		} else {
			s.sendError(conn, channel, "Unknown message type")
		}
		return
	}

	matchID, err := s.resolveMatch(msg, boundMatch)
	if err != nil {
		s.sendError(conn, channel, errors.AsStructuredError(err).Message)
		return
	}

	if err := s.dispatch(ctx, matchID, identity, msg); err != nil {
		if !errors.IsRecoverable(err) {
			logging.WithMatch(matchID.String()).Error("Command failed", "type", msg.Type, "error", err)
			s.sendError(conn, channel, "Failed to process message")
			return
		}
		s.sendError(conn, channel, errors.AsStructuredError(err).Message)
	}
}

// resolveMatch picks the command's target: the envelope's matchId when set,
// otherwise the match the connection is bound to. Tournament connections
// must always address a match explicitly.
func (s *Server) resolveMatch(msg domain.Message, boundMatch uuid.UUID) (uuid.UUID, error) {
	if msg.MatchID != "" {
		id, err := uuid.Parse(msg.MatchID)
		if err != nil {
			return uuid.Nil, errors.ProtocolError("invalid matchId")
		}
		return id, nil
	}
	if boundMatch == uuid.Nil {
		return uuid.Nil, errors.ProtocolError("missing matchId")
	}
	return boundMatch, nil
}

// dispatch applies an authorized referee command through the match engine
// and publishes the outcome to the match channel.
func (s *Server) dispatch(ctx context.Context, matchID uuid.UUID, identity domain.Identity, msg domain.Message) error {
	channel := domain.MatchChannel(matchID)

	switch msg.Type {
	case domain.MessageScoreUpdate:
		var data domain.ScoreUpdateData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return errors.ProtocolError("invalid SCORE_UPDATE payload")
		}
		m, err := s.engine.ApplyScoreAction(ctx, matchID, data.Action, data.ParticipantID, identity.UserID)
		if err != nil {
			return err
		}
		return s.publishSnapshot(ctx, channel, matchID, m)

	case domain.MessageStateUpdate:
		var data domain.StateUpdateData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return errors.ProtocolError("invalid MATCH_STATE_UPDATE payload")
		}
		m, err := s.engine.TransitionState(ctx, matchID, data.State, identity.UserID)
		if err != nil {
			return err
		}
		return s.publishSnapshot(ctx, channel, matchID, m)

	case domain.MessageTimerUpdate:
		var data domain.TimerUpdateData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return errors.ProtocolError("invalid TIMER_UPDATE payload")
		}
		m, err := s.engine.UpdateTimer(ctx, matchID, data.TimeRemaining, identity.UserID)
		if err != nil {
			return err
		}

		timerMsg, err := domain.NewMatchMessage(domain.MessageTimerUpdate, matchID,
			domain.TimerUpdateData{TimeRemaining: m.TimeRemaining}, s.clock.Now())
		if err != nil {
			return err
		}
		if err := s.hub.Publish(ctx, channel, timerMsg); err != nil {
			return err
		}

		// A timer hitting zero auto-finishes the match; follow the timer
		// broadcast with the full snapshot so clients see the final state.
		if m.State == domain.StateFinished {
			return s.publishSnapshot(ctx, channel, matchID, m)
		}
		return nil

	default:
		return errors.ProtocolError("unknown message type")
	}
}

func (s *Server) publishSnapshot(ctx context.Context, channel string, matchID uuid.UUID, m *domain.Match) error {
	msg, err := domain.NewMatchMessage(domain.MessageMatchUpdate, matchID, m, s.clock.Now())
	if err != nil {
		return err
	}
	return s.hub.Publish(ctx, channel, msg)
}

func (s *Server) sendReply(conn *websocket.Conn, channel, msgType string, data any) {
	msg, err := domain.NewChannelMessage(msgType, channel, data, s.clock.Now())
	if err != nil {
		slog.Error("Failed to build reply", "type", msgType, "error", err)
		return
	}
	_ = s.hub.Send(conn, msg)
}

func (s *Server) sendError(conn *websocket.Conn, channel, message string) {
	s.sendReply(conn, channel, domain.MessageError, domain.ErrorData{Error: message})
}
