package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wire message types exchanged over a connection.
const (
	MessageMatchUpdate      = "MATCH_UPDATE"
	MessageScoreUpdate      = "SCORE_UPDATE"
	MessageStateUpdate      = "MATCH_STATE_UPDATE"
	MessageTimerUpdate      = "TIMER_UPDATE"
	MessageConnectionStatus = "CONNECTION_STATUS"
	MessageError            = "ERROR"
	MessagePing             = "PING"
	MessagePong             = "PONG"
)

// Message is the JSON wire envelope. Exactly one of MatchID or TournamentID
// is set depending on the channel the message belongs to. Payloads are full
// snapshots, so clients can re-apply a duplicate delivery safely.
type Message struct {
	Type         string          `json:"type"`
	MatchID      string          `json:"matchId,omitempty"`
	TournamentID string          `json:"tournamentId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    string          `json:"timestamp"`
}

// NewMatchMessage builds a match-channel envelope with the given payload.
func NewMatchMessage(msgType string, matchID uuid.UUID, data any, now time.Time) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		MatchID:   matchID.String(),
		Data:      raw,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}, nil
}

// NewChannelMessage builds an envelope addressed by channel, filling MatchID
// or TournamentID from the channel prefix.
func NewChannelMessage(msgType, channel string, data any, now time.Time) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := &Message{
		Type:      msgType,
		Data:      raw,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
	if id, ok := strings.CutPrefix(channel, matchChannelPrefix); ok {
		msg.MatchID = id
	} else if id, ok := strings.CutPrefix(channel, tournamentChannelPrefix); ok {
		msg.TournamentID = id
	}
	return msg, nil
}

// ErrorData is the payload of an ERROR message.
type ErrorData struct {
	Error string `json:"error"`
}

// ConnectionStatusData is the payload of a CONNECTION_STATUS message.
type ConnectionStatusData struct {
	Connected   bool `json:"connected"`
	ClientCount int  `json:"clientCount"`
}

// ScoreUpdateData is the inbound payload of a SCORE_UPDATE command.
type ScoreUpdateData struct {
	Action        ScoreAction `json:"action"`
	ParticipantID uuid.UUID   `json:"participantId"`
}

// StateUpdateData is the inbound payload of a MATCH_STATE_UPDATE command.
type StateUpdateData struct {
	State MatchState `json:"state"`
}

// TimerUpdateData is the payload of a TIMER_UPDATE command or broadcast.
type TimerUpdateData struct {
	TimeRemaining int `json:"timeRemaining"`
}
