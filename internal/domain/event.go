package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MatchEventType categorizes audit events recorded during a match.
type MatchEventType string

const (
	EventPoints2     MatchEventType = "POINTS_2"
	EventAdvantage   MatchEventType = "ADVANTAGE"
	EventPenalty     MatchEventType = "PENALTY"
	EventSubmission  MatchEventType = "SUBMISSION"
	EventStateChange MatchEventType = "STATE_CHANGE"
	EventTimerUpdate MatchEventType = "TIMER_UPDATE"
	EventAutoFinish  MatchEventType = "AUTO_FINISH"
	EventCreated     MatchEventType = "MATCH_CREATED"
	EventComment     MatchEventType = "COMMENT"
)

// SystemActor is the actor recorded on events the system emits itself,
// such as an auto-finish transition.
const SystemActor = "system"

// MatchEvent is an immutable append-only audit record. Events are created as
// a side effect of every match mutation and are never updated.
type MatchEvent struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	MatchID       uuid.UUID      `json:"matchId" db:"match_id"`
	Timestamp     time.Time      `json:"timestamp" db:"timestamp"`
	ActorID       string         `json:"actorId" db:"actor_id"`
	ParticipantID *uuid.UUID     `json:"participantId,omitempty" db:"participant_id"`
	Type          MatchEventType `json:"type" db:"event_type"`
	Value         string         `json:"value,omitempty" db:"value"`
	Metadata      map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// EventRepository is the append-only persistence contract for match events.
type EventRepository interface {
	Append(ctx context.Context, event *MatchEvent) error
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]MatchEvent, error)
}
