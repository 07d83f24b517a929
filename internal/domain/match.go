package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MatchState is the lifecycle state of a match.
type MatchState string

const (
	StateScheduled  MatchState = "SCHEDULED"
	StateInProgress MatchState = "IN_PROGRESS"
	StatePaused     MatchState = "PAUSED"
	StateFinished   MatchState = "FINISHED"
	StateCancelled  MatchState = "CANCELLED"
)

// stateTransitions is the closed set of allowed transitions.
// FINISHED and CANCELLED are terminal.
var stateTransitions = map[MatchState][]MatchState{
	StateScheduled:  {StateInProgress, StateCancelled},
	StateInProgress: {StatePaused, StateFinished},
	StatePaused:     {StateInProgress, StateFinished},
	StateFinished:   {},
	StateCancelled:  {},
}

// Valid reports whether s is a known match state.
func (s MatchState) Valid() bool {
	_, ok := stateTransitions[s]
	return ok
}

// CanTransition reports whether the transition s -> to is in the table.
func (s MatchState) CanTransition(to MatchState) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ScoreAction is a referee scoring command.
type ScoreAction string

const (
	ActionPoints2    ScoreAction = "POINTS_2"
	ActionAdvantage  ScoreAction = "ADVANTAGE"
	ActionPenalty    ScoreAction = "PENALTY"
	ActionSubmission ScoreAction = "SUBMISSION"
)

// Valid reports whether a is a known score action.
func (a ScoreAction) Valid() bool {
	switch a {
	case ActionPoints2, ActionAdvantage, ActionPenalty, ActionSubmission:
		return true
	}
	return false
}

// Score holds the four counters for one participant. Counters only ever
// increase through score actions.
type Score struct {
	Points      int `json:"points"`
	Advantages  int `json:"advantages"`
	Penalties   int `json:"penalties"`
	Submissions int `json:"submissions"`
}

// Apply returns a copy of the score with the action's effect added.
func (s Score) Apply(action ScoreAction) Score {
	switch action {
	case ActionPoints2:
		s.Points += 2
	case ActionAdvantage:
		s.Advantages++
	case ActionPenalty:
		s.Penalties++
	case ActionSubmission:
		s.Submissions++
	}
	return s
}

// Participant is one side of a match.
type Participant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Team string    `json:"team,omitempty"`
}

// Match is the authoritative record of a single bout. It is mutated only by
// the match engine, never directly by a connection handler.
type Match struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	Participant1  Participant `json:"participant1"`
	Participant2  Participant `json:"participant2"`
	Category      string      `json:"category" db:"category"`
	Division      string      `json:"division" db:"division"`
	Duration      int         `json:"duration" db:"duration"`
	TimeRemaining int         `json:"timeRemaining" db:"time_remaining"`
	State         MatchState  `json:"state" db:"state"`
	Score1        Score       `json:"score1"`
	Score2        Score       `json:"score2"`
	RefereeID     *uuid.UUID  `json:"refereeId,omitempty" db:"referee_id"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time   `json:"updatedAt" db:"updated_at"`
}

// HasParticipant reports whether id is one of the match's two participants.
func (m *Match) HasParticipant(id uuid.UUID) bool {
	return m.Participant1.ID == id || m.Participant2.ID == id
}

// ShouldAutoFinish reports whether the match meets any auto-finish condition:
// a submission, a disqualification (3+ penalties), or expired time.
func (m *Match) ShouldAutoFinish() bool {
	if m.Score1.Submissions > 0 || m.Score2.Submissions > 0 {
		return true
	}
	if m.Score1.Penalties >= 3 || m.Score2.Penalties >= 3 {
		return true
	}
	return m.TimeRemaining <= 0
}

// Winner determines the winning participant for reporting. Submission wins
// outright, disqualification loses, then points, advantages, fewer penalties.
// Returns nil on a draw.
func (m *Match) Winner() *Participant {
	s1, s2 := m.Score1, m.Score2

	if s1.Submissions > 0 {
		return &m.Participant1
	}
	if s2.Submissions > 0 {
		return &m.Participant2
	}

	if s1.Penalties >= 3 {
		return &m.Participant2
	}
	if s2.Penalties >= 3 {
		return &m.Participant1
	}

	if s1.Points != s2.Points {
		if s1.Points > s2.Points {
			return &m.Participant1
		}
		return &m.Participant2
	}
	if s1.Advantages != s2.Advantages {
		if s1.Advantages > s2.Advantages {
			return &m.Participant1
		}
		return &m.Participant2
	}
	if s1.Penalties != s2.Penalties {
		if s1.Penalties < s2.Penalties {
			return &m.Participant1
		}
		return &m.Participant2
	}

	return nil
}

// MatchRepository is the persistence contract for matches.
type MatchRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Match, error)
	Create(ctx context.Context, match *Match) error
	Update(ctx context.Context, match *Match) error
}
