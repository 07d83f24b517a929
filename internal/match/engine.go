// Package match implements the match state machine. It is the sole producer
// of match mutations: score application, state transitions, timer updates,
// and auto-finish detection. It never touches sockets.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
	"github.com/spk364/procomp/internal/metrics"
)

// Engine applies mutations to matches and records an audit event for every
// one of them. Mutations of the same match are serialized by a per-match
// lock; score, timer, and state changes are not commutative.
type Engine struct {
	matches domain.MatchRepository
	events  domain.EventRepository
	clock   clockwork.Clock

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewEngine(matches domain.MatchRepository, events domain.EventRepository, clock clockwork.Clock) *Engine {
	return &Engine{
		matches: matches,
		events:  events,
		clock:   clock,
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

func (e *Engine) lockFor(matchID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[matchID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[matchID] = l
	}
	return l
}

// Get returns the current match snapshot.
func (e *Engine) Get(ctx context.Context, matchID uuid.UUID) (*domain.Match, error) {
	return e.matches.Get(ctx, matchID)
}

// Events returns the audit trail for a match.
func (e *Engine) Events(ctx context.Context, matchID uuid.UUID) ([]domain.MatchEvent, error) {
	return e.events.ListByMatch(ctx, matchID)
}

// CreateRequest holds the fields needed to schedule a new match.
type CreateRequest struct {
	Participant1 domain.Participant
	Participant2 domain.Participant
	Category     string
	Division     string
	Duration     int
	RefereeID    *uuid.UUID
}

// Create schedules a new match and records a MATCH_CREATED event.
func (e *Engine) Create(ctx context.Context, req CreateRequest, actorID string) (*domain.Match, error) {
	if req.Duration <= 0 {
		return nil, errors.InvalidValueError("duration must be positive")
	}
	if req.Participant1.ID == req.Participant2.ID {
		return nil, errors.InvalidParticipantError("participants must be distinct")
	}

	now := e.clock.Now()
	m := &domain.Match{
		ID:            uuid.New(),
		Participant1:  req.Participant1,
		Participant2:  req.Participant2,
		Category:      req.Category,
		Division:      req.Division,
		Duration:      req.Duration,
		TimeRemaining: req.Duration,
		State:         domain.StateScheduled,
		RefereeID:     req.RefereeID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.matches.Create(ctx, m); err != nil {
		return nil, errors.InternalError("failed to create match", err)
	}

	e.appendEvent(ctx, &domain.MatchEvent{
		ID:        uuid.New(),
		MatchID:   m.ID,
		Timestamp: now,
		ActorID:   actorID,
		Type:      domain.EventCreated,
		Metadata: map[string]any{
			"category": m.Category,
			"division": m.Division,
			"duration": m.Duration,
		},
	})

	return m, nil
}

// ApplyScoreAction applies a score action to one participant. Valid only
// while the match is IN_PROGRESS; counters never decrease through this path.
// Auto-finish is evaluated after the action is applied.
func (e *Engine) ApplyScoreAction(ctx context.Context, matchID uuid.UUID, action domain.ScoreAction, participantID uuid.UUID, actorID string) (*domain.Match, error) {
	if !action.Valid() {
		return nil, errors.InvalidValueError(fmt.Sprintf("unknown score action %q", action))
	}

	lock := e.lockFor(matchID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return nil, e.countMutation("score", err)
	}

	if m.State != domain.StateInProgress {
		return nil, e.countMutation("score", errors.InvalidStateError("can only update scores during an active match"))
	}
	if !m.HasParticipant(participantID) {
		return nil, e.countMutation("score", errors.InvalidParticipantError("participant is not part of this match"))
	}

	if m.Participant1.ID == participantID {
		m.Score1 = m.Score1.Apply(action)
	} else {
		m.Score2 = m.Score2.Apply(action)
	}

	now := e.clock.Now()
	m.UpdatedAt = now

	scoreEvent := &domain.MatchEvent{
		ID:            uuid.New(),
		MatchID:       m.ID,
		Timestamp:     now,
		ActorID:       actorID,
		ParticipantID: &participantID,
		Type:          domain.MatchEventType(action),
		Value:         string(action),
	}
	finishEvent := e.evaluateAutoFinish(m)

	// The audit trail records persisted mutations only, so events are
	// appended after the match update commits.
	if err := e.matches.Update(ctx, m); err != nil {
		return nil, e.countMutation("score", errors.InternalError("failed to persist match", err))
	}
	e.appendEvent(ctx, scoreEvent)
	e.recordAutoFinish(ctx, finishEvent)

	metrics.MatchMutationsTotal.WithLabelValues("score", "ok").Inc()
	return m, nil
}

// TransitionState performs a state transition from the closed table and
// records a STATE_CHANGE event.
func (e *Engine) TransitionState(ctx context.Context, matchID uuid.UUID, newState domain.MatchState, actorID string) (*domain.Match, error) {
	if !newState.Valid() {
		return nil, errors.InvalidValueError(fmt.Sprintf("unknown match state %q", newState))
	}

	lock := e.lockFor(matchID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return nil, e.countMutation("state", err)
	}

	if !m.State.CanTransition(newState) {
		return nil, e.countMutation("state", errors.InvalidTransitionError(
			fmt.Sprintf("invalid state transition from %s to %s", m.State, newState)))
	}

	oldState := m.State
	now := e.clock.Now()
	m.State = newState
	m.UpdatedAt = now

	if err := e.matches.Update(ctx, m); err != nil {
		return nil, e.countMutation("state", errors.InternalError("failed to persist match", err))
	}

	e.appendEvent(ctx, &domain.MatchEvent{
		ID:        uuid.New(),
		MatchID:   m.ID,
		Timestamp: now,
		ActorID:   actorID,
		Type:      domain.EventStateChange,
		Value:     string(newState),
		Metadata:  map[string]any{"from": string(oldState), "to": string(newState)},
	})

	metrics.MatchMutationsTotal.WithLabelValues("state", "ok").Inc()
	return m, nil
}

// UpdateTimer sets the remaining time. A timer reaching zero while the match
// is IN_PROGRESS triggers the auto-finish path.
func (e *Engine) UpdateTimer(ctx context.Context, matchID uuid.UUID, timeRemaining int, actorID string) (*domain.Match, error) {
	if timeRemaining < 0 {
		return nil, errors.InvalidValueError("time remaining cannot be negative")
	}

	lock := e.lockFor(matchID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return nil, e.countMutation("timer", err)
	}

	oldTime := m.TimeRemaining
	now := e.clock.Now()
	m.TimeRemaining = timeRemaining
	m.UpdatedAt = now

	timerEvent := &domain.MatchEvent{
		ID:        uuid.New(),
		MatchID:   m.ID,
		Timestamp: now,
		ActorID:   actorID,
		Type:      domain.EventTimerUpdate,
		Value:     fmt.Sprintf("%d", timeRemaining),
		Metadata:  map[string]any{"from": oldTime, "to": timeRemaining},
	}
	finishEvent := e.evaluateAutoFinish(m)

	if err := e.matches.Update(ctx, m); err != nil {
		return nil, e.countMutation("timer", errors.InternalError("failed to persist match", err))
	}
	e.appendEvent(ctx, timerEvent)
	e.recordAutoFinish(ctx, finishEvent)

	metrics.MatchMutationsTotal.WithLabelValues("timer", "ok").Inc()
	return m, nil
}

// AddComment records a referee annotation in the match event trail. Comments
// do not mutate the match itself.
func (e *Engine) AddComment(ctx context.Context, matchID uuid.UUID, text string, participantID *uuid.UUID, actorID string) (*domain.MatchEvent, error) {
	if text == "" {
		return nil, errors.InvalidValueError("comment text cannot be empty")
	}

	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if participantID != nil && !m.HasParticipant(*participantID) {
		return nil, errors.InvalidParticipantError("participant is not part of this match")
	}

	event := &domain.MatchEvent{
		ID:            uuid.New(),
		MatchID:       m.ID,
		Timestamp:     e.clock.Now(),
		ActorID:       actorID,
		ParticipantID: participantID,
		Type:          domain.EventComment,
		Value:         text,
	}
	if err := e.events.Append(ctx, event); err != nil {
		return nil, errors.InternalError("failed to record comment", err)
	}
	return event, nil
}

// evaluateAutoFinish transitions an IN_PROGRESS match to FINISHED when an
// auto-finish condition holds and returns the audit event for the caller to
// append once the match is persisted. The state guard makes re-evaluation of
// an already-FINISHED match a no-op, so the transition fires exactly once.
func (e *Engine) evaluateAutoFinish(m *domain.Match) *domain.MatchEvent {
	if m.State != domain.StateInProgress || !m.ShouldAutoFinish() {
		return nil
	}

	m.State = domain.StateFinished
	m.UpdatedAt = e.clock.Now()

	meta := map[string]any{
		"reason":       autoFinishReason(m),
		"final_score1": m.Score1,
		"final_score2": m.Score2,
	}
	if winner := m.Winner(); winner != nil {
		meta["winner_id"] = winner.ID.String()
	}

	return &domain.MatchEvent{
		ID:        uuid.New(),
		MatchID:   m.ID,
		Timestamp: m.UpdatedAt,
		ActorID:   domain.SystemActor,
		Type:      domain.EventAutoFinish,
		Metadata:  meta,
	}
}

// recordAutoFinish appends the AUTO_FINISH event produced by
// evaluateAutoFinish after the finished match has been persisted.
func (e *Engine) recordAutoFinish(ctx context.Context, event *domain.MatchEvent) {
	if event == nil {
		return
	}
	e.appendEvent(ctx, event)
	metrics.MatchAutoFinishesTotal.Inc()
	slog.Info("Match auto-finished",
		"match_id", event.MatchID.String(), "reason", event.Metadata["reason"])
}

func autoFinishReason(m *domain.Match) string {
	switch {
	case m.Score1.Submissions > 0 || m.Score2.Submissions > 0:
		return "submission"
	case m.Score1.Penalties >= 3 || m.Score2.Penalties >= 3:
		return "disqualification"
	default:
		return "time_expired"
	}
}

// appendEvent writes an audit event. Event persistence failures are logged
// but do not fail the mutation; the match snapshot remains authoritative.
func (e *Engine) appendEvent(ctx context.Context, event *domain.MatchEvent) {
	if err := e.events.Append(ctx, event); err != nil {
		slog.Error("Failed to append match event",
			"match_id", event.MatchID.String(),
			"event_type", string(event.Type),
			"error", err,
		)
	}
}

func (e *Engine) countMutation(operation string, err error) error {
	metrics.MatchMutationsTotal.WithLabelValues(operation, "error").Inc()
	return err
}
