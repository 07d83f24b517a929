package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spk364/procomp/internal/domain"
)

// EventRepo is the append-only store for match audit events.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) Append(ctx context.Context, event *domain.MatchEvent) error {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO match_events (id, match_id, timestamp, actor_id, participant_id, event_type, value, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.MatchID, event.Timestamp, event.ActorID,
		event.ParticipantID, string(event.Type), nullable(event.Value), metadata)
	if err != nil {
		return fmt.Errorf("failed to insert match event: %w", err)
	}
	return nil
}

func (r *EventRepo) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]domain.MatchEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, match_id, timestamp, actor_id, participant_id, event_type, value, metadata
		 FROM match_events WHERE match_id = $1 ORDER BY timestamp`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match events: %w", err)
	}
	defer rows.Close()

	var events []domain.MatchEvent
	for rows.Next() {
		var (
			e         domain.MatchEvent
			eventType string
			value     *string
			metadata  []byte
		)
		if err := rows.Scan(&e.ID, &e.MatchID, &e.Timestamp, &e.ActorID,
			&e.ParticipantID, &eventType, &value, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan match event: %w", err)
		}
		e.Type = domain.MatchEventType(eventType)
		if value != nil {
			e.Value = *value
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
