package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
)

type MatchRepo struct {
	pool *pgxpool.Pool
}

func NewMatchRepo(pool *pgxpool.Pool) *MatchRepo {
	return &MatchRepo{pool: pool}
}

const matchColumns = `id, participant1, participant2, category, division, duration,
	time_remaining, state, score1, score2, referee_id, created_at, updated_at`

func (r *MatchRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
	return scanMatch(row)
}

func (r *MatchRepo) Create(ctx context.Context, m *domain.Match) error {
	p1, p2, s1, s2, err := marshalMatchJSON(m)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO matches (`+matchColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, p1, p2, m.Category, m.Division, m.Duration,
		m.TimeRemaining, string(m.State), s1, s2, m.RefereeID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

func (r *MatchRepo) Update(ctx context.Context, m *domain.Match) error {
	p1, p2, s1, s2, err := marshalMatchJSON(m)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE matches
		 SET participant1 = $2, participant2 = $3, category = $4, division = $5,
		     duration = $6, time_remaining = $7, state = $8, score1 = $9,
		     score2 = $10, referee_id = $11, updated_at = $12
		 WHERE id = $1`,
		m.ID, p1, p2, m.Category, m.Division,
		m.Duration, m.TimeRemaining, string(m.State), s1,
		s2, m.RefereeID, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError("match not found")
	}
	return nil
}

func marshalMatchJSON(m *domain.Match) (p1, p2, s1, s2 []byte, err error) {
	if p1, err = json.Marshal(m.Participant1); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal participant1: %w", err)
	}
	if p2, err = json.Marshal(m.Participant2); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal participant2: %w", err)
	}
	if s1, err = json.Marshal(m.Score1); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal score1: %w", err)
	}
	if s2, err = json.Marshal(m.Score2); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal score2: %w", err)
	}
	return p1, p2, s1, s2, nil
}

func scanMatch(row pgx.Row) (*domain.Match, error) {
	var (
		m              domain.Match
		state          string
		p1, p2, s1, s2 []byte
	)

	err := row.Scan(&m.ID, &p1, &p2, &m.Category, &m.Division, &m.Duration,
		&m.TimeRemaining, &state, &s1, &s2, &m.RefereeID, &m.CreatedAt, &m.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundError("match not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan match: %w", err)
	}

	m.State = domain.MatchState(state)
	if err := json.Unmarshal(p1, &m.Participant1); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant1: %w", err)
	}
	if err := json.Unmarshal(p2, &m.Participant2); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant2: %w", err)
	}
	if err := json.Unmarshal(s1, &m.Score1); err != nil {
		return nil, fmt.Errorf("failed to unmarshal score1: %w", err)
	}
	if err := json.Unmarshal(s2, &m.Score2); err != nil {
		return nil, fmt.Errorf("failed to unmarshal score2: %w", err)
	}
	return &m, nil
}
