package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMatch() *domain.Match {
	return &domain.Match{
		ID:            uuid.New(),
		Participant1:  domain.Participant{ID: uuid.New(), Name: "Alice Alves"},
		Participant2:  domain.Participant{ID: uuid.New(), Name: "Bea Braga"},
		Category:      "adult",
		Division:      "-70kg",
		Duration:      300,
		TimeRemaining: 300,
		State:         domain.StateScheduled,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func TestMemoryMatchRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMatchRepo()
	m := sampleMatch()

	t.Run("get unknown", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())
		require.Error(t, err)
		assert.Equal(t, errors.TypeNotFound, errors.AsStructuredError(err).Type)
	})

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, m))
		got, err := repo.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, *m, *got)
	})

	t.Run("get returns a snapshot", func(t *testing.T) {
		got, err := repo.Get(ctx, m.ID)
		require.NoError(t, err)
		got.Score1.Points = 99

		again, err := repo.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Score1.Points)
	})

	t.Run("update", func(t *testing.T) {
		m.State = domain.StateInProgress
		require.NoError(t, repo.Update(ctx, m))
		got, err := repo.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateInProgress, got.State)
	})

	t.Run("update unknown", func(t *testing.T) {
		unknown := sampleMatch()
		err := repo.Update(ctx, unknown)
		require.Error(t, err)
		assert.Equal(t, errors.TypeNotFound, errors.AsStructuredError(err).Type)
	})
}

func TestMemoryEventRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepo()
	matchID := uuid.New()

	events, err := repo.ListByMatch(ctx, matchID)
	require.NoError(t, err)
	assert.Empty(t, events)

	for i, eventType := range []domain.MatchEventType{domain.EventCreated, domain.EventStateChange, domain.EventPoints2} {
		require.NoError(t, repo.Append(ctx, &domain.MatchEvent{
			ID:        uuid.New(),
			MatchID:   matchID,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
			ActorID:   "ref-1",
			Type:      eventType,
		}))
	}

	events, err = repo.ListByMatch(ctx, matchID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Append order is preserved.
	assert.Equal(t, domain.EventCreated, events[0].Type)
	assert.Equal(t, domain.EventStateChange, events[1].Type)
	assert.Equal(t, domain.EventPoints2, events[2].Type)

	// Events for other matches stay separate.
	other, err := repo.ListByMatch(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}
