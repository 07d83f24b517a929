package database

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/errors"
)

// MemoryMatchRepo is an in-memory MatchRepository for tests and development.
type MemoryMatchRepo struct {
	mu      sync.RWMutex
	matches map[uuid.UUID]domain.Match
}

func NewMemoryMatchRepo() *MemoryMatchRepo {
	return &MemoryMatchRepo{matches: make(map[uuid.UUID]domain.Match)}
}

func (r *MemoryMatchRepo) Get(_ context.Context, id uuid.UUID) (*domain.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, errors.NotFoundError("match not found")
	}
	snapshot := m
	return &snapshot, nil
}

func (r *MemoryMatchRepo) Create(_ context.Context, m *domain.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches[m.ID] = *m
	return nil
}

func (r *MemoryMatchRepo) Update(_ context.Context, m *domain.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[m.ID]; !ok {
		return errors.NotFoundError("match not found")
	}
	r.matches[m.ID] = *m
	return nil
}

// MemoryEventRepo is an in-memory append-only EventRepository.
type MemoryEventRepo struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]domain.MatchEvent
}

func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{events: make(map[uuid.UUID][]domain.MatchEvent)}
}

func (r *MemoryEventRepo) Append(_ context.Context, event *domain.MatchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.MatchID] = append(r.events[event.MatchID], *event)
	return nil
}

func (r *MemoryEventRepo) ListByMatch(_ context.Context, matchID uuid.UUID) ([]domain.MatchEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := r.events[matchID]
	out := make([]domain.MatchEvent, len(events))
	copy(out, events)
	return out, nil
}
