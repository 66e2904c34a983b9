package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"gridclash/internal/models"
)

// MemoryStore implements Store in process memory.
// Sessions are copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.GameSession
	moves    map[string][]models.MoveRecord
	stats    map[string]map[models.Bucket]models.Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.GameSession),
		moves:    make(map[string][]models.MoveRecord),
		stats:    make(map[string]map[models.Bucket]models.Record),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.GameSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f ListFilter) ([]*models.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.GameSession, 0)
	for _, s := range m.sessions {
		if matches(s, f) {
			out = append(out, s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.GameSession) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) JoinSession(_ context.Context, id, playerO string, at time.Time) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.StatusWaiting || s.PlayerO != nil {
		return nil, ErrConflict
	}
	s.PlayerO = models.StringPtr(playerO)
	s.Status = models.StatusInProgress
	s.InvitedPlayerID = nil
	started := at
	s.TurnStartedAt = &started
	s.UpdatedAt = at
	return s.Clone(), nil
}

func (m *MemoryStore) DeleteWaiting(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != models.StatusWaiting {
		return ErrConflict
	}
	delete(m.sessions, id)
	delete(m.moves, id)
	return nil
}

func (m *MemoryStore) Commit(_ context.Context, t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[t.Session.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != t.PrevStatus || current.TurnCount != t.PrevTurnCount {
		return ErrConflict
	}
	m.sessions[t.Session.ID] = t.Session.Clone()
	if t.Move != nil {
		m.moves[t.Session.ID] = append(m.moves[t.Session.ID], *t.Move)
	}
	for _, d := range t.Stats {
		buckets, ok := m.stats[d.PlayerID]
		if !ok {
			buckets = make(map[models.Bucket]models.Record)
			m.stats[d.PlayerID] = buckets
		}
		rec := buckets[d.Bucket]
		rec.Add(d.Record())
		buckets[d.Bucket] = rec
	}
	return nil
}

func (m *MemoryStore) ListMoves(_ context.Context, gameID string) ([]models.MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.moves[gameID]), nil
}

func (m *MemoryStore) Stats(_ context.Context, playerID string) (models.PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := emptyStats(playerID)
	for b, rec := range m.stats[playerID] {
		st.Buckets[b] = rec
	}
	return st, nil
}
