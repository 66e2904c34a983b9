// Package storage persists game sessions, the move log and player statistics.
package storage

import (
	"context"
	"errors"
	"time"

	"gridclash/internal/models"
)

var (
	// ErrNotFound is returned when a session doesn't exist.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a conditional write matched no row because
	// another writer changed the session first.
	ErrConflict = errors.New("session was modified concurrently")
)

// Store defines the persistence collaborator of the move processor.
// All implementations must be safe for concurrent access.
type Store interface {
	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, s *models.GameSession) error

	// GetSession returns a copy of the session or ErrNotFound.
	GetSession(ctx context.Context, id string) (*models.GameSession, error)

	// ListSessions returns sessions matching the filter, newest first.
	ListSessions(ctx context.Context, f ListFilter) ([]*models.GameSession, error)

	// JoinSession seats playerO in a waiting session and starts it.
	// Only one caller can win: the others get ErrConflict.
	JoinSession(ctx context.Context, id, playerO string, at time.Time) (*models.GameSession, error)

	// DeleteWaiting removes a session that is still waiting.
	// Returns ErrConflict when the session already started.
	DeleteWaiting(ctx context.Context, id string) error

	// Commit applies a transition atomically: the session update is conditional on the
	// previous status and turn count, and the move record and stat deltas are written
	// in the same unit. Returns ErrConflict when the condition fails.
	Commit(ctx context.Context, t Transition) error

	// ListMoves returns the move log of a session in turn order.
	ListMoves(ctx context.Context, gameID string) ([]models.MoveRecord, error)

	// Stats returns the statistics of one player. Unknown players get empty buckets.
	Stats(ctx context.Context, playerID string) (models.PlayerStats, error)
}

// ListFilter narrows ListSessions.
type ListFilter struct {
	Status     models.Status // empty matches every status
	Player     string        // seated as X or O
	PublicOnly bool          // excludes sessions created by a direct invitation
	Limit      int           // 0 means no limit
}

// Transition is one state change of a session.
type Transition struct {
	Session       *models.GameSession
	PrevStatus    models.Status
	PrevTurnCount int
	Move          *models.MoveRecord
	Stats         []models.StatDelta
}

func emptyStats(playerID string) models.PlayerStats {
	st := models.PlayerStats{PlayerID: playerID, Buckets: make(map[models.Bucket]models.Record, len(models.Buckets))}
	for _, b := range models.Buckets {
		st.Buckets[b] = models.Record{}
	}
	return st
}

func matches(s *models.GameSession, f ListFilter) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.PublicOnly && s.InvitedPlayerID != nil {
		return false
	}
	if f.Player != "" {
		seatedX := s.PlayerX != nil && *s.PlayerX == f.Player
		seatedO := s.PlayerO != nil && *s.PlayerO == f.Player
		if !seatedX && !seatedO {
			return false
		}
	}
	return true
}
