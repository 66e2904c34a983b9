package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridclash/internal/models"
)

// TurnClock arms one timer per running session and ends the session when the player
// on turn lets it run out. A timer that fires after the turn changed does nothing.
type TurnClock struct {
	svc      *Service
	onExpire func(*models.GameSession)
	logger   *zap.Logger

	mu     sync.Mutex
	timers map[string]armed
	closed bool
}

type armed struct {
	timer *time.Timer
	turn  int
}

// NewTurnClock creates a clock that reports expired sessions to onExpire.
func NewTurnClock(svc *Service, onExpire func(*models.GameSession), logger *zap.Logger) *TurnClock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnClock{
		svc:      svc,
		onExpire: onExpire,
		logger:   logger,
		timers:   make(map[string]armed),
	}
}

// Track arms the timer for the session's current turn, or disarms it when the
// session has no running turn timer.
func (c *TurnClock) Track(session *models.GameSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.timers[session.ID]; ok {
		prev.timer.Stop()
		delete(c.timers, session.ID)
	}
	if c.closed || session.Status != models.StatusInProgress {
		return
	}
	deadline, ok := session.TurnDeadline()
	if !ok {
		return
	}

	id, turn := session.ID, session.TurnCount
	wait := deadline.Sub(c.svc.now())
	if wait < 0 {
		wait = 0
	}
	c.timers[id] = armed{
		turn:  turn,
		timer: time.AfterFunc(wait, func() { c.fire(id, turn) }),
	}
}

// Forget disarms the timer of a session.
func (c *TurnClock) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.timers[id]; ok {
		prev.timer.Stop()
		delete(c.timers, id)
	}
}

// Armed reports how many timers are pending.
func (c *TurnClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop disarms every timer. Track is a no-op afterwards.
func (c *TurnClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, a := range c.timers {
		a.timer.Stop()
		delete(c.timers, id)
	}
}

func (c *TurnClock) fire(id string, turn int) {
	c.mu.Lock()
	if a, ok := c.timers[id]; ok && a.turn == turn {
		delete(c.timers, id)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := c.svc.ExpireTurn(ctx, id, turn)
	switch {
	case errors.Is(err, ErrStaleTurn), errors.Is(err, ErrNotFound):
		c.logger.Debug("turn timer outdated", zap.String("game_id", id), zap.Int("turn", turn))
		return
	case err != nil:
		c.logger.Warn("turn timeout failed", zap.String("game_id", id), zap.Error(err))
		return
	}
	c.logger.Info("turn timed out", zap.String("game_id", id), zap.Int("turn", turn))
	if c.onExpire != nil {
		c.onExpire(session)
	}
}
