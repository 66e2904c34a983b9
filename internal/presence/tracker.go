// Package presence keeps the roster of online identities. An identity stays on the
// roster while it heartbeats; missing the timeout or closing the last connection it
// joined from removes it. Every roster change is sent in full to every connection.
package presence

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridclash/internal/broadcast"
	"gridclash/internal/models"
)

var (
	ErrNotPresent      = errors.New("identity is not on the roster")
	ErrMissingIdentity = errors.New("missing identity")
	ErrTimeoutTooShort = errors.New("presence timeout must be at least 1.5 heartbeat intervals")
)

// Broadcaster delivers an event to every connection.
type Broadcaster interface {
	BroadcastAll(ev broadcast.Event) broadcast.Delivery
}

// Config holds the liveness settings.
type Config struct {
	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

// Validate checks that one late heartbeat does not drop an identity.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval %s: must be positive", c.HeartbeatInterval)
	}
	if 2*c.Timeout < 3*c.HeartbeatInterval {
		return fmt.Errorf("%w: timeout %s, interval %s", ErrTimeoutTooShort, c.Timeout, c.HeartbeatInterval)
	}
	return nil
}

type entry struct {
	user  models.PresenceUser
	conns map[string]struct{}
	gen   uint64
	timer *time.Timer
}

// Tracker is the presence roster.
type Tracker struct {
	hub     Broadcaster
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	users   map[string]*entry
	gen     uint64
	stopped bool
}

// NewTracker creates a tracker that announces roster changes through hub.
func NewTracker(hub Broadcaster, cfg Config, logger *zap.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		hub:     hub,
		timeout: cfg.Timeout,
		now:     time.Now,
		logger:  logger,
		users:   make(map[string]*entry),
	}, nil
}

// Join adds or refreshes an identity and remembers the connection it joined from.
// An identity may join from several connections, one per open tab.
func (t *Tracker) Join(connID string, u models.PresenceUser) error {
	if u.ID == "" {
		return ErrMissingIdentity
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.users[u.ID]
	if !ok {
		e = &entry{conns: make(map[string]struct{})}
		t.users[u.ID] = e
		u.OnlineAt = t.now()
	} else {
		u.OnlineAt = e.user.OnlineAt
		if u.CurrentGameID == nil {
			u.CurrentGameID = e.user.CurrentGameID
		}
	}
	e.user = u
	e.conns[connID] = struct{}{}
	t.arm(u.ID, e)

	t.logger.Debug("presence joined", zap.String("player", u.ID), zap.String("conn_id", connID))
	t.sync()
	return nil
}

// Heartbeat keeps an identity on the roster. It does not announce anything.
func (t *Tracker) Heartbeat(identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[identity]
	if !ok {
		return ErrNotPresent
	}
	t.arm(identity, e)
	return nil
}

// SetGame records the session an identity is currently playing or watching.
// A nil gameID clears it.
func (t *Tracker) SetGame(identity string, gameID *string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[identity]
	if !ok {
		return ErrNotPresent
	}
	if gameID != nil {
		id := *gameID
		e.user.CurrentGameID = &id
	} else {
		e.user.CurrentGameID = nil
	}
	t.sync()
	return nil
}

// Disconnect forgets connID and removes every identity left without a connection.
func (t *Tracker) Disconnect(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := false
	for id, e := range t.users {
		if _, ok := e.conns[connID]; !ok {
			continue
		}
		delete(e.conns, connID)
		if len(e.conns) > 0 {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.users, id)
		removed = true
		t.logger.Debug("presence left", zap.String("player", id), zap.String("conn_id", connID))
	}
	if removed {
		t.sync()
	}
}

// Present reports whether identity is on the roster.
func (t *Tracker) Present(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.users[identity]
	return ok
}

// Roster returns the online identities, longest online first.
func (t *Tracker) Roster() []models.PresenceUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roster()
}

// Stop disarms every liveness timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, e := range t.users {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

// arm must be called with t.mu held. Each arming bumps the generation so a timer
// that already fired for an older arming finds a mismatch and does nothing.
func (t *Tracker) arm(identity string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if t.stopped {
		return
	}
	t.gen++
	gen := t.gen
	e.gen = gen
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(identity, gen) })
}

func (t *Tracker) expire(identity string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[identity]
	if !ok || e.gen != gen {
		return
	}
	delete(t.users, identity)
	t.logger.Info("presence timed out", zap.String("player", identity))
	t.sync()
}

// sync must be called with t.mu held. Sends never block, so the roster is announced
// under the lock and announcements keep the order of the changes.
func (t *Tracker) sync() {
	t.hub.BroadcastAll(broadcast.Event{Type: broadcast.EventPresenceSync, Data: t.roster()})
}

func (t *Tracker) roster() []models.PresenceUser {
	out := make([]models.PresenceUser, 0, len(t.users))
	for _, e := range t.users {
		u := e.user
		if u.CurrentGameID != nil {
			id := *u.CurrentGameID
			u.CurrentGameID = &id
		}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b models.PresenceUser) int {
		if c := a.OnlineAt.Compare(b.OnlineAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
