// Package invite runs direct challenges between two identities. An invitation is a
// waiting session reserved for the invitee plus transient bookkeeping here; accept,
// decline, cancel and expiry each resolve it for good.
package invite

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridclash/internal/broadcast"
	"gridclash/internal/game"
	"gridclash/internal/models"
)

// Games is the part of the move processor invitations drive.
type Games interface {
	Create(ctx context.Context, p game.CreateParams) (*models.GameSession, error)
	Join(ctx context.Context, id, player string) (*models.GameSession, error)
	Decline(ctx context.Context, id, player string) (*models.GameSession, error)
	Cancel(ctx context.Context, id, player string) (*models.GameSession, error)
}

// Notifier delivers invitation events.
type Notifier interface {
	SendToIdentity(identity string, ev broadcast.Event) broadcast.Delivery
	Publish(channel string, ev broadcast.Event, exclude string) broadcast.Delivery
}

// Invitation is one pending challenge.
type Invitation struct {
	GameID              string      `json:"gameId"`
	From                string      `json:"from"`
	FromName            string      `json:"fromName,omitempty"`
	To                  string      `json:"to"`
	Mode                models.Mode `json:"mode"`
	BoardSize           int         `json:"boardSize"`
	TurnDurationSeconds int         `json:"turnDurationSeconds"`
	CreatedAt           time.Time   `json:"createdAt"`
}

// SendParams describes a challenge.
type SendParams struct {
	From                string
	FromName            string
	To                  string
	Mode                models.Mode
	BoardSize           int
	TurnDurationSeconds int
}

// Response is the payload of invite:response.
type Response struct {
	GameID   string `json:"gameId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type pending struct {
	inv   Invitation
	timer *time.Timer
}

// Coordinator tracks pending invitations.
type Coordinator struct {
	games  Games
	hub    Notifier
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*pending
	stopped bool
}

// NewCoordinator creates a coordinator. Invitations left unanswered for ttl are
// withdrawn; a zero ttl keeps them until resolved.
func NewCoordinator(games Games, hub Notifier, ttl time.Duration, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		games:   games,
		hub:     hub,
		ttl:     ttl,
		logger:  logger,
		pending: make(map[string]*pending),
	}
}

// Send creates the reserved session, notifies the invitee and acknowledges the inviter.
func (c *Coordinator) Send(ctx context.Context, p SendParams) (*Invitation, error) {
	session, err := c.games.Create(ctx, game.CreateParams{
		PlayerX:             p.From,
		Mode:                p.Mode,
		BoardSize:           p.BoardSize,
		TurnDurationSeconds: p.TurnDurationSeconds,
		InvitedPlayerID:     p.To,
	})
	if err != nil {
		return nil, err
	}

	inv := Invitation{
		GameID:              session.ID,
		From:                p.From,
		FromName:            p.FromName,
		To:                  p.To,
		Mode:                session.Mode,
		BoardSize:           session.BoardSize,
		TurnDurationSeconds: session.TurnDurationSeconds,
		CreatedAt:           session.CreatedAt,
	}
	entry := &pending{inv: inv}

	c.mu.Lock()
	c.pending[inv.GameID] = entry
	if c.ttl > 0 && !c.stopped {
		entry.timer = time.AfterFunc(c.ttl, func() { c.expire(entry) })
	}
	c.mu.Unlock()

	c.hub.SendToIdentity(p.To, broadcast.Event{Type: broadcast.EventInviteReceived, Data: inv})
	c.hub.SendToIdentity(p.From, broadcast.Event{
		Type: broadcast.EventInviteSent,
		Data: map[string]string{"gameId": inv.GameID, "to": p.To},
	})
	c.logger.Info("invitation sent",
		zap.String("game_id", inv.GameID),
		zap.String("player", p.From),
		zap.String("invitee", p.To),
	)
	return &inv, nil
}

// Accept seats the invitee, tells the inviter, and announces the started session on
// its channel.
func (c *Coordinator) Accept(ctx context.Context, gameID, player string) (*models.GameSession, error) {
	entry, err := c.lookup(gameID)
	if err != nil {
		return nil, err
	}
	session, err := c.games.Join(ctx, gameID, player)
	if err != nil {
		return nil, c.fail(entry, err)
	}
	c.resolve(entry)

	c.hub.SendToIdentity(entry.inv.From, broadcast.Event{
		Type: broadcast.EventInviteResponse,
		Data: Response{GameID: gameID, Accepted: true},
	})
	c.hub.Publish(broadcast.GameChannel(gameID), broadcast.GameUpdated(session), "")
	c.logger.Info("invitation accepted", zap.String("game_id", gameID), zap.String("player", player))
	return session, nil
}

// Decline deletes the session and tells the inviter.
func (c *Coordinator) Decline(ctx context.Context, gameID, player string) error {
	entry, err := c.lookup(gameID)
	if err != nil {
		return err
	}
	if _, err := c.games.Decline(ctx, gameID, player); err != nil {
		return c.fail(entry, err)
	}
	c.resolve(entry)

	c.withdrawn(gameID)
	c.hub.SendToIdentity(entry.inv.From, broadcast.Event{
		Type: broadcast.EventInviteResponse,
		Data: Response{GameID: gameID, Accepted: false},
	})
	c.logger.Info("invitation declined", zap.String("game_id", gameID), zap.String("player", player))
	return nil
}

// Cancel withdraws an invitation on behalf of the inviter and tells the invitee.
func (c *Coordinator) Cancel(ctx context.Context, gameID, player string) error {
	entry, err := c.lookup(gameID)
	if err != nil {
		return err
	}
	if _, err := c.games.Cancel(ctx, gameID, player); err != nil {
		return c.fail(entry, err)
	}
	c.resolve(entry)

	c.withdrawn(gameID)
	c.hub.SendToIdentity(entry.inv.To, broadcast.Event{
		Type: broadcast.EventInviteCancelled,
		Data: map[string]string{"gameId": gameID},
	})
	c.logger.Info("invitation cancelled", zap.String("game_id", gameID), zap.String("player", player))
	return nil
}

// Settled resolves the invitation behind s when the session left the waiting state
// without going through the coordinator: deleted by its creator or joined directly.
// It reports whether an invitation was pending.
func (c *Coordinator) Settled(s *models.GameSession, deleted bool) bool {
	entry, err := c.lookup(s.ID)
	if err != nil {
		return false
	}
	c.resolve(entry)

	if deleted {
		c.hub.SendToIdentity(entry.inv.To, broadcast.Event{
			Type: broadcast.EventInviteCancelled,
			Data: map[string]string{"gameId": s.ID},
		})
		c.logger.Info("invitation withdrawn with its game", zap.String("game_id", s.ID))
		return true
	}
	c.hub.SendToIdentity(entry.inv.From, broadcast.Event{
		Type: broadcast.EventInviteResponse,
		Data: Response{GameID: s.ID, Accepted: true},
	})
	c.logger.Info("invitation accepted by join", zap.String("game_id", s.ID))
	return true
}

// Pending returns the invitations addressed to identity, oldest first.
func (c *Coordinator) Pending(identity string) []Invitation {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Invitation
	for _, p := range c.pending {
		if p.inv.To == identity {
			out = append(out, p.inv)
		}
	}
	slices.SortFunc(out, func(a, b Invitation) int {
		if d := a.CreatedAt.Compare(b.CreatedAt); d != 0 {
			return d
		}
		return strings.Compare(a.GameID, b.GameID)
	})
	return out
}

// Stop disarms every expiry timer. Pending invitations stay resolvable.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for _, p := range c.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
}

func (c *Coordinator) lookup(gameID string) (*pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[gameID]
	if !ok {
		return nil, fmt.Errorf("invitation %s: %w", gameID, game.ErrNotFound)
	}
	return p, nil
}

// resolve forgets entry unless a newer invitation took its place.
func (c *Coordinator) resolve(entry *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if c.pending[entry.inv.GameID] == entry {
		delete(c.pending, entry.inv.GameID)
	}
}

// withdrawn tells the session's channel that the reserved session is gone.
func (c *Coordinator) withdrawn(gameID string) {
	c.hub.Publish(broadcast.GameChannel(gameID), broadcast.GameDeleted(gameID), "")
}

// fail drops entry when its session is gone for good, then returns err.
func (c *Coordinator) fail(entry *pending, err error) error {
	if errors.Is(err, game.ErrNotFound) || errors.Is(err, game.ErrNotWaiting) {
		c.resolve(entry)
	}
	return err
}

// expire withdraws an invitation nobody answered. The session is deleted through the
// same conditional path as a cancel, so an accept that won the race is left alone.
func (c *Coordinator) expire(entry *pending) {
	c.mu.Lock()
	current, ok := c.pending[entry.inv.GameID]
	c.mu.Unlock()
	if !ok || current != entry {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.games.Cancel(ctx, entry.inv.GameID, entry.inv.From); err != nil {
		c.logger.Debug("invitation expiry skipped", zap.String("game_id", entry.inv.GameID), zap.Error(err))
		c.fail(entry, err)
		return
	}
	c.resolve(entry)
	c.withdrawn(entry.inv.GameID)

	c.hub.SendToIdentity(entry.inv.To, broadcast.Event{
		Type: broadcast.EventInviteCancelled,
		Data: map[string]string{"gameId": entry.inv.GameID},
	})
	c.hub.SendToIdentity(entry.inv.From, broadcast.Event{
		Type: broadcast.EventInviteResponse,
		Data: Response{GameID: entry.inv.GameID, Accepted: false, Reason: "expired"},
	})
	c.logger.Info("invitation expired", zap.String("game_id", entry.inv.GameID))
}
