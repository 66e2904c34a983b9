package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gridclash/internal/bot"
	"gridclash/internal/broadcast"
	"gridclash/internal/game"
	"gridclash/internal/invite"
	"gridclash/internal/models"
	"gridclash/internal/presence"
)

var (
	errMalformed   = errors.New("malformed message")
	errUnbound     = errors.New("send presence:join before this action")
	errUnknownType = errors.New("unknown message type")
	errBadChannel  = errors.New("unknown channel")
)

// clientErrors are reported to the sender as validation failures.
var clientErrors = []error{
	errMalformed,
	errUnbound,
	errUnknownType,
	errBadChannel,
	broadcast.ErrAlreadyBound,
	presence.ErrNotPresent,
	presence.ErrMissingIdentity,
}

// unbound lists the actions a connection may take before it has an identity.
var unbound = map[string]bool{
	TypeSubscribe:    true,
	TypeUnsubscribe:  true,
	TypePing:         true,
	TypePresenceJoin: true,
}

type request struct {
	connID   string
	identity string
	data     json.RawMessage
}

type handlerFunc func(ctx context.Context, req request) error

// Router dispatches inbound messages to the game, presence and invitation components
// and replies through the hub. Failures go back to the originating connection only.
type Router struct {
	games    *game.Service
	hub      *broadcast.Hub
	announce *broadcast.Announcer
	presence *presence.Tracker
	invites  *invite.Coordinator
	validate *validator.Validate
	logger   *zap.Logger
	handlers map[string]handlerFunc
}

// NewRouter creates a router.
func NewRouter(
	games *game.Service,
	hub *broadcast.Hub,
	announce *broadcast.Announcer,
	tracker *presence.Tracker,
	invites *invite.Coordinator,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		games:    games,
		hub:      hub,
		announce: announce,
		presence: tracker,
		invites:  invites,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	r.handlers = map[string]handlerFunc{
		TypeSubscribe:         r.subscribe,
		TypeUnsubscribe:       r.unsubscribe,
		TypePing:              r.ping,
		TypePresenceJoin:      r.presenceJoin,
		TypePresenceHeartbeat: r.presenceHeartbeat,
		TypePresenceSetGame:   r.presenceSetGame,
		TypeGameMove:          r.move,
		TypeGameForfeit:       r.forfeit,
		TypeGameTimeout:       r.timeout,
		TypeInviteSend:        r.inviteSend,
		TypeInviteAccept:      r.inviteAccept,
		TypeInviteDecline:     r.inviteDecline,
		TypeInviteCancel:      r.inviteCancel,
		TypeReactionSend:      r.reaction,
	}
	return r
}

// Handle processes one raw inbound message from a connection.
func (r *Router) Handle(ctx context.Context, connID string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.fail(connID, "", fmt.Errorf("%w: %v", errMalformed, err))
		return
	}
	if env.Type == "" {
		r.fail(connID, "", fmt.Errorf("%w: missing type", errMalformed))
		return
	}

	identity, bound := r.hub.Identity(connID)
	if !bound && !unbound[env.Type] {
		r.fail(connID, env.Type, errUnbound)
		return
	}
	h, ok := r.handlers[env.Type]
	if !ok {
		r.fail(connID, env.Type, fmt.Errorf("%w: %q", errUnknownType, env.Type))
		return
	}
	if err := h(ctx, request{connID: connID, identity: identity, data: env.Data}); err != nil {
		r.fail(connID, env.Type, err)
	}
}

// Disconnect forgets a closed connection.
func (r *Router) Disconnect(connID string) {
	identity, _ := r.hub.Unregister(connID)
	r.presence.Disconnect(connID)
	r.logger.Debug("connection closed", zap.String("conn_id", connID), zap.String("player", identity))
}

func (r *Router) decode(req request, v any) error {
	data := req.data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return r.validate.Struct(v)
}

func (r *Router) reply(connID, typ string, data any) {
	r.hub.SendTo(connID, broadcast.Event{Type: typ, Data: data})
}

func (r *Router) fail(connID, typ string, err error) {
	kind := kindOf(err)
	msg := err.Error()
	if kind == game.KindInternal {
		r.logger.Error("message failed", zap.String("conn_id", connID), zap.String("type", typ), zap.Error(err))
		msg = "internal error"
	}
	r.reply(connID, broadcast.EventError, ErrorReply{Message: msg, Kind: string(kind), For: typ})
}

func kindOf(err error) game.Kind {
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		return game.KindValidation
	}
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return game.KindValidation
		}
	}
	return game.KindOf(err)
}

func (r *Router) subscribe(ctx context.Context, req request) error {
	var p channelPayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	if !broadcast.ValidChannel(p.Channel) {
		return fmt.Errorf("%w: %q", errBadChannel, p.Channel)
	}
	if err := r.hub.Subscribe(req.connID, p.Channel); err != nil {
		return err
	}
	r.reply(req.connID, broadcast.EventSubscribed, channelPayload{Channel: p.Channel})

	// a new game subscriber starts from the current state
	if id, ok := broadcast.GameIDOf(p.Channel); ok {
		if s, err := r.games.Get(ctx, id); err == nil {
			r.hub.SendTo(req.connID, broadcast.GameUpdated(s))
		}
	}
	return nil
}

func (r *Router) unsubscribe(_ context.Context, req request) error {
	var p channelPayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	if err := r.hub.Unsubscribe(req.connID, p.Channel); err != nil {
		return err
	}
	r.reply(req.connID, broadcast.EventUnsubscribed, channelPayload{Channel: p.Channel})
	return nil
}

func (r *Router) ping(_ context.Context, req request) error {
	r.reply(req.connID, broadcast.EventPong, nil)
	return nil
}

func (r *Router) presenceJoin(_ context.Context, req request) error {
	var p presenceJoinPayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	if p.ID == models.AIPlayer {
		return fmt.Errorf("%w: reserved identity", game.ErrInvalidConfig)
	}
	if err := r.hub.Bind(req.connID, p.ID); err != nil {
		return err
	}
	if err := r.presence.Join(req.connID, models.PresenceUser{ID: p.ID, Name: p.Name, Avatar: p.Avatar}); err != nil {
		return err
	}
	for _, inv := range r.invites.Pending(p.ID) {
		r.reply(req.connID, broadcast.EventInviteReceived, inv)
	}
	return nil
}

func (r *Router) presenceHeartbeat(_ context.Context, req request) error {
	return r.presence.Heartbeat(req.identity)
}

func (r *Router) presenceSetGame(_ context.Context, req request) error {
	var p setGamePayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	return r.presence.SetGame(req.identity, p.GameID)
}

func (r *Router) move(ctx context.Context, req request) error {
	var p movePayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	res, err := r.games.Move(ctx, p.GameID, req.identity, *p.Position)
	if err != nil {
		return err
	}
	r.announce.Updated(res.Previous.Status, res.Session)
	r.botReply(ctx, res.Session)
	return nil
}

// botReply plays the bot's half-move when a human move handed it the turn.
func (r *Router) botReply(ctx context.Context, s *models.GameSession) {
	if !s.VsAI || s.Status != models.StatusInProgress || s.CurrentTurn != nil {
		return
	}
	target, err := bot.Choose(s, r.games)
	if err != nil {
		r.logger.Warn("bot has no move", zap.String("game_id", s.ID), zap.Error(err))
		return
	}
	res, err := r.games.BotMove(ctx, s.ID, target)
	if err != nil {
		r.logger.Warn("bot move failed", zap.String("game_id", s.ID), zap.Error(err))
		return
	}
	r.announce.Updated(res.Previous.Status, res.Session)
}

func (r *Router) forfeit(ctx context.Context, req request) error {
	var p gamePayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	s, deleted, err := r.games.Forfeit(ctx, p.GameID, req.identity)
	if err != nil {
		return err
	}
	if deleted {
		r.invites.Settled(s, true)
		r.announce.Deleted(s)
		return nil
	}
	r.announce.Updated(models.StatusInProgress, s)
	return nil
}

func (r *Router) timeout(ctx context.Context, req request) error {
	var p gamePayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	s, err := r.games.Timeout(ctx, p.GameID, req.identity)
	if err != nil {
		return err
	}
	r.announce.Updated(models.StatusInProgress, s)
	return nil
}

func (r *Router) inviteSend(ctx context.Context, req request) error {
	var p inviteSendPayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	_, err := r.invites.Send(ctx, invite.SendParams{
		From:                req.identity,
		FromName:            p.Name,
		To:                  p.TargetID,
		Mode:                p.Mode,
		BoardSize:           p.BoardSize,
		TurnDurationSeconds: p.TurnDuration,
	})
	return err
}

func (r *Router) inviteAccept(ctx context.Context, req request) error {
	var p gamePayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	s, err := r.invites.Accept(ctx, p.GameID, req.identity)
	if err != nil {
		return err
	}
	r.announce.Started(s, true)
	return nil
}

func (r *Router) inviteDecline(ctx context.Context, req request) error {
	var p gamePayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	return r.invites.Decline(ctx, p.GameID, req.identity)
}

func (r *Router) inviteCancel(ctx context.Context, req request) error {
	var p gamePayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	return r.invites.Cancel(ctx, p.GameID, req.identity)
}

// reaction is relayed to everyone else watching the game without further checks.
func (r *Router) reaction(_ context.Context, req request) error {
	var p reactionPayload
	if err := r.decode(req, &p); err != nil {
		return err
	}
	r.hub.Publish(broadcast.GameChannel(p.GameID), broadcast.Event{
		Type: broadcast.EventReactionReceived,
		Data: broadcast.Reaction{GameID: p.GameID, Emoji: p.Emoji, SenderID: req.identity, SenderName: p.SenderName},
	}, req.connID)
	return nil
}
