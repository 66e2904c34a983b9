package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gridclash/internal/broadcast"
	"gridclash/internal/game"
	"gridclash/internal/invite"
	"gridclash/internal/models"
	"gridclash/internal/presence"
	"gridclash/internal/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (r *recorder) Send(ev broadcast.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) of(typ string) []broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broadcast.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

type fixture struct {
	router  *Router
	svc     *game.Service
	hub     *broadcast.Hub
	tracker *presence.Tracker
	conns   map[string]*recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svc := game.NewService(storage.NewMemoryStore(), game.WithLogger(logger), game.WithRand(firstRand{}))
	hub := broadcast.NewHub(logger)
	tracker, err := presence.NewTracker(hub, presence.Config{HeartbeatInterval: time.Minute, Timeout: 2 * time.Minute}, logger)
	require.NoError(t, err)
	t.Cleanup(tracker.Stop)
	invites := invite.NewCoordinator(svc, hub, 0, logger)
	t.Cleanup(invites.Stop)

	return &fixture{
		router:  NewRouter(svc, hub, broadcast.NewAnnouncer(hub, nil), tracker, invites, logger),
		svc:     svc,
		hub:     hub,
		tracker: tracker,
		conns:   make(map[string]*recorder),
	}
}

// connect registers a connection and, when identity is set, binds it.
func (f *fixture) connect(t *testing.T, connID, identity string) *recorder {
	t.Helper()
	rec := &recorder{}
	f.conns[connID] = rec
	f.hub.Register(connID, rec)
	if identity != "" {
		f.handle(connID, `{"type":"presence:join","data":{"id":"`+identity+`","name":"`+identity+`"}}`)
		require.Empty(t, rec.of(broadcast.EventError))
	}
	return rec
}

func (f *fixture) handle(connID, msg string) {
	f.router.Handle(context.Background(), connID, []byte(msg))
}

func onlyError(t *testing.T, rec *recorder) ErrorReply {
	t.Helper()
	errs := rec.of(broadcast.EventError)
	require.Len(t, errs, 1)
	return errs[0].Data.(ErrorReply)
}

func TestMalformedMessage(t *testing.T) {
	f := newFixture(t)
	rec := f.connect(t, "c1", "")

	f.handle("c1", `{"type": "ping"`)
	reply := onlyError(t, rec)
	assert.Equal(t, string(game.KindValidation), reply.Kind)

	// the connection stays usable
	f.handle("c1", `{"type":"ping"}`)
	assert.Len(t, rec.of(broadcast.EventPong), 1)
	assert.Len(t, rec.of(broadcast.EventError), 1)
}

func TestUnboundConnection(t *testing.T) {
	f := newFixture(t)
	rec := f.connect(t, "c1", "")

	f.handle("c1", `{"type":"game:move","data":{"gameId":"g1","position":0}}`)
	reply := onlyError(t, rec)
	assert.Equal(t, TypeGameMove, reply.For)
	assert.Equal(t, string(game.KindValidation), reply.Kind)

	f.handle("c1", `{"type":"subscribe","data":{"channel":"lobby"}}`)
	assert.Len(t, rec.of(broadcast.EventSubscribed), 1)
	assert.Equal(t, 1, f.hub.Subscribers(broadcast.LobbyChannel))

	f.handle("c1", `{"type":"unsubscribe","data":{"channel":"lobby"}}`)
	assert.Len(t, rec.of(broadcast.EventUnsubscribed), 1)
	assert.Equal(t, 0, f.hub.Subscribers(broadcast.LobbyChannel))
}

func TestUnknownTypeAndChannel(t *testing.T) {
	f := newFixture(t)
	rec := f.connect(t, "c1", "alice")

	f.handle("c1", `{"type":"game:explode"}`)
	f.handle("c1", `{"type":"subscribe","data":{"channel":"admin"}}`)
	errs := rec.of(broadcast.EventError)
	require.Len(t, errs, 2)
	for _, ev := range errs {
		assert.Equal(t, string(game.KindValidation), ev.Data.(ErrorReply).Kind)
	}
}

func TestPresenceJoin(t *testing.T) {
	f := newFixture(t)
	watcher := f.connect(t, "c0", "")
	rec := f.connect(t, "c1", "alice")

	assert.NotEmpty(t, watcher.of(broadcast.EventPresenceSync))
	assert.True(t, f.tracker.Present("alice"))

	f.handle("c1", `{"type":"presence:join","data":{"id":"mallory"}}`)
	assert.Len(t, rec.of(broadcast.EventError), 1)
	assert.False(t, f.tracker.Present("mallory"))

	f.handle("c1", `{"type":"presence:heartbeat"}`)
	f.handle("c1", `{"type":"presence:set-game","data":{"gameId":"g1"}}`)
	assert.Len(t, rec.of(broadcast.EventError), 1)
	require.NotNil(t, f.tracker.Roster()[0].CurrentGameID)

	f.router.Disconnect("c1")
	assert.False(t, f.tracker.Present("alice"))
	assert.Equal(t, 1, f.hub.Connections())
}

func TestPresenceJoinRejectsBotIdentity(t *testing.T) {
	f := newFixture(t)
	rec := f.connect(t, "c1", "")
	f.handle("c1", `{"type":"presence:join","data":{"id":"ai"}}`)
	assert.Len(t, rec.of(broadcast.EventError), 1)
	_, bound := f.hub.Identity("c1")
	assert.False(t, bound)
}

func TestMoveBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.connect(t, "ca", "alice")
	bob := f.connect(t, "cb", "bob")
	live := f.connect(t, "cl", "")
	f.handle("cl", `{"type":"subscribe","data":{"channel":"live"}}`)

	s, err := f.svc.Create(ctx, game.CreateParams{PlayerX: "alice"})
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, s.ID, "bob")
	require.NoError(t, err)

	sub := `{"type":"subscribe","data":{"channel":"game:` + s.ID + `"}}`
	f.handle("ca", sub)
	f.handle("cb", sub)
	// subscribing sends the current state
	require.Len(t, alice.of(broadcast.EventGameUpdated), 1)
	alice.reset()
	bob.reset()

	f.handle("ca", `{"type":"game:move","data":{"gameId":"`+s.ID+`","position":4}}`)
	for _, rec := range []*recorder{alice, bob} {
		updates := rec.of(broadcast.EventGameUpdated)
		require.Len(t, updates, 1)
		got := updates[0].Data.(broadcast.GameUpdate).Session
		assert.Equal(t, models.X, got.Board[4])
		assert.Equal(t, "bob", *got.CurrentTurn)
	}
	assert.Empty(t, live.of(broadcast.EventLiveUpdated))

	// out of turn: only the sender hears about it
	f.handle("ca", `{"type":"game:move","data":{"gameId":"`+s.ID+`","position":0}}`)
	reply := onlyError(t, alice)
	assert.Equal(t, string(game.KindValidation), reply.Kind)
	assert.Empty(t, bob.of(broadcast.EventError))
	assert.Len(t, bob.of(broadcast.EventGameUpdated), 1)

	f.handle("cb", `{"type":"game:move","data":{"gameId":"`+s.ID+`"}}`)
	assert.Len(t, bob.of(broadcast.EventError), 1)

	f.handle("cb", `{"type":"game:forfeit","data":{"gameId":"`+s.ID+`"}}`)
	updates := alice.of(broadcast.EventGameUpdated)
	require.Len(t, updates, 2)
	final := updates[1].Data.(broadcast.GameUpdate).Session
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, "alice", *final.Winner)
	assert.Len(t, live.of(broadcast.EventLiveUpdated), 1)
}

func TestMoveAgainstBot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.connect(t, "ca", "alice")

	s, err := f.svc.Create(ctx, game.CreateParams{PlayerX: "alice", VsAI: true, Difficulty: models.DifficultyMedium})
	require.NoError(t, err)
	f.handle("ca", `{"type":"subscribe","data":{"channel":"game:`+s.ID+`"}}`)
	alice.reset()

	f.handle("ca", `{"type":"game:move","data":{"gameId":"`+s.ID+`","position":4}}`)
	updates := alice.of(broadcast.EventGameUpdated)
	require.Len(t, updates, 2)
	assert.Nil(t, updates[0].Data.(broadcast.GameUpdate).Session.CurrentTurn)

	after := updates[1].Data.(broadcast.GameUpdate).Session
	assert.Equal(t, "alice", *after.CurrentTurn)
	assert.Equal(t, 2, after.TurnCount)
	assert.Equal(t, models.O, after.Board[0])
}

func TestForfeitWaitingGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.connect(t, "ca", "alice")
	lobby := f.connect(t, "cl", "")
	f.handle("cl", `{"type":"subscribe","data":{"channel":"lobby"}}`)

	s, err := f.svc.Create(ctx, game.CreateParams{PlayerX: "alice"})
	require.NoError(t, err)
	f.handle("ca", `{"type":"subscribe","data":{"channel":"game:`+s.ID+`"}}`)

	f.handle("ca", `{"type":"game:forfeit","data":{"gameId":"`+s.ID+`"}}`)
	assert.Len(t, alice.of(broadcast.EventGameDeleted), 1)
	assert.Len(t, lobby.of(broadcast.EventLobbyUpdated), 1)

	_, err = f.svc.Get(ctx, s.ID)
	assert.ErrorIs(t, err, game.ErrNotFound)

	f.handle("ca", `{"type":"game:forfeit","data":{"gameId":"`+s.ID+`"}}`)
	assert.Equal(t, string(game.KindNotFound), onlyError(t, alice).Kind)
}

func TestTimeoutTooEarly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.connect(t, "ca", "alice")
	s, err := f.svc.Create(ctx, game.CreateParams{PlayerX: "alice", VsAI: true, TurnDurationSeconds: 60})
	require.NoError(t, err)

	f.handle("ca", `{"type":"game:timeout","data":{"gameId":"`+s.ID+`"}}`)
	reply := onlyError(t, alice)
	assert.Contains(t, reply.Message, "not expired")
}

func TestInvitationFlow(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "ca", "alice")
	bob := f.connect(t, "cb", "bob")

	f.handle("ca", `{"type":"invite:send","data":{"targetId":"bob","boardSize":5,"turnDuration":20,"mode":"decay"}}`)
	require.Len(t, alice.of(broadcast.EventInviteSent), 1)
	received := bob.of(broadcast.EventInviteReceived)
	require.Len(t, received, 1)
	inv := received[0].Data.(invite.Invitation)
	assert.Equal(t, 5, inv.BoardSize)

	// a second tab of bob sees the pending invitation on join
	bobTab := f.connect(t, "cb2", "bob")
	assert.Len(t, bobTab.of(broadcast.EventInviteReceived), 1)

	sub := `{"type":"subscribe","data":{"channel":"game:` + inv.GameID + `"}}`
	f.handle("ca", sub)
	f.handle("cb", sub)
	lobby := f.connect(t, "cl", "")
	f.handle("cl", `{"type":"subscribe","data":{"channel":"lobby"}}`)
	alice.reset()
	bob.reset()

	f.handle("cb", `{"type":"invite:accept","data":{"gameId":"`+inv.GameID+`"}}`)
	assert.Len(t, alice.of(broadcast.EventGameUpdated), 1)
	assert.Len(t, bob.of(broadcast.EventGameUpdated), 1)
	assert.Empty(t, lobby.of(broadcast.EventLobbyUpdated))
	responses := alice.of(broadcast.EventInviteResponse)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].Data.(invite.Response).Accepted)

	f.handle("cb", `{"type":"invite:decline","data":{"gameId":"`+inv.GameID+`"}}`)
	assert.Equal(t, string(game.KindNotFound), onlyError(t, bob).Kind)
}

func TestInviteDeclineAndCancel(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "ca", "alice")
	bob := f.connect(t, "cb", "bob")

	f.handle("ca", `{"type":"invite:send","data":{"targetId":"bob"}}`)
	first := bob.of(broadcast.EventInviteReceived)[0].Data.(invite.Invitation)
	f.handle("ca", `{"type":"subscribe","data":{"channel":"game:`+first.GameID+`"}}`)
	f.handle("cb", `{"type":"invite:decline","data":{"gameId":"`+first.GameID+`","fromId":"alice"}}`)
	responses := alice.of(broadcast.EventInviteResponse)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].Data.(invite.Response).Accepted)
	assert.Len(t, alice.of(broadcast.EventGameDeleted), 1)

	f.handle("ca", `{"type":"invite:send","data":{"targetId":"bob"}}`)
	second := bob.of(broadcast.EventInviteReceived)[1].Data.(invite.Invitation)
	f.handle("cb", `{"type":"subscribe","data":{"channel":"game:`+second.GameID+`"}}`)
	f.handle("ca", `{"type":"invite:cancel","data":{"gameId":"`+second.GameID+`","targetId":"bob"}}`)
	assert.Len(t, bob.of(broadcast.EventInviteCancelled), 1)
	assert.Len(t, bob.of(broadcast.EventGameDeleted), 1)
	assert.Empty(t, alice.of(broadcast.EventError))
	assert.Empty(t, bob.of(broadcast.EventError))
}

func TestForfeitInvitedGame(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "ca", "alice")
	bob := f.connect(t, "cb", "bob")

	f.handle("ca", `{"type":"invite:send","data":{"targetId":"bob"}}`)
	inv := bob.of(broadcast.EventInviteReceived)[0].Data.(invite.Invitation)
	f.handle("cb", `{"type":"subscribe","data":{"channel":"game:`+inv.GameID+`"}}`)

	f.handle("ca", `{"type":"game:forfeit","data":{"gameId":"`+inv.GameID+`"}}`)
	assert.Empty(t, alice.of(broadcast.EventError))
	assert.Len(t, bob.of(broadcast.EventInviteCancelled), 1)
	assert.Len(t, bob.of(broadcast.EventGameDeleted), 1)
	assert.Empty(t, f.router.invites.Pending("bob"))

	// a later tab is not offered the withdrawn invitation
	bobTab := f.connect(t, "cb2", "bob")
	assert.Empty(t, bobTab.of(broadcast.EventInviteReceived))
}

func TestReactionRelay(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "ca", "alice")
	bob := f.connect(t, "cb", "bob")
	sub := `{"type":"subscribe","data":{"channel":"game:g1"}}`
	f.handle("ca", sub)
	f.handle("cb", sub)

	f.handle("ca", `{"type":"reaction:send","data":{"gameId":"g1","emoji":"🎉","senderName":"Alice"}}`)
	assert.Empty(t, alice.of(broadcast.EventReactionReceived))
	got := bob.of(broadcast.EventReactionReceived)
	require.Len(t, got, 1)
	assert.Equal(t, broadcast.Reaction{GameID: "g1", Emoji: "🎉", SenderID: "alice", SenderName: "Alice"}, got[0].Data)
}
