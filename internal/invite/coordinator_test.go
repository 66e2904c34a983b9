package invite

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
	"gridclash/internal/models"
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

type fixture struct {
	coord *Coordinator
	svc   *game.Service
	hub   *broadcast.Hub
	conns map[string]*recorder
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svc := game.NewService(storage.NewMemoryStore(), game.WithLogger(logger))
	hub := broadcast.NewHub(logger)
	f := &fixture{
		svc:   svc,
		hub:   hub,
		coord: NewCoordinator(svc, hub, ttl, logger),
		conns: make(map[string]*recorder),
	}
	t.Cleanup(f.coord.Stop)
	for _, who := range []string{"alice", "bob", "carol"} {
		f.conns[who] = &recorder{}
		hub.Register("conn-"+who, f.conns[who])
		require.NoError(t, hub.Bind("conn-"+who, who))
	}
	return f
}

func (f *fixture) send(t *testing.T) *Invitation {
	t.Helper()
	inv, err := f.coord.Send(context.Background(), SendParams{
		From:                "alice",
		FromName:            "Alice",
		To:                  "bob",
		Mode:                models.ModeMisere,
		BoardSize:           4,
		TurnDurationSeconds: 30,
	})
	require.NoError(t, err)
	return inv
}

func TestSend(t *testing.T) {
	f := newFixture(t, 0)
	inv := f.send(t)

	session, err := f.svc.Get(context.Background(), inv.GameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, session.Status)
	require.NotNil(t, session.InvitedPlayerID)
	assert.Equal(t, "bob", *session.InvitedPlayerID)
	assert.Equal(t, 4, session.BoardSize)

	received := f.conns["bob"].of(broadcast.EventInviteReceived)
	require.Len(t, received, 1)
	got := received[0].Data.(Invitation)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, models.ModeMisere, got.Mode)
	assert.Equal(t, 30, got.TurnDurationSeconds)

	assert.Len(t, f.conns["alice"].of(broadcast.EventInviteSent), 1)
	assert.Empty(t, f.conns["carol"].of(broadcast.EventInviteReceived))
	assert.Equal(t, []Invitation{*inv}, f.coord.Pending("bob"))
}

func TestSendInvalid(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.coord.Send(context.Background(), SendParams{From: "alice", To: "alice"})
	assert.ErrorIs(t, err, game.ErrInvalidConfig)
	assert.Empty(t, f.coord.Pending("alice"))
}

func TestAccept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	inv := f.send(t)
	for _, who := range []string{"alice", "bob"} {
		require.NoError(t, f.hub.Subscribe("conn-"+who, broadcast.GameChannel(inv.GameID)))
	}

	session, err := f.coord.Accept(ctx, inv.GameID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, session.Status)
	assert.Equal(t, "bob", *session.PlayerO)

	for _, who := range []string{"alice", "bob"} {
		assert.Len(t, f.conns[who].of(broadcast.EventGameUpdated), 1, who)
	}
	responses := f.conns["alice"].of(broadcast.EventInviteResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, Response{GameID: inv.GameID, Accepted: true}, responses[0].Data)

	// a second resolution finds nothing and leaves the session alone
	_, err = f.coord.Accept(ctx, inv.GameID, "bob")
	assert.ErrorIs(t, err, game.ErrNotFound)
	assert.ErrorIs(t, f.coord.Decline(ctx, inv.GameID, "bob"), game.ErrNotFound)
	assert.ErrorIs(t, f.coord.Cancel(ctx, inv.GameID, "alice"), game.ErrNotFound)

	stored, err := f.svc.Get(ctx, inv.GameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.Len(t, f.conns["alice"].of(broadcast.EventGameUpdated), 1)
}

func TestAcceptByStranger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	inv := f.send(t)

	_, err := f.coord.Accept(ctx, inv.GameID, "carol")
	assert.ErrorIs(t, err, game.ErrNotInvited)
	assert.Len(t, f.coord.Pending("bob"), 1)

	_, err = f.coord.Accept(ctx, inv.GameID, "bob")
	assert.NoError(t, err)
}

func TestDecline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	inv := f.send(t)

	require.NoError(t, f.coord.Decline(ctx, inv.GameID, "bob"))

	_, err := f.svc.Get(ctx, inv.GameID)
	assert.ErrorIs(t, err, game.ErrNotFound)

	responses := f.conns["alice"].of(broadcast.EventInviteResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, Response{GameID: inv.GameID, Accepted: false}, responses[0].Data)

	assert.ErrorIs(t, f.coord.Decline(ctx, inv.GameID, "bob"), game.ErrNotFound)
	assert.Len(t, f.conns["alice"].of(broadcast.EventInviteResponse), 1)
	assert.Empty(t, f.coord.Pending("bob"))
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	inv := f.send(t)

	assert.ErrorIs(t, f.coord.Cancel(ctx, inv.GameID, "bob"), game.ErrNotParticipant)
	require.NoError(t, f.coord.Cancel(ctx, inv.GameID, "alice"))

	assert.Len(t, f.conns["bob"].of(broadcast.EventInviteCancelled), 1)
	_, err := f.svc.Get(ctx, inv.GameID)
	assert.ErrorIs(t, err, game.ErrNotFound)
	_, err = f.coord.Accept(ctx, inv.GameID, "bob")
	assert.ErrorIs(t, err, game.ErrNotFound)
}

func TestSessionRemovedElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	inv := f.send(t)

	_, err := f.svc.Cancel(ctx, inv.GameID, "alice")
	require.NoError(t, err)

	_, err = f.coord.Accept(ctx, inv.GameID, "bob")
	assert.ErrorIs(t, err, game.ErrNotFound)
	assert.Empty(t, f.coord.Pending("bob"))
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30*time.Millisecond)
	inv := f.send(t)

	require.Eventually(t, func() bool {
		return len(f.conns["bob"].of(broadcast.EventInviteCancelled)) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := f.svc.Get(ctx, inv.GameID)
	assert.ErrorIs(t, err, game.ErrNotFound)
	responses := f.conns["alice"].of(broadcast.EventInviteResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, Response{GameID: inv.GameID, Accepted: false, Reason: "expired"}, responses[0].Data)
	assert.Empty(t, f.coord.Pending("bob"))
}

func TestExpiryAfterAcceptIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30*time.Millisecond)
	inv := f.send(t)

	_, err := f.coord.Accept(ctx, inv.GameID, "bob")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, f.conns["bob"].of(broadcast.EventInviteCancelled))
	stored, err := f.svc.Get(ctx, inv.GameID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
}

func TestWithdrawalDeletesOnChannel(t *testing.T) {
	ctx := context.Background()
	deletions := func(f *fixture) int {
		return len(f.conns["carol"].of(broadcast.EventGameDeleted))
	}
	watched := func(t *testing.T, f *fixture) *Invitation {
		inv := f.send(t)
		require.NoError(t, f.hub.Subscribe("conn-carol", broadcast.GameChannel(inv.GameID)))
		return inv
	}

	f := newFixture(t, 0)
	declined := watched(t, f)
	require.NoError(t, f.coord.Decline(ctx, declined.GameID, "bob"))
	assert.Equal(t, 1, deletions(f))

	cancelled := watched(t, f)
	require.NoError(t, f.coord.Cancel(ctx, cancelled.GameID, "alice"))
	assert.Equal(t, 2, deletions(f))

	f = newFixture(t, 30*time.Millisecond)
	watched(t, f)
	assert.Eventually(t, func() bool { return deletions(f) == 1 }, time.Second, 5*time.Millisecond)
}

func TestExpiryAfterRemovalElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30*time.Millisecond)
	inv := f.send(t)

	_, err := f.svc.Cancel(ctx, inv.GameID, "alice")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(f.coord.Pending("bob")) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.conns["alice"].of(broadcast.EventInviteResponse))
}

func TestSettledByDeletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	inv := f.send(t)

	s, deleted, err := f.svc.Forfeit(ctx, inv.GameID, "alice")
	require.NoError(t, err)
	require.True(t, deleted)

	assert.True(t, f.coord.Settled(s, true))
	assert.Empty(t, f.coord.Pending("bob"))
	assert.Len(t, f.conns["bob"].of(broadcast.EventInviteCancelled), 1)
	assert.Empty(t, f.conns["alice"].of(broadcast.EventInviteResponse))

	assert.False(t, f.coord.Settled(s, true))
	assert.Len(t, f.conns["bob"].of(broadcast.EventInviteCancelled), 1)
}

func TestSettledByJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	inv := f.send(t)

	s, err := f.svc.Join(ctx, inv.GameID, "bob")
	require.NoError(t, err)

	assert.True(t, f.coord.Settled(s, false))
	assert.Empty(t, f.coord.Pending("bob"))
	responses := f.conns["alice"].of(broadcast.EventInviteResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, Response{GameID: inv.GameID, Accepted: true}, responses[0].Data)

	_, err = f.coord.Accept(ctx, inv.GameID, "bob")
	assert.ErrorIs(t, err, game.ErrNotFound)
}
