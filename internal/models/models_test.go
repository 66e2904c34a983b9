package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusWaiting.CanTransition(StatusInProgress))
	assert.True(t, StatusInProgress.CanTransition(StatusCompleted))
	assert.False(t, StatusWaiting.CanTransition(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransition(StatusInProgress))
	assert.False(t, StatusInProgress.CanTransition(StatusWaiting))

	_, err := StatusCompleted.Transition(StatusWaiting)
	require.Error(t, err)
	next, err := StatusWaiting.Transition(StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, next)
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, BucketPvP, BucketFor(&GameSession{}))
	assert.Equal(t, BucketAIHard, BucketFor(&GameSession{VsAI: true, AIDifficulty: DifficultyHard}))
	assert.Equal(t, BucketAIEasy, BucketFor(&GameSession{VsAI: true, AIDifficulty: DifficultyEasy}))
	assert.Equal(t, BucketAIMedium, BucketFor(&GameSession{VsAI: true}))
}

func TestRecordApply(t *testing.T) {
	var r Record
	r.Apply(OutcomeWin, false)
	r.Apply(OutcomeLoss, true)
	r.Apply(OutcomeLoss, false)
	r.Apply(OutcomeDraw, false)
	assert.Equal(t, Record{Wins: 1, Losses: 2, Draws: 1, Forfeits: 1}, r)
	assert.Equal(t, 4, r.Games())
}

func TestSessionSeats(t *testing.T) {
	pvp := &GameSession{PlayerX: StringPtr("alice"), PlayerO: StringPtr("bob")}
	assert.Equal(t, X, pvp.SymbolOf("alice"))
	assert.Equal(t, O, pvp.SymbolOf("bob"))
	assert.Equal(t, Empty, pvp.SymbolOf(AIPlayer))
	other, ok := pvp.OpponentOf("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", other)
	_, ok = pvp.OpponentOf("carol")
	assert.False(t, ok)

	vsBot := &GameSession{PlayerX: StringPtr("alice"), VsAI: true}
	assert.Equal(t, O, vsBot.SymbolOf(AIPlayer))
	other, _ = vsBot.OpponentOf("alice")
	assert.Equal(t, AIPlayer, other)
	assert.Equal(t, []string{"alice"}, vsBot.Humans())
}

func TestCloneIsDeep(t *testing.T) {
	s := &GameSession{
		PlayerX:     StringPtr("alice"),
		Board:       Board{X, Empty, Empty, Empty},
		PlacedAt:    map[int]int{0: 1},
		BombedCells: []int{3},
	}
	c := s.Clone()
	c.Board[1] = O
	*c.PlayerX = "mallory"
	c.PlacedAt[1] = 2
	c.BombedCells[0] = 2

	assert.Equal(t, Empty, s.Board[1])
	assert.Equal(t, "alice", *s.PlayerX)
	assert.Len(t, s.PlacedAt, 1)
	assert.Equal(t, []int{3}, s.BombedCells)
}
