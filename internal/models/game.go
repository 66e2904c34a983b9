package models

import (
	"fmt"
	"time"
)

// Cell represents the content of a single board cell.
type Cell string

const (
	Empty   Cell = ""
	X       Cell = "X"
	O       Cell = "O"
	Blocker Cell = "blocker"
)

// Opponent returns the other player symbol.
func (c Cell) Opponent() Cell {
	switch c {
	case X:
		return O
	case O:
		return X
	}
	return Empty
}

// Board is the flat, row-major list of cells.
type Board []Cell

// Clone returns an independent copy of the board.
func (b Board) Clone() Board {
	out := make(Board, len(b))
	copy(out, b)
	return out
}

// AIPlayer is the literal identity used for the bot in winner and move records.
const AIPlayer = "ai"

// Mode is a rule variant.
type Mode string

const (
	ModeClassic Mode = "classic"
	ModeMisere  Mode = "misere"
	ModeDecay   Mode = "decay"
	ModeGravity Mode = "gravity"
	ModeRandom  Mode = "random"
	ModeBomb    Mode = "bomb"
	ModeBlocker Mode = "blocker"
	ModeFog     Mode = "fog"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeClassic, ModeMisere, ModeDecay, ModeGravity, ModeRandom, ModeBomb, ModeBlocker, ModeFog}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// Difficulty of the bot opponent.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// GameSession is one playthrough from creation to completion.
type GameSession struct {
	ID                  string      `json:"id"`
	PlayerX             *string     `json:"playerX"`
	PlayerO             *string     `json:"playerO"`
	Board               Board       `json:"board"`
	CurrentTurn         *string     `json:"currentTurn"`
	Status              Status      `json:"status"`
	Winner              *string     `json:"winner"`
	WinningLine         []int       `json:"winningLine,omitempty"`
	Mode                Mode        `json:"mode"`
	BoardSize           int         `json:"boardSize"`
	TurnDurationSeconds int         `json:"turnDurationSeconds"`
	TurnStartedAt       *time.Time  `json:"turnStartedAt"`
	TurnCount           int         `json:"turnCount"`
	PlacedAt            map[int]int `json:"placedAt,omitempty"`
	DecayTurns          int         `json:"decayTurns,omitempty"`
	BombedCells         []int       `json:"bombedCells,omitempty"`
	ForfeitBy           *string     `json:"forfeitBy"`
	InvitedPlayerID     *string     `json:"invitedPlayerId"`
	VsAI                bool        `json:"vsAI"`
	AIDifficulty        Difficulty  `json:"aiDifficulty,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy so callers can compare before/after states.
func (g *GameSession) Clone() *GameSession {
	if g == nil {
		return nil
	}
	out := *g
	out.PlayerX = cloneString(g.PlayerX)
	out.PlayerO = cloneString(g.PlayerO)
	out.CurrentTurn = cloneString(g.CurrentTurn)
	out.Winner = cloneString(g.Winner)
	out.ForfeitBy = cloneString(g.ForfeitBy)
	out.InvitedPlayerID = cloneString(g.InvitedPlayerID)
	out.Board = g.Board.Clone()
	if g.WinningLine != nil {
		out.WinningLine = append([]int(nil), g.WinningLine...)
	}
	if g.BombedCells != nil {
		out.BombedCells = append([]int(nil), g.BombedCells...)
	}
	if g.PlacedAt != nil {
		out.PlacedAt = make(map[int]int, len(g.PlacedAt))
		for k, v := range g.PlacedAt {
			out.PlacedAt[k] = v
		}
	}
	if g.TurnStartedAt != nil {
		t := *g.TurnStartedAt
		out.TurnStartedAt = &t
	}
	return &out
}

// SymbolOf returns the symbol played by player, or Empty when player is not seated.
// The bot always plays O.
func (g *GameSession) SymbolOf(player string) Cell {
	switch {
	case g.PlayerX != nil && *g.PlayerX == player:
		return X
	case player == AIPlayer && g.VsAI:
		return O
	case g.PlayerO != nil && *g.PlayerO == player:
		return O
	}
	return Empty
}

// OpponentOf returns the identity of the other party, AIPlayer for bot games.
func (g *GameSession) OpponentOf(player string) (string, bool) {
	switch g.SymbolOf(player) {
	case X:
		if g.VsAI {
			return AIPlayer, true
		}
		if g.PlayerO != nil {
			return *g.PlayerO, true
		}
	case O:
		if g.PlayerX != nil {
			return *g.PlayerX, true
		}
	}
	return "", false
}

// IsParticipant reports whether player is seated in the session.
func (g *GameSession) IsParticipant(player string) bool {
	return g.SymbolOf(player) != Empty
}

// Humans returns the identities of the human players seated in the session.
func (g *GameSession) Humans() []string {
	var out []string
	if g.PlayerX != nil {
		out = append(out, *g.PlayerX)
	}
	if g.PlayerO != nil {
		out = append(out, *g.PlayerO)
	}
	return out
}

// TurnDeadline returns when the current turn expires, if turn timers are enabled.
func (g *GameSession) TurnDeadline() (time.Time, bool) {
	if g.TurnDurationSeconds <= 0 || g.TurnStartedAt == nil {
		return time.Time{}, false
	}
	return g.TurnStartedAt.Add(time.Duration(g.TurnDurationSeconds) * time.Second), true
}

func (g *GameSession) String() string {
	return fmt.Sprintf("game %s (%s %dx, %s)", g.ID, g.Mode, g.BoardSize, g.Status)
}

// MoveRecord is one entry of the append-only move log.
type MoveRecord struct {
	GameID    string    `json:"gameId"`
	TurnIndex int       `json:"turnIndex"`
	Player    string    `json:"player"`
	Target    int       `json:"target"`
	Cell      int       `json:"cell"`
	Symbol    Cell      `json:"symbol"`
	At        time.Time `json:"at"`
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
