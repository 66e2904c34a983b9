package rules

import (
	"errors"
	"slices"

	"gridclash/internal/models"
)

var (
	ErrOutOfRange  = errors.New("position out of range")
	ErrCellTaken   = errors.New("position already taken")
	ErrCellBlocked = errors.New("position is blocked")
	ErrCellBombed  = errors.New("position was bombed")
	ErrColumnFull  = errors.New("column is full")
)

// CheckWinner returns the symbol and line of the first completed run, or Empty.
func CheckWinner(board models.Board, g Geometry) (models.Cell, []int) {
	if len(board) != g.Cells() {
		return models.Empty, nil
	}
	for _, line := range Lines(g) {
		first := board[line[0]]
		if first != models.X && first != models.O {
			continue
		}
		won := true
		for _, idx := range line[1:] {
			if board[idx] != first {
				won = false
				break
			}
		}
		if won {
			return first, line
		}
	}
	return models.Empty, nil
}

// IsFull reports whether no playable cell is left. Bombed cells are unplayable and
// blocker cells are never empty.
func IsFull(board models.Board, bombed []int) bool {
	for i, cell := range board {
		if cell == models.Empty && !slices.Contains(bombed, i) {
			return false
		}
	}
	return true
}

// IsDraw reports a full board without a winner.
func IsDraw(board models.Board, g Geometry, bombed []int) bool {
	if w, _ := CheckWinner(board, g); w != models.Empty {
		return false
	}
	return IsFull(board, bombed)
}

// ResolveTarget checks a move and returns the cell it lands on. For gravity mode the
// target is a column and the piece falls to the lowest empty, unbombed cell above the
// first occupied one.
func ResolveTarget(board models.Board, g Geometry, mode models.Mode, bombed []int, target int) (int, error) {
	if mode == models.ModeGravity {
		return dropCell(board, g, bombed, target)
	}
	if target < 0 || target >= len(board) {
		return -1, ErrOutOfRange
	}
	switch {
	case board[target] == models.Blocker:
		return -1, ErrCellBlocked
	case slices.Contains(bombed, target):
		return -1, ErrCellBombed
	case board[target] != models.Empty:
		return -1, ErrCellTaken
	}
	return target, nil
}

func dropCell(board models.Board, g Geometry, bombed []int, col int) (int, error) {
	if col < 0 || col >= g.Cols {
		return -1, ErrOutOfRange
	}
	landing := -1
	for r := 0; r < g.Rows; r++ {
		idx := g.Index(r, col)
		if board[idx] != models.Empty {
			break
		}
		if !slices.Contains(bombed, idx) {
			landing = idx
		}
	}
	if landing < 0 {
		return -1, ErrColumnFull
	}
	return landing, nil
}

// LegalTargets returns every target accepted by ResolveTarget: columns in gravity
// mode, cell indexes otherwise.
func LegalTargets(board models.Board, g Geometry, mode models.Mode, bombed []int) []int {
	limit := len(board)
	if mode == models.ModeGravity {
		limit = g.Cols
	}
	var out []int
	for t := 0; t < limit; t++ {
		if _, err := ResolveTarget(board, g, mode, bombed, t); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// Place returns a copy of board with sym written at cell.
func Place(board models.Board, cell int, sym models.Cell) models.Board {
	next := board.Clone()
	next[cell] = sym
	return next
}

// CompletesLine reports whether placing sym at cell would win.
func CompletesLine(board models.Board, g Geometry, cell int, sym models.Cell) bool {
	if board[cell] != models.Empty {
		return false
	}
	w, _ := CheckWinner(Place(board, cell, sym), g)
	return w == sym
}
