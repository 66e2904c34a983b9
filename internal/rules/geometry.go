// Package rules holds the pure game rules: board geometry, win and draw detection,
// move legality and the per-mode board effects. No function in this package mutates
// its arguments.
package rules

import (
	"errors"
	"fmt"

	"gridclash/internal/models"
)

var (
	ErrUnsupportedSize = errors.New("unsupported board size")
	ErrUnsupportedMode = errors.New("unsupported mode")
	ErrDropBoardMode   = errors.New("the 7-column board is only available in gravity mode")
)

// Geometry describes the shape of a board and the run needed to win.
type Geometry struct {
	Size      int
	Cols      int
	Rows      int
	RunLength int
}

// GeometryFor returns the geometry of a board size. Size 7 is the 7x6 drop board.
func GeometryFor(size int) (Geometry, error) {
	switch size {
	case 3:
		return Geometry{Size: 3, Cols: 3, Rows: 3, RunLength: 3}, nil
	case 4:
		return Geometry{Size: 4, Cols: 4, Rows: 4, RunLength: 3}, nil
	case 5:
		return Geometry{Size: 5, Cols: 5, Rows: 5, RunLength: 4}, nil
	case 7:
		return Geometry{Size: 7, Cols: 7, Rows: 6, RunLength: 4}, nil
	}
	return Geometry{}, fmt.Errorf("%w: %d", ErrUnsupportedSize, size)
}

// Cells returns the number of cells of the board.
func (g Geometry) Cells() int {
	return g.Cols * g.Rows
}

// Index converts a row and column into a flat cell index.
func (g Geometry) Index(row, col int) int {
	return row*g.Cols + col
}

// RowCol converts a flat cell index into row and column.
func (g Geometry) RowCol(cell int) (int, int) {
	return cell / g.Cols, cell % g.Cols
}

// CheckVariant validates a mode and board size combination.
func CheckVariant(mode models.Mode, size int) (Geometry, error) {
	if !mode.Valid() {
		return Geometry{}, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	g, err := GeometryFor(size)
	if err != nil {
		return Geometry{}, err
	}
	if size == 7 && mode != models.ModeGravity {
		return Geometry{}, ErrDropBoardMode
	}
	return g, nil
}

// NewBoard returns an empty board for the geometry.
func NewBoard(g Geometry) models.Board {
	return make(models.Board, g.Cells())
}

// directions scanned for runs: right, down, down-right, down-left.
var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// Lines returns every winning line of the geometry. The result is built on each call.
func Lines(g Geometry) [][]int {
	var lines [][]int
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			for _, d := range directions {
				endR := r + d[0]*(g.RunLength-1)
				endC := c + d[1]*(g.RunLength-1)
				if endR < 0 || endR >= g.Rows || endC < 0 || endC >= g.Cols {
					continue
				}
				line := make([]int, g.RunLength)
				for k := 0; k < g.RunLength; k++ {
					line[k] = g.Index(r+d[0]*k, c+d[1]*k)
				}
				lines = append(lines, line)
			}
		}
	}
	return lines
}
