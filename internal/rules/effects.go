package rules

import (
	"slices"

	"gridclash/internal/models"
)

// Rand is the source of randomness used by the board effects.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// Decay clears every cell placed more than ttl turns before turn and drops its
// placement record. It returns the new board, the new records and the cleared cells.
func Decay(board models.Board, placedAt map[int]int, turn, ttl int) (models.Board, map[int]int, []int) {
	next := board.Clone()
	records := make(map[int]int, len(placedAt))
	var cleared []int
	for cell, placed := range placedAt {
		if turn-placed > ttl {
			next[cell] = models.Empty
			cleared = append(cleared, cell)
			continue
		}
		records[cell] = placed
	}
	slices.Sort(cleared)
	return next, records, cleared
}

// BombDue reports whether a bomb drops after the move that brought the game to turnCount.
func BombDue(turnCount int) bool {
	return turnCount >= 2 && turnCount%2 == 0
}

// Bomb picks one empty, unbombed cell that would not complete a line for either
// player and adds it to the bombed set. It returns the new set and the bombed cell,
// or -1 when no bomb is due or no cell qualifies.
func Bomb(board models.Board, g Geometry, bombed []int, turnCount int, rng Rand) ([]int, int) {
	next := slices.Clone(bombed)
	if !BombDue(turnCount) {
		return next, -1
	}
	var candidates []int
	for i, cell := range board {
		if cell != models.Empty || slices.Contains(bombed, i) {
			continue
		}
		if CompletesLine(board, g, i, models.X) || CompletesLine(board, g, i, models.O) {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return next, -1
	}
	cell := candidates[rng.IntN(len(candidates))]
	next = append(next, cell)
	slices.Sort(next)
	return next, cell
}

// PlaceBlocker turns one random empty cell into a permanent blocker. exhausted is true
// when no empty cell is left afterwards, which ends the game in a draw.
func PlaceBlocker(board models.Board, bombed []int, rng Rand) (next models.Board, cell int, exhausted bool) {
	var candidates []int
	for i, c := range board {
		if c == models.Empty && !slices.Contains(bombed, i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return board.Clone(), -1, true
	}
	cell = candidates[rng.IntN(len(candidates))]
	next = Place(board, cell, models.Blocker)
	return next, cell, IsFull(next, bombed)
}

// SeedRandomStart places alternating X and O seeds on random cells of an opening
// board without completing any line.
func SeedRandomStart(board models.Board, g Geometry, rng Rand) models.Board {
	next := board.Clone()
	pairs := 1
	if g.Size >= 5 {
		pairs = 2
	}
	for i := 0; i < pairs*2; i++ {
		sym := models.X
		if i%2 == 1 {
			sym = models.O
		}
		var candidates []int
		for idx, c := range next {
			if c == models.Empty && !CompletesLine(next, g, idx, sym) {
				candidates = append(candidates, idx)
			}
		}
		if len(candidates) == 0 {
			break
		}
		next[candidates[rng.IntN(len(candidates))]] = sym
	}
	return next
}
