// Package bot picks moves for the AI opponent. The bot always plays O.
package bot

import (
	"errors"
	"math"
	"slices"

	"gridclash/internal/models"
	"gridclash/internal/rules"
)

var ErrNoMove = errors.New("bot has no legal move")

// Choose returns the bot's target for the session: a cell index, or a column in
// gravity mode.
//
// Easy plays a random legal target. Medium wins when it can, blocks an immediate
// threat, prefers the centre and otherwise plays at random. Hard searches the whole
// game tree on 3x3 boards whose rules have no board effects, and plays like medium
// everywhere else.
func Choose(s *models.GameSession, rng rules.Rand) (int, error) {
	g, err := rules.GeometryFor(s.BoardSize)
	if err != nil {
		return -1, err
	}
	targets := rules.LegalTargets(s.Board, g, s.Mode, s.BombedCells)
	if len(targets) == 0 {
		return -1, ErrNoMove
	}
	p := position{board: s.Board, g: g, mode: s.Mode, bombed: s.BombedCells, targets: targets}

	switch s.AIDifficulty {
	case models.DifficultyEasy:
		return pick(targets, rng), nil
	case models.DifficultyHard:
		if searchable(s.Mode, g) {
			return p.search(rng), nil
		}
	}
	return p.heuristic(rng), nil
}

func searchable(mode models.Mode, g rules.Geometry) bool {
	if g.Size != 3 {
		return false
	}
	switch mode {
	case models.ModeClassic, models.ModeMisere, models.ModeRandom, models.ModeFog:
		return true
	}
	return false
}

type position struct {
	board   models.Board
	g       rules.Geometry
	mode    models.Mode
	bombed  []int
	targets []int
}

// cellOf resolves a legal target to the cell it lands on.
func (p position) cellOf(target int) int {
	cell, err := rules.ResolveTarget(p.board, p.g, p.mode, p.bombed, target)
	if err != nil {
		return -1
	}
	return cell
}

func (p position) completing(sym models.Cell) []int {
	var out []int
	for _, t := range p.targets {
		if cell := p.cellOf(t); cell >= 0 && rules.CompletesLine(p.board, p.g, cell, sym) {
			out = append(out, t)
		}
	}
	return out
}

func (p position) heuristic(rng rules.Rand) int {
	if p.mode == models.ModeMisere {
		// completing a line loses, so stay off any cell that would
		losing := p.completing(models.O)
		var safe []int
		for _, t := range p.targets {
			if !slices.Contains(losing, t) {
				safe = append(safe, t)
			}
		}
		if len(safe) > 0 {
			return pick(safe, rng)
		}
		return pick(p.targets, rng)
	}

	if wins := p.completing(models.O); len(wins) > 0 {
		return wins[0]
	}
	if threats := p.completing(models.X); len(threats) > 0 {
		return threats[0]
	}
	if c := p.centre(); slices.Contains(p.targets, c) {
		return c
	}
	return pick(p.targets, rng)
}

func (p position) centre() int {
	if p.mode == models.ModeGravity {
		return p.g.Cols / 2
	}
	return p.g.Index(p.g.Rows/2, p.g.Cols/2)
}

// search runs a full minimax over the remaining cells and picks at random among the
// best targets. Faster wins and slower losses score higher.
func (p position) search(rng rules.Rand) int {
	s := searcher{lines: rules.Lines(p.g), misere: p.mode == models.ModeMisere}
	board := p.board.Clone()

	bestScore := math.MinInt
	var best []int
	for _, t := range p.targets {
		board[t] = models.O
		score := s.after(board, models.O, 1)
		board[t] = models.Empty
		switch {
		case score > bestScore:
			bestScore, best = score, []int{t}
		case score == bestScore:
			best = append(best, t)
		}
	}
	return pick(best, rng)
}

type searcher struct {
	lines  [][]int
	misere bool
}

// after scores board for the player who just placed sym.
func (s searcher) after(board models.Board, sym models.Cell, depth int) int {
	if s.completed(board, sym) {
		v := 10 - depth
		if s.misere {
			return -v
		}
		return v
	}

	next := sym.Opponent()
	best := math.MinInt
	for i, c := range board {
		if c != models.Empty {
			continue
		}
		board[i] = next
		if v := s.after(board, next, depth+1); v > best {
			best = v
		}
		board[i] = models.Empty
	}
	if best == math.MinInt {
		return 0
	}
	return -best
}

func (s searcher) completed(board models.Board, sym models.Cell) bool {
	for _, line := range s.lines {
		full := true
		for _, idx := range line {
			if board[idx] != sym {
				full = false
				break
			}
		}
		if full {
			return true
		}
	}
	return false
}

func pick(targets []int, rng rules.Rand) int {
	return targets[rng.IntN(len(targets))]
}
