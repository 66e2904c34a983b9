package game

import (
	"errors"

	"gridclash/internal/rules"
)

var (
	ErrNotFound       = errors.New("game not found")
	ErrNotInProgress  = errors.New("game is not in progress")
	ErrNotWaiting     = errors.New("game is no longer waiting for players")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrNotParticipant = errors.New("not a player in this game")
	ErrIllegalMove    = errors.New("illegal move")
	ErrConflict       = errors.New("game was already taken")
	ErrOwnGame        = errors.New("cannot join your own game")
	ErrNotInvited     = errors.New("game is reserved for an invited player")
	ErrTurnNotExpired = errors.New("turn has not expired yet")
	ErrNoTurnTimer    = errors.New("game has no turn timer")
	ErrInvalidConfig  = errors.New("invalid game settings")
	ErrStaleTurn      = errors.New("turn already changed")
)

// Kind groups errors by the recovery the caller should attempt.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

var validationErrors = []error{
	ErrNotInProgress,
	ErrNotWaiting,
	ErrNotYourTurn,
	ErrNotParticipant,
	ErrIllegalMove,
	ErrOwnGame,
	ErrNotInvited,
	ErrTurnNotExpired,
	ErrNoTurnTimer,
	ErrInvalidConfig,
	ErrStaleTurn,
	rules.ErrOutOfRange,
	rules.ErrCellTaken,
	rules.ErrCellBlocked,
	rules.ErrCellBombed,
	rules.ErrColumnFull,
}

// KindOf classifies err for reporting to clients.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return KindValidation
		}
	}
	return KindInternal
}
