package engine

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package wraps exactly one of
// them, so transports can classify with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrMissingUser        = fmt.Errorf("%w: user id is required", ErrValidation)
	ErrInvalidSongCount   = fmt.Errorf("%w: song count must be between 1 and %d", ErrValidation, MaxSongCount)
	ErrInvalidPlayerCount = fmt.Errorf("%w: player count must be at least 1", ErrValidation)
	ErrEmptySelection     = fmt.Errorf("%w: at least one tag must be selected", ErrValidation)
	ErrUnknownOption      = fmt.Errorf("%w: selection is not one of the round options", ErrValidation)
	ErrInvalidRound       = fmt.Errorf("%w: malformed round", ErrValidation)
	ErrUnsupportedCommand = fmt.Errorf("%w: unsupported command", ErrValidation)

	ErrRoomNotFound   = fmt.Errorf("%w: room", ErrNotFound)
	ErrRoundNotFound  = fmt.Errorf("%w: round", ErrNotFound)
	ErrPlayerNotFound = fmt.Errorf("%w: player", ErrNotFound)

	ErrRoomNotWaiting    = fmt.Errorf("%w: room is not accepting players", ErrConflict)
	ErrNotCreator        = fmt.Errorf("%w: only the room creator can do that", ErrConflict)
	ErrNoPlayers         = fmt.Errorf("%w: room has no players", ErrConflict)
	ErrWrongState        = fmt.Errorf("%w: command not allowed in current state", ErrConflict)
	ErrRoundNotSelecting = fmt.Errorf("%w: round is not accepting selections", ErrConflict)
	ErrBattleCompleted   = fmt.Errorf("%w: battle already completed", ErrConflict)
	ErrRoomExpired       = fmt.Errorf("%w: room expired", ErrConflict)
	ErrCodeExhausted     = fmt.Errorf("%w: could not allocate a unique room code", ErrConflict)
)
