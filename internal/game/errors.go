package game

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrRoomNotFound           = errors.New("room not found")
	ErrRoomFull               = errors.New("room is full")
	ErrGameAlreadyFinished    = errors.New("game already finished")
	ErrActionRejected         = errors.New("action rejected")
	ErrStoreUnavailable       = errors.New("store unavailable")
)

// Reasons a shot can be rejected. All of them match ErrActionRejected.
var (
	ErrNotYourTurn   = fmt.Errorf("%w: not your turn", ErrActionRejected)
	ErrGameOver      = fmt.Errorf("%w: game is over", ErrActionRejected)
	ErrReloadPending = fmt.Errorf("%w: no bullets left, waiting for reload", ErrActionRejected)
	ErrNotStarted    = fmt.Errorf("%w: game has not started", ErrActionRejected)
	ErrNotAPlayer    = fmt.Errorf("%w: not a player in this room", ErrActionRejected)
	ErrUnknownAction = fmt.Errorf("%w: unknown action", ErrActionRejected)
)

// Code maps an error from this package to the short code used in API
// responses and client notices.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthenticationRequired):
		return "authentication_required"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrGameAlreadyFinished):
		return "game_finished"
	case errors.Is(err, ErrActionRejected):
		return "action_rejected"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "internal"
}

// LeavesRoom reports whether a join error should send the player back to the
// lobby.
func LeavesRoom(err error) bool {
	return errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrRoomFull) || errors.Is(err, ErrGameAlreadyFinished)
}
