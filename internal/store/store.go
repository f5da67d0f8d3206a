package store

import (
	"context"
	"errors"

	"example.com/roulette/internal/game"
)

var (
	ErrNotFound        = errors.New("room not found")
	ErrVersionConflict = errors.New("room version conflict")
)

// RoomStore is the single source of truth both clients coordinate through.
//
// UpdateRoom applies patch only if the stored version equals expectedVersion;
// expectedVersion 0 skips the check (last writer wins). Every committed
// create/update is delivered to every subscriber of that room, the writer
// included. Subscribe returns ErrNotFound for an unknown room and delivers
// only changes committed after it returns; callers that need the state
// committed before read it with GetRoom after subscribing. Subscription
// channels close when ctx is cancelled.
type RoomStore interface {
	CreateRoom(ctx context.Context, r game.Room) (game.Room, error)
	GetRoom(ctx context.Context, id string) (game.Room, error)
	UpdateRoom(ctx context.Context, id string, expectedVersion int64, patch game.RoomPatch) (game.Room, error)
	Subscribe(ctx context.Context, id string) (<-chan game.Room, error)
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind loses intermediate updates but still gets later ones.
const subscriberBuffer = 32

func checkVersion(current, expected int64) error {
	if expected != 0 && current != expected {
		return ErrVersionConflict
	}
	return nil
}
