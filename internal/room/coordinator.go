package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/roulette/internal/game"
	"example.com/roulette/internal/store"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Coordinator runs the room lifecycle against a RoomStore. Every write is a
// read-modify-write guarded by the version that was read; a conflicting
// write re-reads and decides again.
type Coordinator struct {
	store  store.RoomStore
	loader *game.Loader
	log    *zap.Logger

	now        func() time.Time
	maxRetries uint64
	retryBase  time.Duration
}

func NewCoordinator(st store.RoomStore, loader *game.Loader, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		store:      st,
		loader:     loader,
		log:        log,
		now:        time.Now,
		maxRetries: 6,
		retryBase:  20 * time.Millisecond,
	}
}

// Host creates a waiting room owned by hostID.
func (c *Coordinator) Host(ctx context.Context, hostID string) (game.Room, error) {
	if hostID == "" {
		return game.Room{}, game.ErrAuthenticationRequired
	}

	r, err := c.store.CreateRoom(ctx, game.Room{Player1ID: hostID, Status: game.StatusWaiting})
	if err != nil {
		return game.Room{}, unavailable(err)
	}
	c.log.Info("room hosted", zap.String("room", r.ID), zap.String("host", hostID))
	return r, nil
}

// Join takes the second seat. A player already seated gets the room back
// unchanged.
func (c *Coordinator) Join(ctx context.Context, roomID, joinerID string) (game.Room, error) {
	if joinerID == "" {
		return game.Room{}, game.ErrAuthenticationRequired
	}

	var joined game.Room
	err := c.withRetry(ctx, func(ctx context.Context) error {
		r, err := c.get(ctx, roomID)
		if err != nil {
			return err
		}

		switch {
		case r.HasPlayer(joinerID):
			joined = r
			return nil
		case r.Status == game.StatusFinished:
			return game.ErrGameAlreadyFinished
		case r.Player2ID != "" || r.Status != game.StatusWaiting:
			return game.ErrRoomFull
		}

		p2, playing := joinerID, game.StatusPlaying
		up, err := c.update(ctx, r, game.RoomPatch{Player2ID: &p2, Status: &playing})
		if err != nil {
			return err
		}
		joined = up
		c.log.Info("room joined", zap.String("room", r.ID), zap.String("player", joinerID))
		return nil
	})
	return joined, err
}

// MaybeInitialize writes the opening state when callerID is the host, both
// seats are taken and nothing was written yet. It reports whether this call
// did the write; a duplicate call finds the game started and does nothing.
func (c *Coordinator) MaybeInitialize(ctx context.Context, roomID, callerID string) (game.Room, bool, error) {
	var (
		room game.Room
		did  bool
	)
	err := c.withRetry(ctx, func(ctx context.Context) error {
		r, err := c.get(ctx, roomID)
		if err != nil {
			return err
		}
		room = r
		if !initDue(r, callerID) {
			return nil
		}

		p := r.Players()
		load := c.loader.Load()
		first := c.loader.CoinFlip(p.P1, p.P2)
		gs := game.Initial(p, first, load, c.loader.Rules().InitialLives, c.millis())

		up, err := c.update(ctx, r, game.RoomPatch{GameState: &gs})
		if err != nil {
			return err
		}
		room, did = up, true
		c.log.Info("game initialized",
			zap.String("room", r.ID),
			zap.String("first_turn", first),
			zap.Int("real", load.Real),
			zap.Int("fake", load.Fake),
		)
		return nil
	})
	return room, did, err
}

func initDue(r game.Room, callerID string) bool {
	return callerID != "" &&
		r.Player1ID == callerID &&
		r.Player2ID != "" &&
		r.Status == game.StatusPlaying &&
		!r.Started()
}

// Shoot resolves one shot against the freshest state and writes it. A shot
// that decides the game also finishes the room in the same write.
func (c *Coordinator) Shoot(ctx context.Context, roomID, shooterID string, action game.Action) (game.Room, error) {
	if shooterID == "" {
		return game.Room{}, game.ErrAuthenticationRequired
	}

	var room game.Room
	err := c.withRetry(ctx, func(ctx context.Context) error {
		r, err := c.get(ctx, roomID)
		if err != nil {
			return err
		}
		if r.GameState == nil {
			return game.ErrNotStarted
		}

		next, err := game.Resolve(*r.GameState, r.Players(), shooterID, action, c.millis())
		if err != nil {
			return err
		}

		patch := game.RoomPatch{GameState: &next}
		if next.Over() {
			finished := game.StatusFinished
			patch.Status = &finished
		}

		up, err := c.update(ctx, r, patch)
		if err != nil {
			return err
		}
		room = up

		la := next.LastAction
		c.log.Debug("shot resolved",
			zap.String("room", r.ID),
			zap.String("shooter", shooterID),
			zap.String("outcome", string(la.Outcome)),
			zap.Int64("version", up.Version),
		)
		if next.Over() {
			c.log.Info("game finished", zap.String("room", r.ID), zap.String("winner", next.Winner))
		}
		return nil
	})
	return room, err
}

// Reload refills an empty chamber. It re-reads first and does nothing unless
// the game is still running and a reload is actually pending, so a late or
// duplicated reload task is harmless.
func (c *Coordinator) Reload(ctx context.Context, roomID string) (game.Room, bool, error) {
	var (
		room game.Room
		did  bool
	)
	err := c.withRetry(ctx, func(ctx context.Context) error {
		r, err := c.get(ctx, roomID)
		if err != nil {
			return err
		}
		room = r
		if r.GameState == nil || !r.GameState.NeedsReload() {
			return nil
		}

		load := c.loader.Load()
		next := game.Reloaded(*r.GameState, load, c.millis())
		up, err := c.update(ctx, r, game.RoomPatch{GameState: &next})
		if err != nil {
			return err
		}
		room, did = up, true
		c.log.Debug("chamber reloaded", zap.String("room", r.ID), zap.Int("real", load.Real), zap.Int("fake", load.Fake))
		return nil
	})
	return room, did, err
}

func (c *Coordinator) withRetry(ctx context.Context, f retry.RetryFunc) error {
	b := retry.NewExponential(c.retryBase)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(c.maxRetries, b)

	err := retry.Do(ctx, b, f)
	if errors.Is(err, store.ErrVersionConflict) {
		return fmt.Errorf("%w: room kept changing, try again", game.ErrStoreUnavailable)
	}
	return err
}

func (c *Coordinator) get(ctx context.Context, id string) (game.Room, error) {
	r, err := c.store.GetRoom(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return game.Room{}, game.ErrRoomNotFound
	}
	if err != nil {
		return game.Room{}, unavailable(err)
	}
	return r, nil
}

// update writes patch at the version r was read at. A conflict is handed back
// as retryable so the caller's loop reads again.
func (c *Coordinator) update(ctx context.Context, r game.Room, patch game.RoomPatch) (game.Room, error) {
	up, err := c.store.UpdateRoom(ctx, r.ID, r.Version, patch)
	switch {
	case err == nil:
		return up, nil
	case errors.Is(err, store.ErrVersionConflict):
		c.log.Debug("version conflict", zap.String("room", r.ID), zap.Int64("read_version", r.Version))
		return game.Room{}, retry.RetryableError(err)
	case errors.Is(err, store.ErrNotFound):
		return game.Room{}, game.ErrRoomNotFound
	}
	return game.Room{}, unavailable(err)
}

func (c *Coordinator) millis() int64 {
	return c.now().UnixMilli()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", game.ErrStoreUnavailable, err)
}

// Room reads the current room.
func (c *Coordinator) Room(ctx context.Context, roomID string) (game.Room, error) {
	return c.get(ctx, roomID)
}

// Watch subscribes to every change of a room committed after the call. Pair
// it with Room to learn what was committed before.
func (c *Coordinator) Watch(ctx context.Context, roomID string) (<-chan game.Room, error) {
	ch, err := c.store.Subscribe(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, game.ErrRoomNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return ch, nil
}
