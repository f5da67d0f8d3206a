package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/roulette/internal/game"
	"example.com/roulette/internal/room"
	"go.uber.org/zap"
)

// Player is whatever knows the local player's id.
type Player interface {
	ID() string
}

type Timings struct {
	// ReloadDelay is how long the shooter waits before writing a reload, so
	// both players can read the last shot.
	ReloadDelay time.Duration
	// ReloadFallback is how long the other player waits before doing the
	// reload itself.
	ReloadFallback time.Duration
	RevealWindow   time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		ReloadDelay:    time.Second,
		ReloadFallback: 5 * time.Second,
		RevealWindow:   5 * time.Second,
	}
}

var errShotInFlight = fmt.Errorf("%w: previous shot still in flight", game.ErrActionRejected)

// Session is one player's runtime: it joins or hosts a room, follows the
// room's changes and turns them into views, initializes the game when this
// player hosts, and keeps the chamber reloaded.
type Session struct {
	coord   *room.Coordinator
	player  Player
	timings Timings
	log     *zap.Logger

	updates chan View

	mu          sync.Mutex
	roomID      string
	cancel      context.CancelFunc
	rec         *Reconciler
	busy        bool
	reloadTimer *time.Timer
	reloadToken uint64
}

func NewSession(coord *room.Coordinator, player Player, timings Timings, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		coord:   coord,
		player:  player,
		timings: timings,
		log:     log,
		updates: make(chan View, 64),
	}
}

// Updates delivers every new view. Old views are dropped when the reader
// falls behind.
func (s *Session) Updates() <-chan View {
	return s.updates
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Host creates a room and starts following it.
func (s *Session) Host(ctx context.Context) (game.Room, error) {
	r, err := s.coord.Host(ctx, s.player.ID())
	if err != nil {
		return game.Room{}, err
	}
	if err := s.attach(r); err != nil {
		return game.Room{}, err
	}
	return r, nil
}

// Join takes the free seat of roomID and starts following it. Errors for
// which game.LeavesRoom is true mean the player stays in the lobby.
func (s *Session) Join(ctx context.Context, roomID string) (game.Room, error) {
	r, err := s.coord.Join(ctx, roomID, s.player.ID())
	if err != nil {
		return game.Room{}, err
	}
	if err := s.attach(r); err != nil {
		return game.Room{}, err
	}
	return r, nil
}

func (s *Session) attach(r game.Room) error {
	s.Leave()

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := s.coord.Watch(ctx, r.ID)
	if err != nil {
		cancel()
		return err
	}
	// r is what our own write returned; writes that landed before the
	// subscription only show up in a read taken after it
	cur, err := s.coord.Room(ctx, r.ID)
	if err != nil {
		cancel()
		return err
	}
	if cur.Version < r.Version {
		cur = r
	}

	rec := NewReconciler(s.player.ID(), s.timings.RevealWindow, s.publish)

	s.mu.Lock()
	s.roomID = r.ID
	s.cancel = cancel
	s.rec = rec
	s.mu.Unlock()

	s.observe(ctx, rec, cur)
	go func() {
		for room := range changes {
			s.observe(ctx, rec, room)
		}
	}()
	return nil
}

func (s *Session) observe(ctx context.Context, rec *Reconciler, r game.Room) {
	v, ok := rec.Observe(r)
	if !ok {
		return
	}
	s.publish(v)

	me := s.player.ID()
	if r.Player1ID == me && r.Status == game.StatusPlaying && !r.Started() {
		if _, _, err := s.coord.MaybeInitialize(ctx, r.ID, me); err != nil && ctx.Err() == nil {
			s.notice(fmt.Sprintf("could not start the game: %v", err))
		}
	}

	gs := r.GameState
	if gs != nil && gs.NeedsReload() {
		delay := s.timings.ReloadFallback
		if gs.LastAction != nil && gs.LastAction.ShooterID == me {
			delay = s.timings.ReloadDelay
		}
		s.scheduleReload(ctx, r.ID, delay)
		return
	}
	s.cancelReload()
}

func (s *Session) scheduleReload(ctx context.Context, roomID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
	}
	s.reloadToken++
	token := s.reloadToken

	s.reloadTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		stale := token != s.reloadToken
		s.mu.Unlock()
		if stale || ctx.Err() != nil {
			return
		}

		_, did, err := s.coord.Reload(ctx, roomID)
		switch {
		case err != nil && ctx.Err() == nil:
			s.log.Warn("reload failed", zap.String("room", roomID), zap.Error(err))
			s.notice(fmt.Sprintf("reload failed: %v", err))
		case did:
			s.log.Debug("reloaded chamber", zap.String("room", roomID))
		}
	})
}

func (s *Session) cancelReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadToken++
	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
		s.reloadTimer = nil
	}
}

// Shoot fires the next bullet. Nothing is written when the latest view says
// it is not this player's turn. The resulting view arrives through Updates,
// never from the local result.
func (s *Session) Shoot(ctx context.Context, action game.Action) error {
	s.mu.Lock()
	roomID, rec := s.roomID, s.rec
	if rec == nil {
		s.mu.Unlock()
		return game.ErrRoomNotFound
	}
	v := rec.Latest()
	switch {
	case s.busy:
		s.mu.Unlock()
		return errShotInFlight
	case v.Room.GameState == nil:
		s.mu.Unlock()
		return game.ErrNotStarted
	case v.Room.GameState.Over():
		s.mu.Unlock()
		return game.ErrGameOver
	case !v.MyTurn:
		s.mu.Unlock()
		return game.ErrNotYourTurn
	case !v.CanShoot:
		s.mu.Unlock()
		return game.ErrReloadPending
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	_, err := s.coord.Shoot(ctx, roomID, s.player.ID(), action)
	if err != nil {
		s.notice(noticeFor(err))
	}
	return err
}

// Leave stops following the current room. Shared state is left as it is.
func (s *Session) Leave() {
	s.mu.Lock()
	cancel, rec := s.cancel, s.rec
	s.cancel, s.rec, s.roomID = nil, nil, ""
	s.mu.Unlock()

	s.cancelReload()
	if rec != nil {
		rec.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Session) notice(msg string) {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	var v View
	if rec != nil {
		v = rec.Latest()
	}
	v.Notice = msg
	s.publish(v)
}

func (s *Session) publish(v View) {
	for {
		select {
		case s.updates <- v:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func noticeFor(err error) string {
	switch {
	case errors.Is(err, game.ErrActionRejected):
		return err.Error()
	case errors.Is(err, game.ErrStoreUnavailable):
		return "connection problem, try again"
	case errors.Is(err, game.ErrRoomNotFound):
		return "the room is gone"
	}
	return err.Error()
}
