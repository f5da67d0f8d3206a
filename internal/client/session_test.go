package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/roulette/internal/game"
	"example.com/roulette/internal/room"
	"example.com/roulette/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPlayer string

func (p staticPlayer) ID() string { return string(p) }

func fastTimings() Timings {
	return Timings{
		ReloadDelay:    5 * time.Millisecond,
		ReloadFallback: 40 * time.Millisecond,
		RevealWindow:   20 * time.Millisecond,
	}
}

// shortGameRules load one real and one fake per chamber, so every game needs
// several reloads.
func shortGameRules() game.Rules {
	return game.Rules{InitialLives: 3, MinBullets: 2, MaxBullets: 2}
}

func current(s *Session) View {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return View{}
	}
	return rec.Latest()
}

// outcomeLog records every outcome committed to a room.
type outcomeLog struct {
	mu   sync.Mutex
	seen []game.Outcome
}

func watchOutcomes(t *testing.T, st store.RoomStore, roomID string) *outcomeLog {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := st.Subscribe(ctx, roomID)
	require.NoError(t, err)

	l := &outcomeLog{}
	go func() {
		for r := range ch {
			if r.GameState == nil || r.GameState.LastAction == nil {
				continue
			}
			l.mu.Lock()
			l.seen = append(l.seen, r.GameState.LastAction.Outcome)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *outcomeLog) has(pred func(game.Outcome) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.seen {
		if pred(o) {
			return true
		}
	}
	return false
}

// playOut shoots the opponent with whichever session may shoot until the
// room is finished.
func playOut(t *testing.T, sessions ...*Session) {
	t.Helper()
	ctx := context.Background()
	require.Eventually(t, func() bool {
		for _, s := range sessions {
			v := current(s)
			if v.Room.Status == game.StatusFinished {
				return true
			}
			if v.CanShoot {
				_ = s.Shoot(ctx, game.ShootOpponent)
			}
		}
		return false
	}, 15*time.Second, 2*time.Millisecond)
}

func TestSession_FullGame(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	coord := room.NewCoordinator(st, game.NewSeededLoader(shortGameRules(), 42), nil)

	host := NewSession(coord, staticPlayer("u1"), fastTimings(), nil)
	guest := NewSession(coord, staticPlayer("u2"), fastTimings(), nil)
	defer host.Leave()
	defer guest.Leave()

	r, err := host.Host(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.ID, host.RoomID())
	outcomes := watchOutcomes(t, st, r.ID)

	_, err = guest.Join(ctx, r.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return current(host).Room.Started() && current(guest).Room.Started()
	}, 3*time.Second, 5*time.Millisecond, "host initializes once the guest is in")

	hv, gv := current(host), current(guest)
	assert.Equal(t, game.OutcomeCoinFlip, hv.Message.Outcome)
	assert.NotEqual(t, hv.MyTurn, gv.MyTurn, "exactly one player moves first")

	waiting := host
	if hv.MyTurn {
		waiting = guest
	}
	require.ErrorIs(t, waiting.Shoot(ctx, game.ShootOpponent), game.ErrNotYourTurn)

	playOut(t, host, guest)

	require.Eventually(t, func() bool {
		return current(host).Room.Status == game.StatusFinished &&
			current(guest).Room.Status == game.StatusFinished
	}, 3*time.Second, 5*time.Millisecond)

	final := current(host).Room
	require.NotEmpty(t, final.GameState.Winner)
	assert.Contains(t, []string{"Game over! You win!", "Game over! You lose!"}, current(host).Message.Text)
	assert.NotEqual(t, current(host).Message.Text, current(guest).Message.Text)

	assert.True(t, outcomes.has(game.Outcome.ReloadNeeded))
	assert.True(t, outcomes.has(func(o game.Outcome) bool { return o == game.OutcomeReloaded }))

	require.ErrorIs(t, host.Shoot(ctx, game.ShootSelf), game.ErrGameOver)
}

// slowSubscribeStore delays every subscription, so writes by the other player
// can land between a session's own write and its subscription.
type slowSubscribeStore struct {
	*store.MemoryStore
	delay time.Duration
}

func (s slowSubscribeStore) Subscribe(ctx context.Context, id string) (<-chan game.Room, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Subscribe(ctx, id)
}

func TestSession_JoinSeesStartCommittedBeforeSubscribing(t *testing.T) {
	ctx := context.Background()
	st := slowSubscribeStore{MemoryStore: store.NewMemoryStore(), delay: 30 * time.Millisecond}
	coord := room.NewCoordinator(st, game.NewSeededLoader(game.DefaultRules(), 5), nil)

	host := NewSession(coord, staticPlayer("u1"), fastTimings(), nil)
	guest := NewSession(coord, staticPlayer("u2"), fastTimings(), nil)
	defer host.Leave()
	defer guest.Leave()

	r, err := host.Host(ctx)
	require.NoError(t, err)
	_, err = guest.Join(ctx, r.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return current(guest).Room.Started()
	}, 2*time.Second, 5*time.Millisecond, "guest sees the opening state")

	stored, err := st.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Version, current(guest).Room.Version)
	assert.Equal(t, stored.Version, current(host).Room.Version)
}

func TestSession_JoinErrorsStayInLobby(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	coord := room.NewCoordinator(st, game.NewSeededLoader(game.DefaultRules(), 1), nil)

	s := NewSession(coord, staticPlayer("u3"), fastTimings(), nil)
	_, err := s.Join(ctx, "no-such-room")
	require.ErrorIs(t, err, game.ErrRoomNotFound)
	assert.True(t, game.LeavesRoom(err))
	assert.Empty(t, s.RoomID())

	anon := NewSession(coord, staticPlayer(""), fastTimings(), nil)
	_, err = anon.Host(ctx)
	require.ErrorIs(t, err, game.ErrAuthenticationRequired)

	require.ErrorIs(t, s.Shoot(ctx, game.ShootSelf), game.ErrRoomNotFound)
}

func TestSession_OpponentReloadsWhenShooterLeft(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	coord := room.NewCoordinator(st, game.NewSeededLoader(game.DefaultRules(), 3), nil)

	lazy := fastTimings()
	lazy.ReloadDelay = time.Hour
	host := NewSession(coord, staticPlayer("u1"), lazy, nil)
	guest := NewSession(coord, staticPlayer("u2"), fastTimings(), nil)
	defer guest.Leave()

	r, err := host.Host(ctx)
	require.NoError(t, err)
	_, err = guest.Join(ctx, r.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return current(guest).Room.Started() }, 3*time.Second, 5*time.Millisecond)

	// script a one-bullet chamber with the host to move
	cur, err := st.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	gs := game.Initial(cur.Players(), "u1", game.Load{Bullets: []game.Bullet{game.Fake}, Fake: 1}, 4, time.Now().UnixMilli())
	_, err = st.UpdateRoom(ctx, r.ID, 0, game.RoomPatch{GameState: &gs})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return current(host).CanShoot }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, host.Shoot(ctx, game.ShootSelf))
	host.Leave()

	require.Eventually(t, func() bool {
		v := current(guest)
		return v.Room.GameState != nil && v.Room.GameState.LastAction.Outcome == game.OutcomeReloaded
	}, 3*time.Second, 5*time.Millisecond, "guest falls back to reloading")

	after, err := st.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", after.GameState.CurrentTurn, "fake self shot kept the turn")
	assert.False(t, after.GameState.ReloadPending)
	assert.Equal(t, game.StatusPlaying, after.Status, "leaving does not touch shared state")
}

func TestSession_UpdatesDeliverViews(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	coord := room.NewCoordinator(st, game.NewSeededLoader(game.DefaultRules(), 9), nil)

	host := NewSession(coord, staticPlayer("u1"), fastTimings(), nil)
	defer host.Leave()

	r, err := host.Host(ctx)
	require.NoError(t, err)

	select {
	case v := <-host.Updates():
		assert.Equal(t, r.ID, v.Room.ID)
		assert.Equal(t, game.StatusWaiting, v.Room.Status)
	case <-time.After(time.Second):
		t.Fatal("no view after hosting")
	}
}
