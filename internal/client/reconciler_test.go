package client

import (
	"sync/atomic"
	"testing"
	"time"

	"example.com/roulette/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedRoom(version int64, ts int64) game.Room {
	r := game.Room{ID: "r1", Player1ID: "u1", Player2ID: "u2", Status: game.StatusPlaying, Version: version}
	gs := game.Initial(r.Players(), "u1", game.Load{Bullets: []game.Bullet{game.Real, game.Fake}, Real: 1, Fake: 1}, 4, ts)
	r.GameState = &gs
	return r
}

func TestReconciler_DropsStaleVersions(t *testing.T) {
	rec := NewReconciler("u1", time.Hour, nil)
	defer rec.Stop()

	_, ok := rec.Observe(game.Room{ID: "r1", Player1ID: "u1", Status: game.StatusWaiting, Version: 1})
	require.True(t, ok)

	v, ok := rec.Observe(startedRoom(3, 100))
	require.True(t, ok)
	assert.Equal(t, "Coin flip: You go first!", v.Message.Text)

	_, ok = rec.Observe(startedRoom(3, 100))
	assert.False(t, ok, "duplicate delivery")

	_, ok = rec.Observe(game.Room{ID: "r1", Player1ID: "u1", Player2ID: "u2", Status: game.StatusPlaying, Version: 2})
	assert.False(t, ok, "late echo of an older write")

	assert.Equal(t, int64(3), rec.Latest().Room.Version)
}

func TestReconciler_View(t *testing.T) {
	r := startedRoom(2, 100)
	next, err := game.Resolve(*r.GameState, r.Players(), "u1", game.ShootOpponent, 200)
	require.NoError(t, err)
	r.GameState, r.Version = &next, 3

	me := NewReconciler("u1", time.Hour, nil)
	defer me.Stop()
	them := NewReconciler("u2", time.Hour, nil)
	defer them.Stop()

	mv, ok := me.Observe(r)
	require.True(t, ok)
	tv, ok := them.Observe(r)
	require.True(t, ok)

	assert.Equal(t, "You shot your opponent with a REAL bullet! Their health is now 3. Opponent's turn.", mv.Message.Text)
	assert.Equal(t, "Your opponent shot you with a REAL bullet! Your health is now 3. It's your turn.", tv.Message.Text)

	assert.Equal(t, 4, mv.MyLives)
	assert.Equal(t, 3, mv.OpponentLives)
	assert.False(t, mv.MyTurn)
	assert.False(t, mv.CanShoot)

	assert.Equal(t, 3, tv.MyLives)
	assert.True(t, tv.MyTurn)
	assert.True(t, tv.CanShoot)
	assert.Equal(t, game.BulletCount{Real: 1, Fake: 1}, tv.Bullets)
}

func TestReconciler_RevealWindow(t *testing.T) {
	var closed atomic.Int32
	rec := NewReconciler("u2", 30*time.Millisecond, func(v View) {
		assert.False(t, v.Revealing)
		closed.Add(1)
	})
	defer rec.Stop()

	v, ok := rec.Observe(startedRoom(2, 100))
	require.True(t, ok)
	assert.True(t, v.Revealing, "coin flip opens the window")

	require.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, rec.Latest().Revealing)

	r := startedRoom(3, 100)
	shot, err := game.Resolve(*r.GameState, r.Players(), "u1", game.ShootSelf, 150)
	require.NoError(t, err)
	r.GameState = &shot
	v, ok = rec.Observe(r)
	require.True(t, ok)
	assert.False(t, v.Revealing, "shots do not reveal")
}

func TestReconciler_NewRevealOutlivesOldTimer(t *testing.T) {
	var closed atomic.Int32
	rec := NewReconciler("u1", 80*time.Millisecond, func(View) { closed.Add(1) })
	defer rec.Stop()

	_, ok := rec.Observe(startedRoom(2, 100))
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	r := startedRoom(3, 100)
	reloaded := game.Reloaded(*r.GameState, game.Load{Bullets: []game.Bullet{game.Fake, game.Real}, Real: 1, Fake: 1}, 300)
	r.GameState = &reloaded
	v, ok := rec.Observe(r)
	require.True(t, ok)
	assert.True(t, v.Revealing)
	assert.Equal(t, "Bullets reloaded! Real: 1, Fake: 1.", v.Message.Text)

	// the first window would have closed by now
	time.Sleep(50 * time.Millisecond)
	assert.True(t, rec.Latest().Revealing)
	assert.Zero(t, closed.Load())

	require.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReconciler_StopCancelsReveal(t *testing.T) {
	var closed atomic.Int32
	rec := NewReconciler("u1", 20*time.Millisecond, func(View) { closed.Add(1) })

	_, ok := rec.Observe(startedRoom(2, 100))
	require.True(t, ok)
	rec.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, closed.Load())
}
