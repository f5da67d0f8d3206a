package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/roulette/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRoomStoreSuite checks the RoomStore contract. Every implementation runs
// it: the memory store always, Redis and Postgres under the integration tag.
func runRoomStoreSuite(t *testing.T, newStore func(t *testing.T) RoomStore) {
	cases := []struct {
		name string
		run  func(t *testing.T, s RoomStore)
	}{
		{
			name: "create assigns id and version",
			run: func(t *testing.T, s RoomStore) {
				ctx := context.Background()
				r, err := s.CreateRoom(ctx, game.Room{Player1ID: "u1", Status: game.StatusWaiting})
				require.NoError(t, err)

				assert.NotEmpty(t, r.ID)
				assert.Equal(t, int64(1), r.Version)
				assert.Equal(t, "u1", r.Player1ID)
				assert.Nil(t, r.GameState)

				got, err := s.GetRoom(ctx, r.ID)
				require.NoError(t, err)
				assert.Equal(t, r.ID, got.ID)
				assert.Equal(t, game.StatusWaiting, got.Status)
			},
		},
		{
			name: "unknown room",
			run: func(t *testing.T, s RoomStore) {
				ctx := context.Background()
				_, err := s.GetRoom(ctx, "5b1f7d3e-0000-4000-8000-000000000000")
				require.ErrorIs(t, err, ErrNotFound)

				_, err = s.UpdateRoom(ctx, "not-a-room", 0, game.RoomPatch{})
				require.ErrorIs(t, err, ErrNotFound)

				_, err = s.Subscribe(ctx, "5b1f7d3e-0000-4000-8000-000000000000")
				require.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name: "update applies patch and bumps version",
			run: func(t *testing.T, s RoomStore) {
				ctx := context.Background()
				r, err := s.CreateRoom(ctx, game.Room{Player1ID: "u1", Status: game.StatusWaiting})
				require.NoError(t, err)

				p2 := "u2"
				playing := game.StatusPlaying
				up, err := s.UpdateRoom(ctx, r.ID, r.Version, game.RoomPatch{Player2ID: &p2, Status: &playing})
				require.NoError(t, err)
				assert.Equal(t, int64(2), up.Version)
				assert.Equal(t, "u2", up.Player2ID)
				assert.Equal(t, game.StatusPlaying, up.Status)

				gs := game.Initial(up.Players(), "u2", game.Load{Bullets: []game.Bullet{game.Real, game.Fake}, Real: 1, Fake: 1}, 4, 10)
				up2, err := s.UpdateRoom(ctx, r.ID, up.Version, game.RoomPatch{GameState: &gs})
				require.NoError(t, err)
				require.NotNil(t, up2.GameState)
				assert.Equal(t, int64(3), up2.Version)
				assert.Equal(t, "u2", up2.Player2ID, "unpatched fields survive")
				assert.Equal(t, gs.Bullets, up2.GameState.Bullets)
				assert.Equal(t, game.OutcomeCoinFlip, up2.GameState.LastAction.Outcome)
			},
		},
		{
			name: "stale version conflicts, zero version always wins",
			run: func(t *testing.T, s RoomStore) {
				ctx := context.Background()
				r, err := s.CreateRoom(ctx, game.Room{Player1ID: "u1", Status: game.StatusWaiting})
				require.NoError(t, err)

				p2 := "u2"
				playing := game.StatusPlaying
				_, err = s.UpdateRoom(ctx, r.ID, r.Version, game.RoomPatch{Player2ID: &p2, Status: &playing})
				require.NoError(t, err)

				p3 := "u3"
				_, err = s.UpdateRoom(ctx, r.ID, r.Version, game.RoomPatch{Player2ID: &p3})
				require.ErrorIs(t, err, ErrVersionConflict)

				finished := game.StatusFinished
				up, err := s.UpdateRoom(ctx, r.ID, 0, game.RoomPatch{Status: &finished})
				require.NoError(t, err)
				assert.Equal(t, game.StatusFinished, up.Status)
				assert.Equal(t, "u2", up.Player2ID)
			},
		},
		{
			name: "concurrent updates at the same version: one wins",
			run: func(t *testing.T, s RoomStore) {
				ctx := context.Background()
				r, err := s.CreateRoom(ctx, game.Room{Player1ID: "u1", Status: game.StatusWaiting})
				require.NoError(t, err)

				var (
					wg        sync.WaitGroup
					mu        sync.Mutex
					wins      int
					conflicts int
				)
				for _, id := range []string{"a", "b", "c", "d"} {
					wg.Add(1)
					go func(id string) {
						defer wg.Done()
						playing := game.StatusPlaying
						_, err := s.UpdateRoom(ctx, r.ID, r.Version, game.RoomPatch{Player2ID: &id, Status: &playing})
						mu.Lock()
						defer mu.Unlock()
						switch {
						case err == nil:
							wins++
						case assert.ErrorIs(t, err, ErrVersionConflict):
							conflicts++
						}
					}(id)
				}
				wg.Wait()

				assert.Equal(t, 1, wins)
				assert.Equal(t, 3, conflicts)
			},
		},
		{
			name: "subscribers see every committed update",
			run: func(t *testing.T, s RoomStore) {
				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()

				r, err := s.CreateRoom(ctx, game.Room{Player1ID: "u1", Status: game.StatusWaiting})
				require.NoError(t, err)

				a, err := s.Subscribe(ctx, r.ID)
				require.NoError(t, err)
				b, err := s.Subscribe(ctx, r.ID)
				require.NoError(t, err)

				p2 := "u2"
				playing := game.StatusPlaying
				_, err = s.UpdateRoom(ctx, r.ID, r.Version, game.RoomPatch{Player2ID: &p2, Status: &playing})
				require.NoError(t, err)

				for _, ch := range []<-chan game.Room{a, b} {
					select {
					case got := <-ch:
						assert.Equal(t, int64(2), got.Version)
						assert.Equal(t, "u2", got.Player2ID)
					case <-time.After(3 * time.Second):
						t.Fatal("no update delivered")
					}
				}

				cancel()
				for _, ch := range []<-chan game.Room{a, b} {
					require.Eventually(t, func() bool {
						select {
						case _, ok := <-ch:
							return !ok
						default:
							return false
						}
					}, 3*time.Second, 10*time.Millisecond, "channel not closed after cancel")
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, newStore(t))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	runRoomStoreSuite(t, func(t *testing.T) RoomStore { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r, err := s.CreateRoom(ctx, game.Room{Player1ID: "u1", Status: game.StatusWaiting})
	require.NoError(t, err)

	gs := game.GameState{Bullets: []game.Bullet{game.Real}, GameStarted: true}
	up, err := s.UpdateRoom(ctx, r.ID, 0, game.RoomPatch{GameState: &gs})
	require.NoError(t, err)

	gs.Bullets[0] = game.Fake
	up.GameState.Bullets[0] = game.Fake

	got, err := s.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, game.Real, got.GameState.Bullets[0])
}
