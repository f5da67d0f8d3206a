package store

import (
	"context"
	"sync"
	"time"

	"example.com/roulette/internal/game"
	"github.com/google/uuid"
)

// MemoryStore keeps rooms in process. Used by tests and ROOM_BACKEND=memory.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]game.Room
	subs  map[string]map[chan game.Room]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]game.Room),
		subs:  make(map[string]map[chan game.Room]struct{}),
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, r game.Room) (game.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	r = cloneRoom(r)
	s.rooms[r.ID] = r

	s.publishLocked(r)
	return cloneRoom(r), nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, id string) (game.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return game.Room{}, ErrNotFound
	}
	return cloneRoom(r), nil
}

func (s *MemoryStore) UpdateRoom(ctx context.Context, id string, expectedVersion int64, patch game.RoomPatch) (game.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return game.Room{}, ErrNotFound
	}
	if err := checkVersion(r.Version, expectedVersion); err != nil {
		return game.Room{}, err
	}

	r = patch.Apply(r)
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	s.rooms[id] = r

	s.publishLocked(r)
	return cloneRoom(r), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, id string) (<-chan game.Room, error) {
	ch := make(chan game.Room, subscriberBuffer)

	s.mu.Lock()
	if _, ok := s.rooms[id]; !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	set, ok := s.subs[id]
	if !ok {
		set = make(map[chan game.Room]struct{})
		s.subs[id] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[id], ch)
		if len(s.subs[id]) == 0 {
			delete(s.subs, id)
		}
		close(ch)
	}()

	return ch, nil
}

// Delete drops a room; subscribers stay registered until they cancel.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

func (s *MemoryStore) publishLocked(r game.Room) {
	for ch := range s.subs[r.ID] {
		select {
		case ch <- cloneRoom(r):
		default:
			// slow subscriber: drop, the next update carries the full room anyway
		}
	}
}

func cloneRoom(r game.Room) game.Room {
	if r.GameState != nil {
		gs := r.GameState.Clone()
		r.GameState = &gs
	}
	return r
}
