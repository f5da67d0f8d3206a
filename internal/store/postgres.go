package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/roulette/internal/game"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const roomChangesChannel = "room_changes"

var errStoreClosed = errors.New("room store closed")

// PostgresStore keeps rooms in the rooms table. Every write notifies
// room_changes with the room id inside the same transaction. A single
// listener connection, opened outside the pool, re-reads each notified room
// and fans it out to that room's subscribers, so open subscriptions never
// hold pooled connections.
type PostgresStore struct {
	db  *pgxpool.Pool
	log *zap.Logger

	reconnectBase time.Duration

	mu           sync.Mutex
	subs         map[string]map[chan game.Room]struct{}
	stopListener context.CancelFunc
	listenerDone chan struct{}
	closed       bool
}

func NewPostgresStore(db *pgxpool.Pool, log *zap.Logger) *PostgresStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresStore{
		db:            db,
		log:           log,
		reconnectBase: 200 * time.Millisecond,
		subs:          make(map[string]map[chan game.Room]struct{}),
	}
}

const roomColumns = `id::text, player1_id, coalesce(player2_id, ''), status, game_state, version, created_at, updated_at`

func (s *PostgresStore) CreateRoom(ctx context.Context, r game.Room) (game.Room, error) {
	r.ID = uuid.NewString()
	gs, err := encodeState(r.GameState)
	if err != nil {
		return game.Room{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return game.Room{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO rooms (id, player1_id, player2_id, status, game_state, version)
		VALUES ($1, $2, nullif($3, ''), $4, $5, 1)
		RETURNING `+roomColumns,
		r.ID, r.Player1ID, r.Player2ID, string(r.Status), gs,
	)
	created, err := scanRoom(row)
	if err != nil {
		return game.Room{}, fmt.Errorf("insert room: %w", err)
	}

	if err := notify(ctx, tx, created.ID); err != nil {
		return game.Room{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return game.Room{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (game.Room, error) {
	if _, err := uuid.Parse(id); err != nil {
		// not a uuid column value, cannot exist
		return game.Room{}, ErrNotFound
	}
	r, err := scanRoom(s.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Room{}, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) UpdateRoom(ctx context.Context, id string, expectedVersion int64, patch game.RoomPatch) (game.Room, error) {
	if _, err := uuid.Parse(id); err != nil {
		return game.Room{}, ErrNotFound
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return game.Room{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Room{}, ErrNotFound
	}
	if err != nil {
		return game.Room{}, err
	}
	if err := checkVersion(cur.Version, expectedVersion); err != nil {
		return game.Room{}, err
	}

	next := patch.Apply(cur)
	gs, err := encodeState(next.GameState)
	if err != nil {
		return game.Room{}, err
	}

	updated, err := scanRoom(tx.QueryRow(ctx, `
		UPDATE rooms
		SET player2_id = nullif($2, ''), status = $3, game_state = $4,
		    version = version + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+roomColumns,
		id, next.Player2ID, string(next.Status), gs,
	))
	if err != nil {
		return game.Room{}, fmt.Errorf("update room: %w", err)
	}

	if err := notify(ctx, tx, id); err != nil {
		return game.Room{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return game.Room{}, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// Subscribe registers with the store's listener. The first subscription opens
// it: one connection outside the pool, shared by every room.
func (s *PostgresStore) Subscribe(ctx context.Context, id string) (<-chan game.Room, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	if err := s.startListener(ctx); err != nil {
		return nil, err
	}

	ch := make(chan game.Room, subscriberBuffer)
	s.mu.Lock()
	set, ok := s.subs[id]
	if !ok {
		set = make(map[chan game.Room]struct{})
		s.subs[id] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	if _, err := s.GetRoom(ctx, id); err != nil {
		s.unsubscribe(id, ch)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		s.unsubscribe(id, ch)
	}()
	return ch, nil
}

// Close stops the listener and closes every open subscription. The pool is
// owned by the caller.
func (s *PostgresStore) Close() {
	s.mu.Lock()
	s.closed = true
	stop, stopped := s.stopListener, s.listenerDone
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-stopped
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, set := range s.subs {
		for ch := range set {
			close(ch)
		}
		delete(s.subs, id)
	}
}

func (s *PostgresStore) unsubscribe(id string, ch chan game.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subs[id]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(s.subs, id)
	}
	close(ch)
}

func (s *PostgresStore) startListener(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	if s.stopListener != nil {
		return nil
	}

	conn, err := s.connectListener(ctx)
	if err != nil {
		return err
	}
	lctx, cancel := context.WithCancel(context.Background())
	s.stopListener = cancel
	s.listenerDone = make(chan struct{})
	go s.listen(lctx, conn)
	return nil
}

func (s *PostgresStore) connectListener(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, s.db.Config().ConnConfig)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+roomChangesChannel); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen: %w", err)
	}
	return conn, nil
}

// listen forwards notifications until ctx ends. A lost connection is
// re-established with backoff; every subscribed room is then re-read, since
// notifications sent in between are gone.
func (s *PostgresStore) listen(ctx context.Context, conn *pgx.Conn) {
	defer close(s.listenerDone)

	for {
		err := s.forward(ctx, conn)
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Close(closeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("room listener lost, reconnecting", zap.Error(err))

		b := retry.WithCappedDuration(10*time.Second, retry.NewExponential(s.reconnectBase))
		err = retry.Do(ctx, b, func(ctx context.Context) error {
			c, err := s.connectListener(ctx)
			if err != nil {
				s.log.Debug("room listener reconnect failed", zap.Error(err))
				return retry.RetryableError(err)
			}
			conn = c
			return nil
		})
		if err != nil {
			return
		}
		s.log.Info("room listener reconnected")

		for _, id := range s.subscribedRooms() {
			s.refresh(ctx, id)
		}
	}
}

func (s *PostgresStore) forward(ctx context.Context, conn *pgx.Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.refresh(ctx, n.Payload)
	}
}

// refresh reads a notified room once and hands it to all its subscribers.
func (s *PostgresStore) refresh(ctx context.Context, id string) {
	s.mu.Lock()
	_, watched := s.subs[id]
	s.mu.Unlock()
	if !watched {
		return
	}

	r, err := s.GetRoom(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("reload notified room", zap.String("room", id), zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[id] {
		select {
		case ch <- r:
		default:
			s.log.Debug("slow room subscriber, update dropped", zap.String("room", id))
		}
	}
}

func (s *PostgresStore) subscribedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}

func notify(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, roomChangesChannel, id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func scanRoom(row pgx.Row) (game.Room, error) {
	var (
		r      game.Room
		status string
		state  []byte
	)
	err := row.Scan(&r.ID, &r.Player1ID, &r.Player2ID, &status, &state, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return game.Room{}, err
	}
	r.Status = game.Status(status)
	if len(state) > 0 {
		var gs game.GameState
		if err := json.Unmarshal(state, &gs); err != nil {
			return game.Room{}, fmt.Errorf("decode game_state: %w", err)
		}
		r.GameState = &gs
	}
	return r, nil
}

func encodeState(gs *game.GameState) ([]byte, error) {
	if gs == nil {
		return nil, nil
	}
	return json.Marshal(gs)
}
