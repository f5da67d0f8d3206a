package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/roulette/internal/game"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps each room as JSON under room:<id> and fans changes out
// over PUBLISH room:<id>:changes. The TTL is the room retention policy; it is
// refreshed on every write.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger

	// maxTxRetries bounds WATCH retries when another writer touches the key
	// between our read and EXEC.
	maxTxRetries int
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, ttl: ttl, log: log, maxTxRetries: 8}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("room:%s", id)
}

func (s *RedisStore) channel(id string) string {
	return fmt.Sprintf("room:%s:changes", id)
}

func (s *RedisStore) CreateRoom(ctx context.Context, r game.Room) (game.Room, error) {
	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	b, err := json.Marshal(r)
	if err != nil {
		return game.Room{}, err
	}

	ok, err := s.rdb.SetNX(ctx, s.key(r.ID), b, s.ttl).Result()
	if err != nil {
		return game.Room{}, err
	}
	if !ok {
		return game.Room{}, fmt.Errorf("room id collision: %s", r.ID)
	}

	s.publish(ctx, r.ID, b)
	return r, nil
}

func (s *RedisStore) GetRoom(ctx context.Context, id string) (game.Room, error) {
	val, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return game.Room{}, ErrNotFound
	}
	if err != nil {
		return game.Room{}, err
	}

	var r game.Room
	if err := json.Unmarshal(val, &r); err != nil {
		return game.Room{}, err
	}
	return r, nil
}

func (s *RedisStore) UpdateRoom(ctx context.Context, id string, expectedVersion int64, patch game.RoomPatch) (game.Room, error) {
	key := s.key(id)
	var (
		updated game.Room
		payload []byte
	)

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var cur game.Room
		if err := json.Unmarshal(val, &cur); err != nil {
			return err
		}
		if err := checkVersion(cur.Version, expectedVersion); err != nil {
			return err
		}

		next := patch.Apply(cur)
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC()

		b, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated, payload = next, b
		return nil
	}

	for i := 0; i < s.maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// key changed under us; with a version precondition that is a
			// conflict, without one just try again
			if expectedVersion != 0 {
				return game.Room{}, ErrVersionConflict
			}
			continue
		}
		if err != nil {
			return game.Room{}, err
		}

		s.publish(ctx, id, payload)
		return updated, nil
	}
	return game.Room{}, ErrVersionConflict
}

func (s *RedisStore) Subscribe(ctx context.Context, id string) (<-chan game.Room, error) {
	ps := s.rdb.Subscribe(ctx, s.channel(id))
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	n, err := s.rdb.Exists(ctx, s.key(id)).Result()
	if err == nil && n == 0 {
		err = ErrNotFound
	}
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan game.Room, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var r game.Room
				if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
					s.log.Warn("bad room payload on channel", zap.String("room", id), zap.Error(err))
					continue
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) publish(ctx context.Context, id string, payload []byte) {
	if err := s.rdb.Publish(ctx, s.channel(id), payload).Err(); err != nil {
		// the write is committed; subscribers will catch up on the next one
		s.log.Warn("publish room change", zap.String("room", id), zap.Error(err))
	}
}
