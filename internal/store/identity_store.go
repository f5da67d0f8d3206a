package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrIdentityNotFound = errors.New("identity not found")

// Identity is an anonymous player. The refresh secret is only ever stored as
// a bcrypt hash.
type Identity struct {
	ID          string
	RefreshHash string
	CreatedAt   time.Time
	LastSeenAt  time.Time
}

type IdentityStore struct {
	db *pgxpool.Pool
}

func NewIdentityStore(db *pgxpool.Pool) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) Create(ctx context.Context, id Identity) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO identities (id, refresh_hash)
		 VALUES ($1, $2)`,
		id.ID, id.RefreshHash,
	)
	return err
}

func (s *IdentityStore) GetByID(ctx context.Context, id string) (Identity, error) {
	var it Identity
	err := s.db.QueryRow(ctx,
		`SELECT id, refresh_hash, created_at, last_seen_at
		 FROM identities WHERE id = $1`,
		id,
	).Scan(&it.ID, &it.RefreshHash, &it.CreatedAt, &it.LastSeenAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	return it, nil
}

func (s *IdentityStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE identities SET last_seen_at = now() WHERE id = $1`, id)
	return err
}
