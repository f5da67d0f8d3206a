package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PlayerStats struct {
	UserID    string
	Wins      int
	Losses    int
	UpdatedAt time.Time
}

type StatsStore struct {
	db *pgxpool.Pool
}

func NewStatsStore(db *pgxpool.Pool) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) InitForUser(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO player_stats (user_id, wins, losses)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (s *StatsStore) Get(ctx context.Context, userID string) (PlayerStats, error) {
	var st PlayerStats
	err := s.db.QueryRow(ctx, `
		SELECT user_id, wins, losses, updated_at
		FROM player_stats
		WHERE user_id=$1
	`, userID).Scan(&st.UserID, &st.Wins, &st.Losses, &st.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// no finished games yet
		return PlayerStats{UserID: userID}, nil
	}
	if err != nil {
		return PlayerStats{}, err
	}
	return st, nil
}

// RecordResult credits a win and a loss for one finished room, once. The
// room id is remembered in finished_rooms so a replayed finish is ignored.
func (s *StatsStore) RecordResult(ctx context.Context, roomID, winnerID, loserID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO finished_rooms (room_id, winner_id, loser_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id) DO NOTHING
	`, roomID, winnerID, loserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO player_stats (user_id, wins, losses) VALUES ($1, 1, 0)
		ON CONFLICT (user_id) DO UPDATE SET wins = player_stats.wins + 1, updated_at = now()
	`, winnerID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO player_stats (user_id, wins, losses) VALUES ($1, 0, 1)
		ON CONFLICT (user_id) DO UPDATE SET losses = player_stats.losses + 1, updated_at = now()
	`, loserID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
