package migrate

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Up applies all pending migrations from dir.
//
// It returns an error (no log.Fatal) so the caller can decide how to handle it.
func Up(dbURL, dir string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("migrations: open db: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("migrations: close db", zap.Error(err))
		}
	}()

	goose.SetLogger(zap.NewStdLog(log.Named("goose")))
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}

	before, err := goose.GetDBVersion(db)
	if err != nil {
		before = 0
	}

	log.Info("running database migrations", zap.String("dir", dir), zap.Int64("from_version", before))
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("migrations: goose up: %w", err)
	}

	after, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("migrations: read version: %w", err)
	}
	log.Info("database migrations applied", zap.Int64("version", after))
	return nil
}
