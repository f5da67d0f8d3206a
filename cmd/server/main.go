package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"example.com/roulette/internal/app"
	"example.com/roulette/internal/config"
	"example.com/roulette/internal/logging"
	"example.com/roulette/internal/migrate"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.RunMigrations {
		if err := migrate.Up(cfg.Postgres.URL, cfg.Postgres.MigrationsDir, log.Named("migrate")); err != nil {
			return err
		}
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Info("roulette backend up",
		zap.String("env", cfg.Env),
		zap.String("room_backend", cfg.RoomBackend),
	)
	return a.Run(ctx)
}
