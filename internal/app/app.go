package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/roulette/internal/auth"
	"example.com/roulette/internal/config"
	"example.com/roulette/internal/httpapi"
	"example.com/roulette/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg config.Config
	log *zap.Logger

	db      *pgxpool.Pool
	rdb     *redis.Client
	pgRooms *store.PostgresStore

	srv *http.Server
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// --- Postgres ---
	dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	a := &App{cfg: cfg, log: log, db: dbpool}

	// --- Rooms ---
	var rooms store.RoomStore
	switch cfg.RoomBackend {
	case "redis":
		a.rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err := a.rdb.Ping(pingCtx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
		}
		rooms = store.NewRedisStore(a.rdb, cfg.Redis.RoomTTL, log.Named("rooms"))
	case "postgres":
		a.pgRooms = store.NewPostgresStore(dbpool, log.Named("rooms"))
		rooms = a.pgRooms
	case "memory":
		rooms = store.NewMemoryStore()
	default:
		_ = a.Close()
		return nil, fmt.Errorf("unknown room backend %q", cfg.RoomBackend)
	}
	log.Info("room store ready", zap.String("backend", cfg.RoomBackend))

	handler := httpapi.NewRouter(httpapi.Deps{
		Rooms:      rooms,
		Identities: store.NewIdentityStore(dbpool),
		Stats:      store.NewStatsStore(dbpool),
		Auth:       auth.NewService([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL),
		Log:        log.Named("http"),
	})

	a.srv = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", zap.String("addr", a.cfg.HTTP.Addr))

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		return a.srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cerr := a.Close(); cerr != nil {
		a.log.Warn("close resources", zap.Error(cerr))
	}
	return err
}

func (a *App) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.pgRooms != nil {
		a.pgRooms.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return errors.Join(errs...)
}
