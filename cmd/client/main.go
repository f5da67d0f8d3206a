package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"example.com/roulette/internal/client"
	"example.com/roulette/internal/config"
	"example.com/roulette/internal/game"
	"example.com/roulette/internal/logging"
	"example.com/roulette/internal/room"
	"github.com/joho/godotenv"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errQuit = errors.New("quit")

func main() {
	if err := run(); err != nil && !errors.Is(err, errQuit) {
		fmt.Fprintln(os.Stderr, "client:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	rules := game.Rules{InitialLives: cfg.InitialLives, MinBullets: cfg.MinBullets, MaxBullets: cfg.MaxBullets}
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ident := client.NewIdentity(cfg.ServerURL, nil)
	if err := ident.SignIn(ctx); err != nil {
		return fmt.Errorf("sign in at %s: %w", cfg.ServerURL, err)
	}
	log.Info("signed in", zap.String("user", ident.ID()))

	rooms := client.NewRemoteStore(cfg.ServerURL, nil, ident, log.Named("remote"))
	coord := room.NewCoordinator(rooms, game.NewLoader(rules, nil), log.Named("room"))
	sess := client.NewSession(coord, ident, client.Timings{
		ReloadDelay:    cfg.ReloadDelay,
		ReloadFallback: cfg.ReloadFallback,
		RevealWindow:   cfg.RevealWindow,
	}, log.Named("session"))
	defer sess.Leave()

	ui := &terminal{out: os.Stdout, sess: sess}
	ui.println("Signed in. Commands: host | join <key> | self | opp | leave | quit")

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case v := <-sess.Updates():
				ui.render(v)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := ui.handle(gctx, line); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

type terminal struct {
	out  io.Writer
	sess *client.Session
}

func (t *terminal) println(a ...any) {
	fmt.Fprintln(t.out, a...)
}

func (t *terminal) handle(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "host":
		r, err := t.sess.Host(ctx)
		if err != nil {
			t.println("could not host:", err)
			return nil
		}
		t.println("Room key:", r.ID)
		if q, err := qrcode.New(r.ID, qrcode.Medium); err == nil {
			t.println(q.ToSmallString(false))
		}
		t.println("Waiting for an opponent...")

	case "join":
		if len(fields) < 2 {
			t.println("usage: join <key>")
			return nil
		}
		if _, err := t.sess.Join(ctx, fields[1]); err != nil {
			if game.LeavesRoom(err) {
				t.println("back in the lobby:", err)
			} else {
				t.println("could not join:", err)
			}
		}

	case "self", "opp":
		action := game.ShootSelf
		if fields[0] == "opp" {
			action = game.ShootOpponent
		}
		if err := t.sess.Shoot(ctx, action); err != nil {
			t.println(err)
		}

	case "leave":
		t.sess.Leave()
		t.println("Left the room.")

	case "quit", "exit":
		return errQuit

	default:
		t.println("Commands: host | join <key> | self | opp | leave | quit")
	}
	return nil
}

func (t *terminal) render(v client.View) {
	if v.Notice != "" {
		t.println("!", v.Notice)
		return
	}

	r := v.Room
	switch {
	case r.Status == game.StatusWaiting:
		t.println("Room", r.ID, "is waiting for a second player.")
		return
	case r.GameState == nil:
		t.println("Opponent joined, loading the chamber...")
		return
	}

	if v.Message.Text != "" {
		t.println(v.Message.Text)
	}
	t.println(fmt.Sprintf("  you: %d  opponent: %d", v.MyLives, v.OpponentLives))
	if v.Revealing {
		t.println(fmt.Sprintf("  chamber: %d real, %d fake", v.Bullets.Real, v.Bullets.Fake))
	}
	switch {
	case r.Status == game.StatusFinished:
		t.println("  type host or join <key> to play again")
	case v.CanShoot:
		t.println("  your turn: self | opp")
	}
}
