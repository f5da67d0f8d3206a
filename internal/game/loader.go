package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultInitialLives = 4
	DefaultMinBullets   = 3
	DefaultMaxBullets   = 7
)

// Rules are the tunable numbers of a game.
type Rules struct {
	InitialLives int
	MinBullets   int
	MaxBullets   int
}

func DefaultRules() Rules {
	return Rules{
		InitialLives: DefaultInitialLives,
		MinBullets:   DefaultMinBullets,
		MaxBullets:   DefaultMaxBullets,
	}
}

func (r Rules) Validate() error {
	if r.InitialLives < 1 {
		return errors.New("initial lives must be at least 1")
	}
	// one real and one fake per load needs room for two
	if r.MinBullets < 2 {
		return fmt.Errorf("min bullets must be at least 2, got %d", r.MinBullets)
	}
	if r.MaxBullets < r.MinBullets {
		return fmt.Errorf("max bullets (%d) below min bullets (%d)", r.MaxBullets, r.MinBullets)
	}
	return nil
}

// Load is one freshly loaded chamber.
type Load struct {
	Bullets []Bullet
	Real    int
	Fake    int
}

func (l Load) Count() BulletCount {
	return BulletCount{Real: l.Real, Fake: l.Fake}
}

// Loader draws chamber loads and coin flips. Safe for concurrent use.
type Loader struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	rules Rules
}

func NewLoader(rules Rules, src rand.Source) *Loader {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>1|1)
	}
	return &Loader{rnd: rand.New(src), rules: rules}
}

// NewSeededLoader is a deterministic loader, handy for tests and replays.
func NewSeededLoader(rules Rules, seed uint64) *Loader {
	return NewLoader(rules, rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (l *Loader) Rules() Rules {
	return l.rules
}

// Load draws total in [MinBullets, MaxBullets], real in [1, total-1] and
// shuffles the sequence.
func (l *Loader) Load() Load {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.rules.MinBullets + l.rnd.IntN(l.rules.MaxBullets-l.rules.MinBullets+1)
	reals := 1 + l.rnd.IntN(total-1)
	fakes := total - reals

	bullets := make([]Bullet, 0, total)
	for i := 0; i < reals; i++ {
		bullets = append(bullets, Real)
	}
	for i := 0; i < fakes; i++ {
		bullets = append(bullets, Fake)
	}

	// Fisher-Yates
	for i := len(bullets) - 1; i > 0; i-- {
		j := l.rnd.IntN(i + 1)
		bullets[i], bullets[j] = bullets[j], bullets[i]
	}

	return Load{Bullets: bullets, Real: reals, Fake: fakes}
}

// CoinFlip returns a or b with equal probability.
func (l *Loader) CoinFlip(a, b string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rnd.IntN(2) == 0 {
		return a
	}
	return b
}
