package client

import (
	"sync"
	"time"

	"example.com/roulette/internal/game"
)

// View is what one player is shown for the latest observed room.
type View struct {
	Room          game.Room
	Message       game.Message
	MyLives       int
	OpponentLives int
	Bullets       game.BulletCount
	MyTurn        bool
	CanShoot      bool
	Revealing     bool
	Notice        string
}

// Reconciler turns pushed rooms into views for one viewer. Rooms at or below
// the last observed version are dropped, so duplicates and the echo of our
// own writes never move the view backwards.
type Reconciler struct {
	viewer   string
	window   time.Duration
	onChange func(View)

	mu          sync.Mutex
	lastVersion int64
	lastActTS   int64
	revealing   bool
	revealToken uint64
	revealTimer *time.Timer
	room        game.Room
	observed    bool
}

// NewReconciler builds a reconciler for viewer. onChange, if set, is called
// from the timer goroutine when the reveal window closes.
func NewReconciler(viewer string, window time.Duration, onChange func(View)) *Reconciler {
	return &Reconciler{viewer: viewer, window: window, onChange: onChange}
}

// Observe feeds one room. It reports false when the room is not newer than
// what was already observed.
func (r *Reconciler) Observe(room game.Room) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.observed && room.Version <= r.lastVersion {
		return View{}, false
	}
	r.observed = true
	r.lastVersion = room.Version
	r.room = room

	if gs := room.GameState; gs != nil && gs.LastAction != nil && gs.LastAction.Timestamp != r.lastActTS {
		r.lastActTS = gs.LastAction.Timestamp
		if gs.LastAction.Outcome.Reveals() {
			r.openRevealLocked()
		}
	}
	return r.viewLocked(), true
}

// Latest is the view of the newest observed room.
func (r *Reconciler) Latest() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// Stop cancels a pending reveal timer.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revealToken++
	if r.revealTimer != nil {
		r.revealTimer.Stop()
		r.revealTimer = nil
	}
}

func (r *Reconciler) openRevealLocked() {
	r.revealing = true
	r.revealToken++
	token := r.revealToken

	if r.revealTimer != nil {
		r.revealTimer.Stop()
	}
	r.revealTimer = time.AfterFunc(r.window, func() {
		r.closeReveal(token)
	})
}

func (r *Reconciler) closeReveal(token uint64) {
	r.mu.Lock()
	if token != r.revealToken {
		// a newer reveal replaced this one, or Stop ran
		r.mu.Unlock()
		return
	}
	r.revealing = false
	r.revealTimer = nil
	v := r.viewLocked()
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(v)
	}
}

func (r *Reconciler) viewLocked() View {
	v := View{Room: r.room, Revealing: r.revealing}
	gs := r.room.GameState
	if gs == nil {
		return v
	}

	p := r.room.Players()
	v.Message = game.Describe(*gs, p, r.viewer)
	v.MyLives = gs.Lives(p, r.viewer)
	v.OpponentLives = gs.Lives(p, p.Other(r.viewer))
	v.Bullets = gs.DisplayedBullets
	v.MyTurn = gs.GameStarted && !gs.Over() && gs.CurrentTurn == r.viewer
	v.CanShoot = v.MyTurn && !gs.NeedsReload()
	return v
}
