package game

// Initial builds the state the host writes once both seats are taken.
func Initial(p Players, firstTurn string, load Load, lives int, now int64) GameState {
	return GameState{
		Player1Lives:     lives,
		Player2Lives:     lives,
		Bullets:          append([]Bullet(nil), load.Bullets...),
		DisplayedBullets: load.Count(),
		CurrentTurn:      firstTurn,
		GameStarted:      true,
		LastAction: &LastAction{
			Outcome:           OutcomeCoinFlip,
			FirstTurnPlayerID: firstTurn,
			Timestamp:         now,
		},
	}
}

// Resolve applies one shot to s and returns the next state. s is never
// modified; a rejected shot returns s unchanged together with an error
// matching ErrActionRejected.
func Resolve(s GameState, p Players, shooter string, action Action, now int64) (GameState, error) {
	switch {
	case !s.GameStarted:
		return s, ErrNotStarted
	case s.Over():
		return s, ErrGameOver
	case !p.Has(shooter):
		return s, ErrNotAPlayer
	case shooter != s.CurrentTurn:
		return s, ErrNotYourTurn
	case len(s.Bullets) == 0 || s.ReloadPending:
		return s, ErrReloadPending
	}

	opponent := p.Other(shooter)
	var target string
	switch action {
	case ShootSelf:
		target = shooter
	case ShootOpponent:
		target = opponent
	default:
		return s, ErrUnknownAction
	}

	next := s.Clone()
	bullet := next.Bullets[0]
	next.Bullets = next.Bullets[1:]

	var outcome Outcome
	nextTurn := opponent
	switch {
	case bullet == Fake && target == shooter:
		outcome = OutcomeFakeSelfHit
		nextTurn = shooter
	case bullet == Fake:
		outcome = OutcomeFakeOpponentHit
	case target == shooter:
		outcome = OutcomeRealSelfHit
	default:
		outcome = OutcomeRealOpponentHit
	}

	if bullet == Real {
		if target == p.P1 {
			next.Player1Lives--
		} else {
			next.Player2Lives--
		}
	}

	switch {
	case next.Player1Lives <= 0:
		next.Winner = p.P2
	case next.Player2Lives <= 0:
		next.Winner = p.P1
	}

	if next.Winner != "" {
		nextTurn = ""
		outcome += SuffixGameEnd
	} else if len(next.Bullets) == 0 {
		next.ReloadPending = true
		outcome += SuffixReloadNeeded
	}

	next.CurrentTurn = nextTurn
	next.LastAction = &LastAction{
		ShooterID:  shooter,
		TargetID:   target,
		BulletType: bullet,
		Outcome:    outcome,
		Timestamp:  nextTimestamp(s.LastAction, now),
	}
	return next, nil
}

// Reloaded replaces the chamber of a state waiting for a reload. Turn, lives
// and winner are carried over.
func Reloaded(s GameState, load Load, now int64) GameState {
	next := s.Clone()
	next.Bullets = append([]Bullet(nil), load.Bullets...)
	next.DisplayedBullets = load.Count()
	next.ReloadPending = false
	next.LastAction = &LastAction{
		Outcome:   OutcomeReloaded,
		Timestamp: nextTimestamp(s.LastAction, now),
	}
	return next
}

// NeedsReload reports whether a reload write is due.
func (s GameState) NeedsReload() bool {
	return s.GameStarted && !s.Over() && (s.ReloadPending || len(s.Bullets) == 0)
}

func nextTimestamp(prev *LastAction, now int64) int64 {
	if prev != nil && now <= prev.Timestamp {
		return prev.Timestamp + 1
	}
	return now
}
