package game

import (
	"fmt"
	"strings"
)

func (o Outcome) GameEnded() bool {
	return strings.HasSuffix(string(o), SuffixGameEnd)
}

func (o Outcome) ReloadNeeded() bool {
	return strings.HasSuffix(string(o), SuffixReloadNeeded)
}

// Base strips the game-end / reload suffixes.
func (o Outcome) Base() Outcome {
	s := strings.TrimSuffix(string(o), SuffixGameEnd)
	s = strings.TrimSuffix(s, SuffixReloadNeeded)
	return Outcome(s)
}

// Reveals reports whether this outcome opens the bullet composition window.
func (o Outcome) Reveals() bool {
	return o == OutcomeCoinFlip || o == OutcomeReloaded
}

// Message is the narration one viewer sees for the latest action.
type Message struct {
	Outcome Outcome `json:"outcome"`
	Text    string  `json:"text"`
}

// Describe derives the viewer's message from s.LastAction. It depends on
// nothing else than its arguments, so re-delivered states describe the same.
func Describe(s GameState, p Players, viewer string) Message {
	la := s.LastAction
	if la == nil {
		return Message{}
	}
	other := p.Other(viewer)
	myLives := s.Lives(p, viewer)
	oppLives := s.Lives(p, other)

	var text string
	switch {
	case la.Outcome == OutcomeCoinFlip:
		who := "Opponent goes"
		if la.FirstTurnPlayerID == viewer {
			who = "You go"
		}
		text = fmt.Sprintf("Coin flip: %s first!", who)

	case la.Outcome == OutcomeReloaded:
		text = fmt.Sprintf("Bullets reloaded! Real: %d, Fake: %d.", s.DisplayedBullets.Real, s.DisplayedBullets.Fake)

	case la.Outcome.GameEnded():
		switch s.Winner {
		case viewer:
			text = "Game over! You win!"
		case other:
			text = "Game over! You lose!"
		default:
			text = "Game over!"
		}

	default:
		text = describeShot(la, viewer, other, myLives, oppLives)
		if la.Outcome.ReloadNeeded() {
			text += " The chamber is empty, reloading..."
		}
	}

	return Message{Outcome: la.Outcome, Text: text}
}

func describeShot(la *LastAction, viewer, other string, myLives, oppLives int) string {
	bullet := strings.ToUpper(string(la.BulletType))
	selfShot := la.ShooterID == la.TargetID

	switch {
	case la.ShooterID == viewer && selfShot && la.BulletType == Fake:
		return fmt.Sprintf("You shot yourself with a %s bullet! You get another turn.", bullet)
	case la.ShooterID == viewer && selfShot:
		return fmt.Sprintf("You shot yourself with a %s bullet! Your health is now %d. Opponent's turn.", bullet, myLives)
	case la.ShooterID == viewer && la.BulletType == Fake:
		return fmt.Sprintf("You shot your opponent with a %s bullet! Opponent's turn.", bullet)
	case la.ShooterID == viewer:
		return fmt.Sprintf("You shot your opponent with a %s bullet! Their health is now %d. Opponent's turn.", bullet, oppLives)

	case la.ShooterID == other && selfShot && la.BulletType == Fake:
		return fmt.Sprintf("Your opponent shot themselves with a %s bullet! It's their turn again.", bullet)
	case la.ShooterID == other && selfShot:
		return fmt.Sprintf("Your opponent shot themselves with a %s bullet! Their health is now %d. It's your turn.", bullet, oppLives)
	case la.ShooterID == other && la.BulletType == Fake:
		return fmt.Sprintf("Your opponent shot you with a %s bullet! It's your turn.", bullet)
	case la.ShooterID == other:
		return fmt.Sprintf("Your opponent shot you with a %s bullet! Your health is now %d. It's your turn.", bullet, myLives)
	}
	return ""
}
