package game

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type Bullet string

const (
	Real Bullet = "real"
	Fake Bullet = "fake"
)

type Action string

const (
	ShootSelf     Action = "self"
	ShootOpponent Action = "opponent"
)

// Outcome is the tag stored in LastAction. Shot outcomes may carry one of the
// SuffixGameEnd / SuffixReloadNeeded suffixes.
type Outcome string

const (
	OutcomeCoinFlip        Outcome = "coin_flip"
	OutcomeFakeSelfHit     Outcome = "fake_self_hit"
	OutcomeRealSelfHit     Outcome = "real_self_hit"
	OutcomeFakeOpponentHit Outcome = "fake_opponent_hit"
	OutcomeRealOpponentHit Outcome = "real_opponent_hit"
	OutcomeReloaded        Outcome = "reloaded"

	SuffixGameEnd      = "_game_end"
	SuffixReloadNeeded = "_reload_needed"
)

// Room is the shared record both clients read and write through a store.
type Room struct {
	ID        string     `json:"id"`
	Player1ID string     `json:"player1Id"`
	Player2ID string     `json:"player2Id,omitempty"`
	Status    Status     `json:"status"`
	GameState *GameState `json:"gameState,omitempty"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// RoomPatch is a partial update; nil fields are left as they are.
type RoomPatch struct {
	Player2ID *string    `json:"player2Id,omitempty"`
	Status    *Status    `json:"status,omitempty"`
	GameState *GameState `json:"gameState,omitempty"`
}

// Apply returns a copy of r with the patch applied. Version and timestamps are
// the store's business.
func (p RoomPatch) Apply(r Room) Room {
	if p.Player2ID != nil {
		r.Player2ID = *p.Player2ID
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.GameState != nil {
		gs := p.GameState.Clone()
		r.GameState = &gs
	}
	return r
}

func (r Room) Players() Players {
	return Players{P1: r.Player1ID, P2: r.Player2ID}
}

// HasPlayer reports whether id occupies one of the two seats.
func (r Room) HasPlayer(id string) bool {
	return id != "" && (r.Player1ID == id || r.Player2ID == id)
}

func (r Room) Started() bool {
	return r.GameState != nil && r.GameState.GameStarted
}

type Players struct {
	P1 string
	P2 string
}

func (p Players) Other(id string) string {
	switch id {
	case p.P1:
		return p.P2
	case p.P2:
		return p.P1
	}
	return ""
}

func (p Players) Has(id string) bool {
	return id != "" && (id == p.P1 || id == p.P2)
}

type BulletCount struct {
	Real int `json:"real"`
	Fake int `json:"fake"`
}

type GameState struct {
	Player1Lives     int         `json:"player1Lives"`
	Player2Lives     int         `json:"player2Lives"`
	Bullets          []Bullet    `json:"bullets"`
	DisplayedBullets BulletCount `json:"displayedBullets"`
	CurrentTurn      string      `json:"currentTurn"`
	Winner           string      `json:"winner"`
	GameStarted      bool        `json:"gameStarted"`
	ReloadPending    bool        `json:"reloadPending"`
	LastAction       *LastAction `json:"lastAction,omitempty"`
}

type LastAction struct {
	ShooterID         string  `json:"shooterId,omitempty"`
	TargetID          string  `json:"targetId,omitempty"`
	BulletType        Bullet  `json:"bulletType,omitempty"`
	Outcome           Outcome `json:"outcome"`
	FirstTurnPlayerID string  `json:"firstTurnPlayerId,omitempty"`
	Timestamp         int64   `json:"timestamp"` // unix millis
}

// Clone deep-copies the bullet slice and last action so callers can mutate
// the result freely.
func (s GameState) Clone() GameState {
	s.Bullets = append([]Bullet(nil), s.Bullets...)
	if s.LastAction != nil {
		la := *s.LastAction
		s.LastAction = &la
	}
	return s
}

// Lives returns the life counter of the given seat owner.
func (s GameState) Lives(p Players, id string) int {
	switch id {
	case p.P1:
		return s.Player1Lives
	case p.P2:
		return s.Player2Lives
	}
	return 0
}

func (s GameState) Over() bool {
	return s.Winner != ""
}

// Envelope WS envelope: {"type":"...","payload":{...}}
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func MustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
