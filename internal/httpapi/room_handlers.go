package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"example.com/roulette/internal/game"
	"example.com/roulette/internal/store"
	"go.uber.org/zap"
)

type RoomHandler struct {
	Rooms store.RoomStore
	Stats Stats
	Log   *zap.Logger
}

type CreateRoomRequest struct {
	Player1ID string `json:"player1Id"`
}

type PatchRoomRequest struct {
	ExpectedVersion int64           `json:"expectedVersion"`
	Player2ID       *string         `json:"player2Id,omitempty"`
	Status          *game.Status    `json:"status,omitempty"`
	GameState       *game.GameState `json:"gameState,omitempty"`
}

func (p PatchRoomRequest) patch() game.RoomPatch {
	return game.RoomPatch{Player2ID: p.Player2ID, Status: p.Status, GameState: p.GameState}
}

// lwwAttempts bounds the re-reads of an unconditional patch that keeps
// losing to concurrent writers.
const lwwAttempts = 3

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid json")
		return
	}
	if req.Player1ID == "" {
		req.Player1ID = userID
	}
	if req.Player1ID != userID {
		writeError(w, http.StatusForbidden, CodeForbidden, "rooms are hosted by their creator")
		return
	}

	room, err := h.Rooms.CreateRoom(r.Context(), game.Room{Player1ID: userID, Status: game.StatusWaiting})
	if err != nil {
		h.Log.Error("create room", zap.String("user", userID), zap.Error(err))
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// Get reads a room. Anyone signed in sees the seats and the status, which is
// what deciding on a join needs; the game state is for the players only.
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	room, err := h.Rooms.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !room.HasPlayer(userID) {
		room.GameState = nil
	}
	writeJSON(w, http.StatusOK, room)
}

// Patch applies a partial update. The caller must hold a seat once the patch
// is applied, which lets a newcomer take the free seat and nobody else write.
func (h *RoomHandler) Patch(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id := r.PathValue("id")

	var req PatchRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid json")
		return
	}
	if req.ExpectedVersion < 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "expectedVersion must not be negative")
		return
	}
	if req.Status != nil && !validStatus(*req.Status) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "unknown status")
		return
	}

	var (
		cur, updated game.Room
		err          error
	)
	for attempt := 0; attempt < lwwAttempts; attempt++ {
		cur, err = h.Rooms.GetRoom(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if req.ExpectedVersion != 0 && cur.Version != req.ExpectedVersion {
			writeStoreError(w, store.ErrVersionConflict)
			return
		}

		if code, msg := authorizePatch(cur, req, userID); code != "" {
			status := http.StatusForbidden
			if code == CodeBadRequest {
				status = http.StatusBadRequest
			}
			writeError(w, status, code, msg)
			return
		}

		// always write at the version the checks above saw
		updated, err = h.Rooms.UpdateRoom(r.Context(), id, cur.Version, req.patch())
		if errors.Is(err, store.ErrVersionConflict) && req.ExpectedVersion == 0 {
			continue
		}
		break
	}
	if err != nil {
		if !errors.Is(err, store.ErrVersionConflict) {
			h.Log.Error("update room", zap.String("room", id), zap.Error(err))
		}
		writeStoreError(w, err)
		return
	}

	if cur.Status != game.StatusFinished && updated.Status == game.StatusFinished {
		h.recordResult(r, updated)
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *RoomHandler) recordResult(r *http.Request, room game.Room) {
	if h.Stats == nil || room.GameState == nil || room.GameState.Winner == "" {
		return
	}
	winner := room.GameState.Winner
	loser := room.Players().Other(winner)
	if loser == "" {
		return
	}
	if err := h.Stats.RecordResult(r.Context(), room.ID, winner, loser); err != nil {
		h.Log.Warn("record result", zap.String("room", room.ID), zap.Error(err))
		return
	}
	h.Log.Info("result recorded", zap.String("room", room.ID), zap.String("winner", winner))
}

func authorizePatch(cur game.Room, req PatchRoomRequest, userID string) (string, string) {
	next := req.patch().Apply(cur)
	if !next.HasPlayer(userID) {
		return CodeForbidden, "not a player in this room"
	}
	if req.Player2ID != nil && cur.Player2ID != "" && *req.Player2ID != cur.Player2ID {
		return CodeRoomFull, "room is full"
	}
	if (next.Status == game.StatusWaiting) != (next.Player2ID == "") {
		return CodeBadRequest, "a waiting room has exactly one player"
	}
	if next.GameState != nil && next.GameState.Winner != "" && !next.HasPlayer(next.GameState.Winner) {
		return CodeBadRequest, "winner is not a player"
	}
	return "", ""
}

func validStatus(s game.Status) bool {
	switch s {
	case game.StatusWaiting, game.StatusPlaying, game.StatusFinished:
		return true
	}
	return false
}
