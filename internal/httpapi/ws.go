package httpapi

import (
	"context"
	"net/http"
	"time"

	"example.com/roulette/internal/game"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingPeriod = 25 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // native clients, no browser origin
}

// Subscribe streams a room to one of its players over WebSocket: the current
// room first, then every committed change, each as
// {"type":"room","payload":Room}. The client never sends anything but control
// frames.
func (h *RoomHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id := r.PathValue("id")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// subscribe before the first read so nothing committed in between is lost
	changes, err := h.Rooms.Subscribe(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	current, err := h.Rooms.GetRoom(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !current.HasPlayer(userID) {
		writeError(w, http.StatusForbidden, CodeForbidden, "not a player of this room")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	log := h.Log.With(zap.String("room", id), zap.String("user", userID))
	log.Debug("room subscriber connected")

	done := make(chan struct{})

	// writer loop
	go func() {
		defer close(done)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		send := func(room game.Room) error {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			return ws.WriteJSON(game.Envelope{Type: "room", Payload: game.MustJSON(room)})
		}

		if err := send(current); err != nil {
			return
		}
		last := current.Version
		for {
			select {
			case room, ok := <-changes:
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"),
						time.Now().Add(writeWait))
					return
				}
				if room.Version <= last {
					continue
				}
				last = room.Version
				if err := send(room); err != nil {
					return
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	// reader loop, only to notice the peer going away
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	cancel()
	_ = ws.Close()
	<-done
	log.Debug("room subscriber gone")
}
