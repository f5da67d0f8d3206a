package httpapi

import (
	"net/http"

	"example.com/roulette/internal/auth"
	"example.com/roulette/internal/store"
	"go.uber.org/zap"
)

type Deps struct {
	Rooms      store.RoomStore
	Identities Identities
	Stats      Stats
	Auth       *auth.Service
	Log        *zap.Logger
}

// NewRouter wires every route of the backend API.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	authH := &AuthHandler{Identities: d.Identities, Stats: d.Stats, Auth: d.Auth, Log: d.Log}
	roomH := &RoomHandler{Rooms: d.Rooms, Stats: d.Stats, Log: d.Log}
	authed := AuthMiddleware(d.Auth)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/auth/anonymous", authH.Anonymous)
	mux.HandleFunc("POST /api/auth/refresh", authH.Refresh)
	mux.Handle("GET /api/me", authed(http.HandlerFunc(authH.Me)))

	mux.Handle("POST /api/rooms", authed(http.HandlerFunc(roomH.Create)))
	mux.Handle("GET /api/rooms/{id}", authed(http.HandlerFunc(roomH.Get)))
	mux.Handle("PATCH /api/rooms/{id}", authed(http.HandlerFunc(roomH.Patch)))
	mux.Handle("GET /ws/rooms/{id}", authed(http.HandlerFunc(roomH.Subscribe)))

	return RequestLogger(d.Log)(mux)
}
