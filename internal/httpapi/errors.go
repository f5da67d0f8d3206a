package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"example.com/roulette/internal/store"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeRoomNotFound    = "room_not_found"
	CodeRoomFull        = "room_full"
	CodeVersionConflict = "version_conflict"
	CodeUnavailable     = "store_unavailable"
	CodeInternal        = "internal"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, ErrorResponse{Code: errCode, Message: msg})
}

// writeStoreError answers with the status a RoomStore error maps to.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeRoomNotFound, "room not found")
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, CodeVersionConflict, "room changed, read it again")
	default:
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "room storage unavailable")
	}
}
