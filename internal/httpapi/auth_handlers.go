package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"example.com/roulette/internal/auth"
	"example.com/roulette/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Identities interface {
	Create(ctx context.Context, id store.Identity) error
	GetByID(ctx context.Context, id string) (store.Identity, error)
	Touch(ctx context.Context, id string) error
}

type Stats interface {
	InitForUser(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (store.PlayerStats, error)
	RecordResult(ctx context.Context, roomID, winnerID, loserID string) error
}

type AuthHandler struct {
	Identities Identities
	Stats      Stats
	Auth       *auth.Service
	Log        *zap.Logger
}

type AnonymousResponse struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type RefreshRequest struct {
	UserID       string `json:"userId"`
	RefreshToken string `json:"refreshToken"`
}

type TokenResponse struct {
	UserID      string    `json:"userId"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Anonymous issues a fresh identity. The refresh secret is returned once and
// only its hash is kept.
func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	secret, err := auth.NewRefreshSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to generate secret")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to hash secret")
		return
	}

	userID := uuid.NewString()
	if err := h.Identities.Create(r.Context(), store.Identity{ID: userID, RefreshHash: string(hash)}); err != nil {
		h.Log.Error("create identity", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to create identity")
		return
	}

	if err := h.Stats.InitForUser(r.Context(), userID); err != nil {
		// stats rows are also created lazily on the first finished game
		h.Log.Warn("init stats", zap.String("user", userID), zap.Error(err))
	}

	token, exp, err := h.Auth.Sign(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to sign token")
		return
	}

	writeJSON(w, http.StatusCreated, AnonymousResponse{
		UserID:       userID,
		AccessToken:  token,
		RefreshToken: secret,
		ExpiresAt:    exp,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "userId and refreshToken are required")
		return
	}

	it, err := h.Identities.GetByID(r.Context(), req.UserID)
	if errors.Is(err, store.ErrIdentityNotFound) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh token")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load identity")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(it.RefreshHash), []byte(req.RefreshToken)); err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid refresh token")
		return
	}

	if err := h.Identities.Touch(r.Context(), it.ID); err != nil {
		h.Log.Warn("touch identity", zap.String("user", it.ID), zap.Error(err))
	}

	token, exp, err := h.Auth.Sign(it.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{UserID: it.ID, AccessToken: token, ExpiresAt: exp})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing auth context")
		return
	}

	it, err := h.Identities.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "identity not found")
		return
	}

	st, err := h.Stats.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        it.ID,
		"createdAt": it.CreatedAt,
		"stats": map[string]any{
			"wins":   st.Wins,
			"losses": st.Losses,
		},
	})
}
