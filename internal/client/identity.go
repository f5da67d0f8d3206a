package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"example.com/roulette/internal/game"
)

// refreshMargin renews the access token this long before it expires.
const refreshMargin = 30 * time.Second

// Identity is the anonymous identity of the local player, issued by the
// backend. It is not Ready until SignIn succeeds.
type Identity struct {
	api *apiClient

	mu           sync.RWMutex
	userID       string
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	now          func() time.Time
}

func NewIdentity(baseURL string, hc *http.Client) *Identity {
	return &Identity{api: newAPIClient(baseURL, hc), now: time.Now}
}

type anonymousResponse struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type tokenResponse struct {
	UserID      string    `json:"userId"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SignIn obtains a fresh anonymous identity.
func (i *Identity) SignIn(ctx context.Context) error {
	var out anonymousResponse
	if err := i.api.do(ctx, http.MethodPost, "/api/auth/anonymous", "", nil, &out); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.userID = out.UserID
	i.accessToken = out.AccessToken
	i.refreshToken = out.RefreshToken
	i.expiresAt = out.ExpiresAt
	return nil
}

// Refresh renews the access token with the refresh secret from SignIn.
func (i *Identity) Refresh(ctx context.Context) error {
	i.mu.RLock()
	req := map[string]string{"userId": i.userID, "refreshToken": i.refreshToken}
	i.mu.RUnlock()
	if req["userId"] == "" {
		return game.ErrAuthenticationRequired
	}

	var out tokenResponse
	if err := i.api.do(ctx, http.MethodPost, "/api/auth/refresh", "", req, &out); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.accessToken = out.AccessToken
	i.expiresAt = out.ExpiresAt
	return nil
}

func (i *Identity) ID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.userID
}

func (i *Identity) Ready() bool {
	return i.ID() != ""
}

// Token returns a usable access token, refreshing it when it is about to
// expire.
func (i *Identity) Token(ctx context.Context) (string, error) {
	i.mu.RLock()
	tok, exp, ready := i.accessToken, i.expiresAt, i.userID != ""
	i.mu.RUnlock()

	if !ready {
		return "", game.ErrAuthenticationRequired
	}
	if i.now().Add(refreshMargin).Before(exp) {
		return tok, nil
	}

	if err := i.Refresh(ctx); err != nil {
		return "", err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.accessToken, nil
}
