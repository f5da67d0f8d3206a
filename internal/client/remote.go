package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/roulette/internal/game"
	"example.com/roulette/internal/store"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// APIError is a non-2xx answer of the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the answer onto the store and game errors callers test for.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return store.ErrNotFound
	case e.Status == http.StatusConflict:
		return store.ErrVersionConflict
	case e.Status == http.StatusUnauthorized:
		return game.ErrAuthenticationRequired
	case e.Status == http.StatusForbidden && e.Code == "room_full":
		return game.ErrRoomFull
	case e.Status == http.StatusForbidden:
		return game.ErrNotAPlayer
	}
	return nil
}

func (e *APIError) temporary() bool {
	return e.Status >= 500
}

type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(base string, hc *http.Client) *apiClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &apiClient{base: strings.TrimRight(base, "/"), hc: hc}
}

func (c *apiClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&er) == nil {
			apiErr.Code, apiErr.Message = er.Code, er.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ store.RoomStore = (*RemoteStore)(nil)

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// RemoteStore is a RoomStore backed by the room backend: HTTP for reads and
// writes, a WebSocket per subscription.
type RemoteStore struct {
	api    *apiClient
	tokens TokenSource
	dialer *websocket.Dialer
	log    *zap.Logger

	readRetries uint64
	retryBase   time.Duration
}

func NewRemoteStore(baseURL string, hc *http.Client, tokens TokenSource, log *zap.Logger) *RemoteStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteStore{
		api:         newAPIClient(baseURL, hc),
		tokens:      tokens,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:         log,
		readRetries: 3,
		retryBase:   100 * time.Millisecond,
	}
}

type patchRequest struct {
	ExpectedVersion int64           `json:"expectedVersion"`
	Player2ID       *string         `json:"player2Id,omitempty"`
	Status          *game.Status    `json:"status,omitempty"`
	GameState       *game.GameState `json:"gameState,omitempty"`
}

func (s *RemoteStore) CreateRoom(ctx context.Context, r game.Room) (game.Room, error) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return game.Room{}, err
	}
	var out game.Room
	err = s.api.do(ctx, http.MethodPost, "/api/rooms", tok, map[string]string{"player1Id": r.Player1ID}, &out)
	return out, err
}

// GetRoom retries transport failures and 5xx answers with backoff.
func (s *RemoteStore) GetRoom(ctx context.Context, id string) (game.Room, error) {
	var out game.Room
	b := retry.WithMaxRetries(s.readRetries, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		tok, err := s.tokens.Token(ctx)
		if err != nil {
			return err
		}
		err = s.api.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(id), tok, nil, &out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.temporary() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		s.log.Debug("room read failed, retrying", zap.String("room", id), zap.Error(err))
		return retry.RetryableError(err)
	})
	return out, err
}

func (s *RemoteStore) UpdateRoom(ctx context.Context, id string, expectedVersion int64, patch game.RoomPatch) (game.Room, error) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return game.Room{}, err
	}
	body := patchRequest{
		ExpectedVersion: expectedVersion,
		Player2ID:       patch.Player2ID,
		Status:          patch.Status,
		GameState:       patch.GameState,
	}
	var out game.Room
	err = s.api.do(ctx, http.MethodPatch, "/api/rooms/"+url.PathEscape(id), tok, body, &out)
	return out, err
}

// Subscribe opens the room's WebSocket. The server sends the current room
// first, then every change.
func (s *RemoteStore) Subscribe(ctx context.Context, id string) (<-chan game.Room, error) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.wsURL("/ws/rooms/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	conn, resp, err := s.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, &APIError{Status: resp.StatusCode, Code: "handshake", Message: err.Error()}
		}
		return nil, err
	}

	out := make(chan game.Room, 32)
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
			_ = conn.Close()
			return
		case <-ctx.Done():
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(done)
		for {
			var env game.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				if ctx.Err() == nil {
					s.log.Warn("room stream closed", zap.String("room", id), zap.Error(err))
				}
				return
			}
			if env.Type != "room" {
				continue
			}
			var r game.Room
			if err := json.Unmarshal(env.Payload, &r); err != nil {
				s.log.Warn("bad room payload", zap.String("room", id), zap.Error(err))
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *RemoteStore) wsURL(path string) (string, error) {
	u, err := url.Parse(s.api.base + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
