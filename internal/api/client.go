package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"msgr/internal/bus"
)

const maxResponseBytes = 1 << 20

// Client is the typed HTTP client for the messenger server. All authorized
// calls pass through the refresh transport, so a stale access token is
// rotated transparently. The base URL can be swapped at runtime when the
// server setting changes.
type Client struct {
	mu      sync.RWMutex
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a client against the given base URL.
func New(baseURL string, tokens TokenSource, logger *zap.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
	c.http = &http.Client{
		Timeout:   30 * time.Second,
		Transport: newAuthTransport(nil, tokens, c.BaseURL, logger),
	}
	return c
}

// BaseURL returns the current server base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Rebuild points the client at a new server base URL.
func (c *Client) Rebuild(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
	c.logger.Info("remote client rebuilt", zap.String("base_url", baseURL))
}

// WatchSettings rebuilds the client whenever the server URL setting changes.
// Returns after ctx is done.
func (c *Client) WatchSettings(ctx context.Context, b *bus.Bus) {
	ch, unsub := b.Subscribe("settings.server_url", 4)
	defer unsub()
	for {
		select {
		case evt := <-ch:
			if u, ok := evt.Payload.(string); ok && u != "" {
				c.Rebuild(u)
			}
		case <-ctx.Done():
			return
		}
	}
}

// do performs one JSON request. auth is the Authorization header value for
// member-scoped calls, empty otherwise. out, when non-nil, receives the
// decoded response body.
func (c *Client) do(ctx context.Context, method, path, auth string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL()+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, ErrNetwork)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Method: method, Path: path}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %v: %w", method, path, err, ErrInconsistentServerState)
	}
	return nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, info NewUserInfo) (*UserInfo, error) {
	var out UserInfo
	if err := c.do(ctx, http.MethodPost, "/v1/users", "", info, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignIn exchanges credentials for a token pair.
func (c *Client) SignIn(ctx context.Context, userID, password string) (*AuthInfo, error) {
	var out AuthInfo
	path := "/v1/users/" + url.PathEscape(userID) + "/signin"
	if err := c.do(ctx, http.MethodPost, path, "", PasswordInfo{Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignOut invalidates the server-side session.
func (c *Client) SignOut(ctx context.Context, auth string) error {
	return c.do(ctx, http.MethodPost, "/v1/me/signout", auth, nil, nil)
}

// InvalidateToken revokes a refresh token.
func (c *Client) InvalidateToken(ctx context.Context, auth, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/v1/me/invalidate", auth, RefreshTokenInfo{RefreshToken: refreshToken}, nil)
}

// CreateChat creates a chat owned by the current user.
func (c *Client) CreateChat(ctx context.Context, auth string, info NewChatInfo) (*ChatInfo, error) {
	var out ChatInfo
	if err := c.do(ctx, http.MethodPost, "/v1/chats", auth, info, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InviteToChat asks the server to deliver a join invite to another user.
func (c *Client) InviteToChat(ctx context.Context, auth string, chatID int64, info InviteChatInfo) (map[string]string, error) {
	var out map[string]string
	path := fmt.Sprintf("/v1/chats/%d/invite", chatID)
	if err := c.do(ctx, http.MethodPost, path, auth, info, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// JoinChat joins a chat using its secret.
func (c *Client) JoinChat(ctx context.Context, auth string, chatID int64, info JoinChatInfo) (map[string]string, error) {
	var out map[string]string
	path := fmt.Sprintf("/v1/chats/%d/join", chatID)
	if err := c.do(ctx, http.MethodPost, path, auth, info, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LeaveChat leaves a chat. The response carries a status field the caller
// must check: HTTP 200 alone does not mean success.
func (c *Client) LeaveChat(ctx context.Context, auth string, chatID int64) (map[string]string, error) {
	var out map[string]string
	path := fmt.Sprintf("/v1/chats/%d/leave", chatID)
	if err := c.do(ctx, http.MethodPost, path, auth, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListChats returns the chats of the current user.
func (c *Client) ListChats(ctx context.Context, auth string) ([]ChatInfo, error) {
	var out []ChatInfo
	if err := c.do(ctx, http.MethodGet, "/v1/me/chats", auth, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListChatMembers returns the members of a chat.
func (c *Client) ListChatMembers(ctx context.Context, auth string, chatID int64) ([]MemberInfo, error) {
	var out []MemberInfo
	path := fmt.Sprintf("/v1/chats/%d/members", chatID)
	if err := c.do(ctx, http.MethodGet, path, auth, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message; the server assigns its id and timestamp.
func (c *Client) SendMessage(ctx context.Context, auth string, chatID int64, info NewMessageInfo) (*MessageInfo, error) {
	var out MessageInfo
	path := fmt.Sprintf("/v1/chats/%d/messages/", chatID)
	if err := c.do(ctx, http.MethodPost, path, auth, info, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages returns messages with ids greater than afterID.
func (c *Client) ListMessages(ctx context.Context, auth string, chatID, afterID int64) ([]MessageInfo, error) {
	var out []MessageInfo
	path := fmt.Sprintf("/v1/chats/%d/messages/?after_id=%d", chatID, afterID)
	if err := c.do(ctx, http.MethodGet, path, auth, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindUsers searches users by a display-name fragment.
func (c *Client) FindUsers(ctx context.Context, auth, namePart string) ([]UserInfo, error) {
	var out []UserInfo
	path := "/v1/users?name=" + url.QueryEscape(namePart)
	if err := c.do(ctx, http.MethodGet, path, auth, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser fetches one user's profile. Returns nil without error when the
// server does not know the user.
func (c *Client) GetUser(ctx context.Context, auth, userID string) (*UserInfo, error) {
	var out UserInfo
	path := "/v1/users/" + url.PathEscape(userID)
	err := c.do(ctx, http.MethodGet, path, auth, nil, &out)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if out.UserID == "" {
		return nil, nil
	}
	return &out, nil
}

// SystemUser fetches the privileged system account's profile.
func (c *Client) SystemUser(ctx context.Context, auth string) (*UserInfo, error) {
	var out UserInfo
	if err := c.do(ctx, http.MethodGet, "/v1/admin", auth, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
