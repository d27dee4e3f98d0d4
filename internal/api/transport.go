package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// Bearer formats an access token as an Authorization header value.
func Bearer(token string) string {
	return bearerPrefix + token
}

// TokenSource provides the current token pair and stores rotated tokens.
// The session manager implements it.
type TokenSource interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
	SetTokens(access, refresh string) error
}

// authTransport turns a bearer-authorized request that failed with 401 into a
// retried request carrying a freshly refreshed token, or lets the original
// failure through when refresh is not possible. Refresh attempts are
// serialized under one mutex: a waiter whose stale token was already rotated
// by an in-flight refresh reuses the stored result instead of issuing a
// duplicate refresh, which would invalidate the first waiter's new refresh
// token on rotating-refresh-token servers.
type authTransport struct {
	base    http.RoundTripper
	tokens  TokenSource
	baseURL func() string
	logger  *zap.Logger

	// refreshHTTP is a bare client: the refresh call itself must never pass
	// back through this transport.
	refreshHTTP *http.Client

	mu sync.Mutex
}

func newAuthTransport(base http.RoundTripper, tokens TokenSource, baseURL func() string, logger *zap.Logger) *authTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{
		base:        base,
		tokens:      tokens,
		baseURL:     baseURL,
		logger:      logger,
		refreshHTTP: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Only requests that carried a bearer token are eligible; any other 401
	// passes through untouched.
	stale := req.Header.Get("Authorization")
	if !strings.HasPrefix(stale, bearerPrefix) {
		return resp, nil
	}

	fresh := t.refreshedAuthorization(req.Context(), stale)
	if fresh == "" {
		return resp, nil
	}

	// Retry exactly once with the fresh token. The original body must be
	// rewindable; requests built by the client always set GetBody.
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return resp, nil
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", fresh)

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return t.base.RoundTrip(retry)
}

// refreshedAuthorization returns a usable Authorization value, or "" when
// refresh is unavailable and the original failure should surface.
func (t *authTransport) refreshedAuthorization(ctx context.Context, stale string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	access, ok := t.tokens.AccessToken()
	if !ok {
		return ""
	}
	refresh, ok := t.tokens.RefreshToken()
	if !ok {
		return ""
	}

	// Another request already refreshed while we waited for the lock.
	if current := Bearer(access); current != stale {
		return current
	}

	body, err := json.Marshal(RefreshTokenInfo{RefreshToken: refresh})
	if err != nil {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL()+"/v1/me/refresh", bytes.NewReader(body))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", Bearer(access))

	resp, err := t.refreshHTTP.Do(req)
	if err != nil {
		t.logger.Warn("token refresh failed", zap.Error(err))
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		t.logger.Warn("token refresh rejected", zap.Int("status", resp.StatusCode))
		return ""
	}

	var auth AuthInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&auth); err != nil {
		t.logger.Warn("token refresh decode failed", zap.Error(err))
		return ""
	}
	if auth.AccessToken == "" || auth.RefreshToken == "" {
		t.logger.Warn("token refresh returned empty tokens")
		return ""
	}
	if err := t.tokens.SetTokens(auth.AccessToken, auth.RefreshToken); err != nil {
		t.logger.Warn("cannot persist refreshed tokens", zap.Error(err))
		return ""
	}
	return Bearer(auth.AccessToken)
}
