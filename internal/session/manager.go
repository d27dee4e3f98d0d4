package session

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"msgr/internal/bus"
	"msgr/internal/config"
	"msgr/internal/store"
)

// ErrLocalStateViolation means the persisted session references a user that is
// absent from the local store. This is unrecoverable and fatal at startup.
var ErrLocalStateViolation = errors.New("persisted session references a user missing from the local store")

// Manager owns the process-wide session: the current user plus access and
// refresh tokens, durably backed by the per-session settings file. It is the
// only component allowed to mutate credential state; sign-in, sign-out and
// token refresh all funnel through it under one mutex.
type Manager struct {
	mu       sync.Mutex
	path     string
	bus      *bus.Bus
	settings config.Settings
	current  *store.User
}

// NewManager loads persisted settings from path. A missing file starts a
// fresh session with defaults.
func NewManager(path string, b *bus.Bus) (*Manager, error) {
	m := &Manager{
		path:     path,
		bus:      b,
		settings: config.Settings{ServerURL: config.DefaultServerURL},
	}
	s, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		return m, nil
	}
	m.settings = *s
	return m, nil
}

// Hydrate resolves the persisted user id against the local store. Called once
// at startup, before any engine operation runs.
func (m *Manager) Hydrate(db *store.DB) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings.UserID == "" {
		return nil
	}
	u, err := db.GetUser(m.settings.UserID)
	if err != nil {
		return fmt.Errorf("resolve current user: %w", err)
	}
	if u == nil {
		return fmt.Errorf("user %q: %w", m.settings.UserID, ErrLocalStateViolation)
	}
	m.current = u
	return nil
}

// ServerURL returns the configured server base URL.
func (m *Manager) ServerURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.ServerURL
}

// SetServerURL persists a new server base URL and announces the change so the
// remote client can rebuild against it.
func (m *Manager) SetServerURL(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.ServerURL = url
	if err := config.Save(m.path, &m.settings); err != nil {
		return err
	}
	m.publish("settings.server_url", url)
	return nil
}

// AccessToken returns the current access token, if any.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.AccessToken, m.settings.AccessToken != ""
}

// RefreshToken returns the current refresh token, if any.
func (m *Manager) RefreshToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.RefreshToken, m.settings.RefreshToken != ""
}

// SetTokens stores a newly issued access/refresh token pair.
func (m *Manager) SetTokens(access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.AccessToken = access
	m.settings.RefreshToken = refresh
	return config.Save(m.path, &m.settings)
}

// SetCurrentUser persists the signed-in user.
func (m *Manager) SetCurrentUser(u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.UserID = u.UserID
	if err := config.Save(m.path, &m.settings); err != nil {
		return err
	}
	m.current = u
	m.publish("session.signed_in", u.UserID)
	return nil
}

// CurrentUser returns the signed-in user, or nil.
func (m *Manager) CurrentUser() *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SignedIn reports whether a user is currently signed in.
func (m *Manager) SignedIn() bool {
	return m.CurrentUser() != nil
}

// Clear removes the user id and both tokens in a single persisted write,
// then announces the sign-out. The server URL survives.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.UserID = ""
	m.settings.AccessToken = ""
	m.settings.RefreshToken = ""
	m.current = nil
	if err := config.Save(m.path, &m.settings); err != nil {
		return err
	}
	m.publish("session.signed_out", nil)
	return nil
}

func (m *Manager) publish(kind string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
