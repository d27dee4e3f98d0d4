package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultServerURL is used until the user points the client elsewhere.
const DefaultServerURL = "http://localhost:9999"

// Config represents the global ~/.msgr/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// LoadConfig reads the global config from the given path.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Settings is the persisted per-session settings file. It is the durable
// backing for the session manager: credentials survive process restarts.
type Settings struct {
	ServerURL    string `toml:"server_url"`
	UserID       string `toml:"user_id,omitempty"`
	AccessToken  string `toml:"access_token,omitempty"`
	RefreshToken string `toml:"refresh_token,omitempty"`
}

// Load reads settings from the given path. Returns an error if the file is missing.
func Load(path string) (*Settings, error) {
	var s Settings
	_, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, err
	}
	if s.ServerURL == "" {
		s.ServerURL = DefaultServerURL
	}
	return &s, nil
}

// Save writes settings to the given path with 0600 permissions,
// creating parent dirs as needed. Tokens live here, so the file is private.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(s)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
