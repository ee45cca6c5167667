package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Session is one signed-in identity. It is cached on disk so a restarted
// client can skip the login screen, mirroring how the provider keeps web
// sessions alive.
type Session struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the ID token is past (or within a minute of) its
// expiry and needs a refresh before use.
func (s *Session) Expired() bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt.Add(-time.Minute))
}

// DefaultSessionPath is ~/.gita/session.json.
func DefaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "gita", "session.json")
	}
	return filepath.Join(home, ".gita", "session.json")
}

// loadSession returns nil without error when no cache exists.
func loadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		// A corrupt cache is treated as signed out.
		return nil, nil
	}
	if s.UID == "" {
		return nil, nil
	}
	return &s, nil
}

func saveSession(path string, s *Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	// Tokens live in this file; keep it owner-only.
	return os.WriteFile(path, data, 0o600)
}

func clearSession(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
