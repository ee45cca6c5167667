package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeProvider serves a minimal Identity Toolkit lookalike.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "" {
			http.Error(w, `{"error":{"message":"MISSING_KEY"}}`, http.StatusBadRequest)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		switch {
		case strings.HasSuffix(r.URL.Path, "accounts:signUp"):
			if body["email"] == "taken@example.com" {
				http.Error(w, `{"error":{"message":"EMAIL_EXISTS"}}`, http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"localId": "uid-new", "email": body["email"],
				"idToken": "tok-1", "refreshToken": "ref-1", "expiresIn": "3600",
			})
		case strings.HasSuffix(r.URL.Path, "accounts:signInWithPassword"):
			if body["password"] != "correct-horse" {
				http.Error(w, `{"error":{"message":"INVALID_LOGIN_CREDENTIALS"}}`, http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"localId": "uid-1", "email": body["email"], "displayName": "Arjuna",
				"idToken": "tok-2", "refreshToken": "ref-2", "expiresIn": "3600",
			})
		case strings.HasSuffix(r.URL.Path, "accounts:sendOobCode"):
			json.NewEncoder(w).Encode(map[string]any{"email": body["email"]})
		case strings.HasSuffix(r.URL.Path, "accounts:update"):
			json.NewEncoder(w).Encode(map[string]any{"localId": "uid-1"})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestGate(t *testing.T, srv *httptest.Server) *Gate {
	t.Helper()
	g := NewGate("test-key", filepath.Join(t.TempDir(), "session.json"))
	g.Endpoint = srv.URL
	return g
}

func TestEnsureReadyWithoutKey(t *testing.T) {
	g := NewGate("", filepath.Join(t.TempDir(), "session.json"))
	if err := g.EnsureReady(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	// Failure is sticky and every entry point reports it.
	if _, err := g.SignIn(context.Background(), "a@b.c", "pw"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("SignIn err = %v", err)
	}
}

func TestSignInSuccessCachesSession(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()
	g := newTestGate(t, srv)

	s, err := g.SignIn(context.Background(), "arjuna@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if s.UID != "uid-1" || s.DisplayName != "Arjuna" {
		t.Errorf("session = %+v", s)
	}
	if s.Expired() {
		t.Error("fresh session reports expired")
	}

	// A second gate pointed at the same cache restores the session.
	g2 := NewGate("test-key", g.CachePath)
	if err := g2.EnsureReady(); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if cur := g2.Current(); cur == nil || cur.UID != "uid-1" {
		t.Errorf("restored session = %+v", cur)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()
	g := newTestGate(t, srv)

	_, err := g.SignIn(context.Background(), "arjuna@example.com", "wrong")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if authErr.Code != "INVALID_LOGIN_CREDENTIALS" {
		t.Errorf("code = %q", authErr.Code)
	}
	if got := authErr.Friendly(); got != "incorrect email or password" {
		t.Errorf("Friendly() = %q", got)
	}
	if g.Current() != nil {
		t.Error("failed sign-in left a session behind")
	}
}

func TestSignUpExistingEmail(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()
	g := newTestGate(t, srv)

	_, err := g.SignUp(context.Background(), "taken@example.com", "pw123456", "")
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Code != "EMAIL_EXISTS" {
		t.Fatalf("err = %v", err)
	}
}

func TestSignUpSetsDisplayName(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()
	g := newTestGate(t, srv)

	s, err := g.SignUp(context.Background(), "new@example.com", "pw123456", "Partha")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if s.DisplayName != "Partha" {
		t.Errorf("displayName = %q", s.DisplayName)
	}
}

func TestSignOutClearsSessionAndNotifies(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()
	g := newTestGate(t, srv)

	if _, err := g.SignIn(context.Background(), "a@example.com", "correct-horse"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	var seen []*Session
	unsub := g.OnAuth(func(s *Session) { seen = append(seen, s) })
	defer unsub()

	if err := g.SignOut(); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if g.Current() != nil {
		t.Error("session survives sign-out")
	}
	// Immediate callback with the live session, then nil after sign-out.
	if len(seen) != 2 || seen[0] == nil || seen[1] != nil {
		t.Errorf("observer saw %d calls: %+v", len(seen), seen)
	}

	// Cache is gone too.
	g2 := NewGate("test-key", g.CachePath)
	g2.EnsureReady()
	if g2.Current() != nil {
		t.Error("cache survives sign-out")
	}

	unsub()
	unsub() // double unsubscribe is a no-op
}

func TestSignOutWorksWithoutConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := saveSession(path, &Session{UID: "uid-1", IDToken: "tok"}); err != nil {
		t.Fatalf("saveSession: %v", err)
	}

	// No API key: the gate cannot reach the provider, but dropping a
	// purely local cache must still work.
	g := NewGate("", path)
	if err := g.SignOut(); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("session cache still on disk after sign-out")
	}
	if err := g.SignOut(); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}
}

func TestSendReset(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()
	g := newTestGate(t, srv)
	if err := g.SendReset(context.Background(), "a@example.com"); err != nil {
		t.Fatalf("SendReset: %v", err)
	}
}

func TestSessionExpired(t *testing.T) {
	s := &Session{ExpiresAt: time.Now().Add(-time.Hour)}
	if !s.Expired() {
		t.Error("stale session reports fresh")
	}
	var nilSession *Session
	if !nilSession.Expired() {
		t.Error("nil session should read as expired")
	}
}
