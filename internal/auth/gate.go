// Package auth gates every remote operation behind a signed-in identity.
// It speaks the Identity Toolkit REST API directly; the provider's own
// client libraries target browsers and servers, not terminal clients.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotConfigured means no provider API key is available. Every entry point
// fails fast with this before touching the network.
var ErrNotConfigured = errors.New("identity provider is not configured: set the auth api key")

// ErrSignedOut is returned by operations that need a current session.
var ErrSignedOut = errors.New("not signed in")

const defaultEndpoint = "https://identitytoolkit.googleapis.com/v1"

// AuthError is a rejection from the identity provider, carrying its machine
// code (EMAIL_EXISTS, INVALID_PASSWORD, ...). Auth failures are surfaced to
// the user and never retried automatically.
type AuthError struct {
	Status int
	Code   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: status %d, code: %s", e.Status, e.Code)
}

// Friendly translates provider codes into text fit for the login screen.
func (e *AuthError) Friendly() string {
	code := e.Code
	// Some codes arrive as "WEAK_PASSWORD : Password should be ...".
	if i := strings.Index(code, ":"); i > 0 {
		code = strings.TrimSpace(code[:i])
	}
	switch code {
	case "EMAIL_EXISTS":
		return "an account with this email already exists"
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		return "incorrect email or password"
	case "INVALID_EMAIL":
		return "that email address is not valid"
	case "WEAK_PASSWORD":
		return "password must be at least 6 characters"
	case "USER_DISABLED":
		return "this account has been disabled"
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return "too many attempts, try again later"
	default:
		return "sign-in failed: " + e.Code
	}
}

// Gate owns the current session and talks to the identity provider.
type Gate struct {
	APIKey    string
	Endpoint  string
	CachePath string
	HTTP      *http.Client

	mu        sync.Mutex
	readyOnce sync.Once
	readyErr  error
	session   *Session
	observers map[int]func(*Session)
	nextObs   int
}

func NewGate(apiKey, cachePath string) *Gate {
	if strings.TrimSpace(cachePath) == "" {
		cachePath = DefaultSessionPath()
	}
	return &Gate{
		APIKey:    strings.TrimSpace(apiKey),
		Endpoint:  defaultEndpoint,
		CachePath: cachePath,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		observers: map[int]func(*Session){},
	}
}

// EnsureReady validates configuration and loads any cached session. It is
// idempotent; the first failure is sticky.
func (g *Gate) EnsureReady() error {
	g.readyOnce.Do(func() {
		if g.APIKey == "" {
			g.readyErr = ErrNotConfigured
			return
		}
		cached, err := loadSession(g.CachePath)
		if err != nil {
			g.readyErr = fmt.Errorf("read session cache: %w", err)
			return
		}
		g.mu.Lock()
		g.session = cached
		g.mu.Unlock()
	})
	return g.readyErr
}

// Current returns the signed-in session, or nil.
func (g *Gate) Current() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// OnAuth registers fn and invokes it immediately with the current session
// (possibly nil), then again after every sign-in and sign-out. The returned
// function unregisters; calling it twice is safe.
func (g *Gate) OnAuth(fn func(*Session)) func() {
	g.mu.Lock()
	g.nextObs++
	id := g.nextObs
	g.observers[id] = fn
	current := g.session
	g.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.observers, id)
			g.mu.Unlock()
		})
	}
}

func (g *Gate) setSession(s *Session) {
	g.mu.Lock()
	g.session = s
	obs := make([]func(*Session), 0, len(g.observers))
	for _, fn := range g.observers {
		obs = append(obs, fn)
	}
	g.mu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

type tokenResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (r *tokenResponse) toSession() *Session {
	s := &Session{
		UID:          r.LocalID,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
	}
	if secs, err := strconv.Atoi(r.ExpiresIn); err == nil && secs > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return s
}

// SignUp creates an account and, when displayName is given, sets it in a
// follow-up call before the session is cached.
func (g *Gate) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	if err := g.EnsureReady(); err != nil {
		return nil, err
	}
	var resp tokenResponse
	err := g.call(ctx, "accounts:signUp", map[string]any{
		"email":             strings.TrimSpace(email),
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	session := resp.toSession()

	if displayName = strings.TrimSpace(displayName); displayName != "" {
		if err := g.updateDisplayName(ctx, session, displayName); err == nil {
			session.DisplayName = displayName
		}
	}

	if err := saveSession(g.CachePath, session); err != nil {
		return nil, fmt.Errorf("cache session: %w", err)
	}
	g.setSession(session)
	return session, nil
}

func (g *Gate) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if err := g.EnsureReady(); err != nil {
		return nil, err
	}
	var resp tokenResponse
	err := g.call(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             strings.TrimSpace(email),
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	session := resp.toSession()
	if err := saveSession(g.CachePath, session); err != nil {
		return nil, fmt.Errorf("cache session: %w", err)
	}
	g.setSession(session)
	return session, nil
}

// SignOut drops the session locally. The provider keeps no server-side
// session for password sign-in, so there is nothing remote to revoke. The
// cache is cleared even when no API key is configured: signing out of a
// stale cache must not require a working provider setup.
func (g *Gate) SignOut() error {
	if err := clearSession(g.CachePath); err != nil {
		return err
	}
	g.setSession(nil)
	return nil
}

// SendReset asks the provider to email a password reset link.
func (g *Gate) SendReset(ctx context.Context, email string) error {
	if err := g.EnsureReady(); err != nil {
		return err
	}
	return g.call(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       strings.TrimSpace(email),
	}, nil)
}

// UpdateDisplayName changes the name on the signed-in account and the cache.
func (g *Gate) UpdateDisplayName(ctx context.Context, displayName string) error {
	if err := g.EnsureReady(); err != nil {
		return err
	}
	session := g.Current()
	if session == nil {
		return ErrSignedOut
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return errors.New("display name is required")
	}
	if err := g.updateDisplayName(ctx, session, displayName); err != nil {
		return err
	}
	session.DisplayName = displayName
	if err := saveSession(g.CachePath, session); err != nil {
		return fmt.Errorf("cache session: %w", err)
	}
	g.setSession(session)
	return nil
}

func (g *Gate) updateDisplayName(ctx context.Context, session *Session, displayName string) error {
	return g.call(ctx, "accounts:update", map[string]any{
		"idToken":           session.IDToken,
		"displayName":       displayName,
		"returnSecureToken": false,
	}, nil)
}

// call posts one Identity Toolkit RPC and decodes the reply into out.
func (g *Gate) call(ctx context.Context, rpc string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(g.Endpoint, "/")
	url := fmt.Sprintf("%s/%s?key=%s", endpoint, rpc, g.APIKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTP.Do(request)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(bodyBytes, &errResp)
		code := errResp.Error.Message
		if code == "" {
			code = strings.TrimSpace(string(bodyBytes))
		}
		return &AuthError{Status: resp.StatusCode, Code: code}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("invalid provider response: %w", err)
	}
	return nil
}
