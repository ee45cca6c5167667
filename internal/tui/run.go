package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbletea"

	"gita-chat/internal/app"
	"gita-chat/internal/auth"
)

// Run drives the whole terminal session: sign-in first when no valid session
// is cached, then the chat screen. mockMode skips the identity provider and
// talks to the canned responder, useful without network or config.
func Run(ctx context.Context, application *app.Application, mockMode bool) error {
	session, err := resolveSession(application, mockMode)
	if err != nil {
		return err
	}
	if session == nil {
		// User quit the login screen.
		return nil
	}

	// Health is informational only; the chat surfaces backend failures
	// inline per turn regardless.
	go func() {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := application.Chat.Health(hctx); err != nil {
			application.Logger.Warn("backend health probe failed", map[string]any{"error": err.Error()})
		} else {
			application.Logger.Info("backend healthy", nil)
		}
	}()

	displayName := syncProfile(ctx, application, session)

	coord := application.CoordinatorFor(session.UID)
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Close()

	model := NewChatModel(coord, displayName)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

// syncProfile merges the session identity into the user's profile document
// and returns the display name to greet with, preferring a name set
// elsewhere. Profile writes are best-effort; the chat works without them.
func syncProfile(ctx context.Context, application *app.Application, session *auth.Session) string {
	displayName := session.DisplayName

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if profile, err := application.Store.GetProfile(wctx, session.UID); err == nil && profile != nil {
		if name, ok := profile["displayName"].(string); ok && name != "" {
			displayName = name
		}
	}

	fields := map[string]any{
		"email":     session.Email,
		"lastLogin": time.Now().UTC().Format(time.RFC3339),
	}
	if displayName != "" {
		fields["displayName"] = displayName
	}
	if err := application.Store.SaveProfile(wctx, session.UID, fields); err != nil {
		application.Logger.Warn("profile save failed", map[string]any{"error": err.Error()})
	}
	return displayName
}

func resolveSession(application *app.Application, mockMode bool) (*auth.Session, error) {
	if mockMode {
		return &auth.Session{UID: "mock-user", DisplayName: "Guest"}, nil
	}

	if err := application.Gate.EnsureReady(); err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			return nil, errors.New("no auth key configured: set GITA_AUTH_KEY in the environment or auth_api_key in ~/.gita/config.yaml, or run with --mock")
		}
		return nil, err
	}

	if current := application.Gate.Current(); current != nil && !current.Expired() {
		return current, nil
	}

	login := NewLoginModel(application.Gate, NewTheme())
	p := tea.NewProgram(login, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return nil, err
	}
	return login.Session(), nil
}
