package app

import (
	"context"

	"gita-chat/internal/auth"
	"gita-chat/internal/chat"
	"gita-chat/internal/store"
)

// Application bundles the wired subsystems: identity gate, conversation
// store, backend client, and logging. A Coordinator is minted per signed-in
// user with NewCoordinator once the uid is known.
type Application struct {
	Config Config
	Logger *Logger
	Gate   *auth.Gate
	Store  store.ConversationStore
	Chat   chat.Responder
}

// NewApplication wires everything from config. mockMode replaces the backend
// with the canned responder; a configured project selects the remote store,
// otherwise conversations live in the local database.
func NewApplication(ctx context.Context, cfg Config, mockMode bool) (*Application, error) {
	logger := NewLogger(DefaultLogWriter())

	var responder chat.Responder
	if mockMode {
		responder = chat.NewClient("mock://")
	} else {
		responder = chat.NewClient(cfg.APIURL)
	}

	var st store.ConversationStore
	if cfg.Project != "" {
		remote, err := store.NewFirestoreStore(ctx, cfg.Project, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		st = remote
	} else {
		local, err := store.NewLocalStore(cfg.StoreRoot)
		if err != nil {
			return nil, err
		}
		st = local
	}

	gate := auth.NewGate(cfg.AuthAPIKey, cfg.SessionPath)

	return &Application{
		Config: cfg,
		Logger: logger,
		Gate:   gate,
		Store:  st,
		Chat:   responder,
	}, nil
}

// CoordinatorFor builds the per-user coordinator with the configured default
// mode (falling back to scholar on anything unknown or unavailable).
func (a *Application) CoordinatorFor(uid string) *Coordinator {
	mode, ok := ParseMode(a.Config.DefaultMode)
	if !ok || !IsAvailable(mode) {
		mode = ModeScholar
	}
	return NewCoordinator(a.Store, a.Chat, a.Logger, uid, mode)
}

// Close releases the store; the chat client and gate hold no resources.
func (a *Application) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
