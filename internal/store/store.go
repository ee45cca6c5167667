// Package store persists conversations and messages for the chat client.
//
// Everything is namespaced under a user identifier so one user can never
// read or write another user's documents. Two implementations exist: the
// Firestore adapter used in production and a SQLite store used offline and
// in tests. Both satisfy ConversationStore.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// PreviewLimit caps the denormalized last-message preview on a conversation.
	PreviewLimit = 200

	// DefaultConversationLimit bounds conversation listings and subscriptions.
	DefaultConversationLimit = 50

	// DefaultMessageLimit bounds message fetches and subscriptions.
	DefaultMessageLimit = 500
)

var (
	ErrNotFound   = errors.New("not found")
	ErrMissingUID = errors.New("missing user id")
)

// Conversation is the sidebar-level record. Title and LastMessage are
// denormalized from the message history: title is the first user message,
// LastMessage the most recent one.
type Conversation struct {
	ID          string
	OwnerUID    string
	Title       string
	LastMessage string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is immutable once written; it is only removed as part of deleting
// the whole conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string // user|assistant
	Content        string
	Mode           string
	Citations      []string
	GenerationTime float64
	ModelUsed      string
	CreatedAt      time.Time
}

// PersistenceError wraps a failed store operation with the operation name so
// callers can log it and keep going; per-op context matters more than the
// concrete backend error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DeleteOutcome records the result of removing a single child message during
// conversation deletion.
type DeleteOutcome struct {
	MessageID string
	Err       error
}

// DeleteSummary aggregates the per-message outcomes of a best-effort
// conversation deletion. The parent conversation is always gone when the
// deletion call returns without error, even if some outcomes failed.
type DeleteSummary struct {
	ConversationID string
	Outcomes       []DeleteOutcome
}

// Failed returns how many child messages could not be deleted.
func (s DeleteSummary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// ConversationStream delivers full ordered snapshots of a user's
// conversation list whenever it changes. Cancel releases the underlying
// listener; calling it more than once, or before any update arrived, is safe.
type ConversationStream struct {
	Updates <-chan []Conversation

	cancelOnce sync.Once
	cancel     func()
}

func (s *ConversationStream) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancelOnce.Do(s.cancel)
}

// MessageStream delivers full ordered snapshots of one conversation's
// messages. ConversationID tags every stream so a consumer can drop
// snapshots that arrive after it switched to another conversation.
type MessageStream struct {
	ConversationID string
	Updates        <-chan []Message

	cancelOnce sync.Once
	cancel     func()
}

func (s *MessageStream) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancelOnce.Do(s.cancel)
}

// ConversationStore is the persistence contract the sync coordinator works
// against. All operations are scoped by uid; limit <= 0 selects the default.
type ConversationStore interface {
	// CreateConversation returns the new conversation's id. Both timestamps
	// are set to now and the preview starts empty.
	CreateConversation(ctx context.Context, uid, title string) (string, error)

	// AddMessage appends msg and then, as a separate write, bumps the parent
	// conversation's updated timestamp and preview. The two writes are not
	// atomic: the message id is returned even when the preview update fails,
	// alongside the error.
	AddMessage(ctx context.Context, uid, conversationID string, msg Message) (string, error)

	// ListConversations returns the user's conversations ordered by
	// update time, most recent first.
	ListConversations(ctx context.Context, uid string, limit int) ([]Conversation, error)

	// GetMessages returns a conversation's messages ordered by creation
	// time ascending. A deleted or unknown conversation yields an empty slice.
	GetMessages(ctx context.Context, uid, conversationID string, limit int) ([]Message, error)

	// SetTitle overwrites the title and bumps the update timestamp. It is
	// idempotent with respect to the title value.
	SetTitle(ctx context.Context, uid, conversationID, title string) error

	// DeleteConversation removes the child messages best-effort, then the
	// conversation document. Individual message failures are reported in the
	// summary and never abort the parent deletion.
	DeleteConversation(ctx context.Context, uid, conversationID string) (DeleteSummary, error)

	SubscribeConversations(ctx context.Context, uid string, limit int) (*ConversationStream, error)
	SubscribeMessages(ctx context.Context, uid, conversationID string, limit int) (*MessageStream, error)

	// SaveProfile merges the given fields into the user's profile document.
	SaveProfile(ctx context.Context, uid string, profile map[string]any) error
	// GetProfile returns nil without error when no profile exists yet.
	GetProfile(ctx context.Context, uid string) (map[string]any, error)

	Close() error
}

// Preview truncates content for the conversation's lastMessage field.
func Preview(content string) string {
	return TruncateRunes(oneLine(content), PreviewLimit)
}

// TruncateRunes shortens s to at most max runes, so multi-byte text is never
// split mid-character.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
