package app

import (
	"context"
	"errors"
	"strings"
	"sync"

	"gita-chat/internal/chat"
	"gita-chat/internal/store"
)

const titleLimit = 60

// Coordinator keeps the active-conversation pointer consistent with the
// store subscriptions. At most one conversation-list subscription and one
// message subscription are live at any time; switching conversations cancels
// the old message stream before binding the new one.
type Coordinator struct {
	store   store.ConversationStore
	chat    chat.Responder
	logger  *Logger
	effects *Effects
	uid     string
	mode    Mode

	convCh chan []store.Conversation
	msgCh  chan []store.Message

	mu         sync.Mutex
	ctx        context.Context
	started    bool
	closed     bool
	active     string
	convStream *store.ConversationStream
	msgStream  *store.MessageStream
}

// TurnResult is the outcome of one Send. Exactly one of Reply or ErrorText
// is set: backend failures become inline error text styled like an assistant
// message and are never persisted.
type TurnResult struct {
	ConversationID string
	Created        bool
	Reply          *chat.Reply
	ErrorText      string
}

func NewCoordinator(st store.ConversationStore, responder chat.Responder, logger *Logger, uid string, mode Mode) *Coordinator {
	return &Coordinator{
		store:   st,
		chat:    responder,
		logger:  logger,
		effects: NewEffects(logger),
		uid:     uid,
		mode:    mode,
		convCh:  make(chan []store.Conversation, 1),
		msgCh:   make(chan []store.Message, 1),
	}
}

// ConversationUpdates delivers full ordered snapshots of the sidebar list.
func (c *Coordinator) ConversationUpdates() <-chan []store.Conversation {
	return c.convCh
}

// MessageUpdates delivers full ordered snapshots of the active conversation.
// Snapshots from a conversation that is no longer active are dropped.
func (c *Coordinator) MessageUpdates() <-chan []store.Message {
	return c.msgCh
}

// EffectErrors reports failed background writes.
func (c *Coordinator) EffectErrors() <-chan EffectError {
	return c.effects.Errors()
}

// Active returns the current conversation id, or "" for a fresh chat.
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Mode returns the answer mode used for outgoing turns.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the answer mode for subsequent turns. Unavailable modes
// are rejected.
func (c *Coordinator) SetMode(mode Mode) error {
	if !IsAvailable(mode) {
		return errors.New("mode is not available: " + string(mode))
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return nil
}

// Examples returns starter questions for an empty chat. The client falls
// back to a built-in set, so this never fails.
func (c *Coordinator) Examples(ctx context.Context) []string {
	examples, err := c.chat.Examples(ctx)
	if err != nil || len(examples) == 0 {
		return nil
	}
	return examples
}

// Start binds the conversation-list subscription. Calling it twice is an
// error; ctx outlives Start and bounds every subscription the coordinator
// makes.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("coordinator is closed")
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	c.ctx = ctx
	c.mu.Unlock()

	stream, err := c.store.SubscribeConversations(ctx, c.uid, 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.convStream = stream
	c.mu.Unlock()

	go func() {
		for snap := range stream.Updates {
			sendLatest(c.convCh, snap)
		}
	}()
	return nil
}

// NewChat clears the active conversation so the next Send creates a fresh
// one. The old message stream is cancelled and the transcript emptied.
func (c *Coordinator) NewChat() {
	c.mu.Lock()
	c.active = ""
	old := c.msgStream
	c.msgStream = nil
	c.mu.Unlock()

	old.Cancel()
	sendLatest(c.msgCh, nil)
}

// Select makes conversationID the active conversation: the previous message
// subscription is cancelled first, then a new one is bound. Selecting the
// already-active conversation rebinds cleanly.
func (c *Coordinator) Select(conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return errors.New("missing conversation id")
	}

	c.mu.Lock()
	if !c.started || c.closed {
		c.mu.Unlock()
		return errors.New("coordinator is not running")
	}
	ctx := c.ctx
	old := c.msgStream
	c.msgStream = nil
	c.active = conversationID
	c.mu.Unlock()

	old.Cancel()

	stream, err := c.store.SubscribeMessages(ctx, c.uid, conversationID, 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.active != conversationID || c.closed {
		// The user moved on while we were subscribing.
		c.mu.Unlock()
		stream.Cancel()
		return nil
	}
	c.msgStream = stream
	c.mu.Unlock()

	go c.forwardMessages(stream)
	return nil
}

// forwardMessages relays snapshots while stream is still the bound one;
// anything arriving after a switch is stale and dropped. The identity check
// and the push stay under the mutex so a rebind cannot slip between them;
// sendLatest never blocks, so holding it is safe.
func (c *Coordinator) forwardMessages(stream *store.MessageStream) {
	for snap := range stream.Updates {
		c.mu.Lock()
		if c.msgStream == stream {
			sendLatest(c.msgCh, snap)
		}
		c.mu.Unlock()
	}
}

// Send runs one conversational turn: create the conversation if this is the
// first message, persist the user message, ask the backend, persist the
// answer. Persistence runs on the effect queue and never blocks or fails the
// turn; a backend error comes back as inline ErrorText with nothing stored
// for the assistant.
func (c *Coordinator) Send(ctx context.Context, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty message")
	}

	c.mu.Lock()
	if !c.started || c.closed {
		c.mu.Unlock()
		return nil, errors.New("coordinator is not running")
	}
	conversationID := c.active
	mode := c.mode
	c.mu.Unlock()

	result := &TurnResult{ConversationID: conversationID}
	title := deriveTitle(text)

	if conversationID == "" {
		id, err := c.store.CreateConversation(ctx, c.uid, title)
		if err != nil {
			return nil, err
		}
		result.ConversationID = id
		result.Created = true
		conversationID = id

		c.mu.Lock()
		c.active = id
		c.mu.Unlock()
		if err := c.Select(id); err != nil && c.logger != nil {
			c.logger.Warn("message subscription failed", map[string]interface{}{
				"conversation": id,
				"error":        err.Error(),
			})
		}
	}

	uid := c.uid
	userMsg := store.Message{Role: "user", Content: text, Mode: string(mode)}
	c.effects.Do("persist user message", func(ctx context.Context) error {
		_, err := c.store.AddMessage(ctx, uid, conversationID, userMsg)
		return err
	})

	reply, err := c.chat.Ask(ctx, text, string(mode))
	if err != nil {
		var apiErr *chat.APIError
		if errors.As(err, &apiErr) {
			if c.logger != nil {
				c.logger.Error("backend request failed", map[string]interface{}{
					"conversation": conversationID,
					"status":       apiErr.Status,
					"error":        apiErr.Message,
				})
			}
			result.ErrorText = "I apologize, I could not reach the knowledge base. " + apiErr.Message
			return result, nil
		}
		return nil, err
	}

	assistantMsg := store.Message{
		Role:           "assistant",
		Content:        reply.Response,
		Mode:           reply.Mode,
		Citations:      reply.Citations,
		GenerationTime: reply.GenerationTime,
		ModelUsed:      reply.ModelUsed,
	}
	c.effects.Do("persist assistant message", func(ctx context.Context) error {
		_, err := c.store.AddMessage(ctx, uid, conversationID, assistantMsg)
		return err
	})

	// Only the turn that created the conversation re-asserts the title; later
	// turns leave any rename the user made elsewhere alone.
	if result.Created && title != "" {
		c.effects.Do("assert conversation title", func(ctx context.Context) error {
			return c.store.SetTitle(ctx, uid, conversationID, title)
		})
	}

	result.Reply = reply
	return result, nil
}

// Delete removes a conversation and its messages. When the active
// conversation is deleted the coordinator drops back to a fresh chat, then a
// one-shot list refresh covers stores whose listeners missed the change.
func (c *Coordinator) Delete(ctx context.Context, conversationID string) (store.DeleteSummary, error) {
	summary, err := c.store.DeleteConversation(ctx, c.uid, conversationID)
	if err != nil {
		return summary, err
	}
	if failed := summary.Failed(); failed > 0 && c.logger != nil {
		c.logger.Warn("conversation deleted with leftovers", map[string]interface{}{
			"conversation": conversationID,
			"failed":       failed,
		})
	}

	c.mu.Lock()
	wasActive := c.active == conversationID
	c.mu.Unlock()
	if wasActive {
		c.NewChat()
	}

	if convs, listErr := c.store.ListConversations(ctx, c.uid, 0); listErr == nil {
		sendLatest(c.convCh, convs)
	}
	return summary, nil
}

// Close tears down subscriptions and drains pending effects. Safe to call
// before Start or more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conv := c.convStream
	msg := c.msgStream
	c.convStream = nil
	c.msgStream = nil
	c.mu.Unlock()

	conv.Cancel()
	msg.Cancel()
	c.effects.Close()
}

// deriveTitle collapses the first message to a single line capped at 60
// runes, matching how conversation titles were minted historically.
func deriveTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	return store.TruncateRunes(content, titleLimit)
}

// sendLatest replaces any undelivered snapshot so consumers always see the
// newest state.
func sendLatest[T any](ch chan []T, snap []T) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
