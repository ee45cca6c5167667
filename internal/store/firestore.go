package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore document layout, shared with the web client:
//
//	users/{uid}                            profile document
//	users/{uid}/conversations/{cid}        title, lastMessage, createdAt, updatedAt
//	users/{uid}/conversations/{cid}/messages/{mid}
//
// Field names are camelCase because the collections predate this client.
const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// FirestoreStore implements ConversationStore on a Firestore project.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore connects to projectID. credentialsFile may be empty, in
// which case application default credentials are used.
func NewFirestoreStore(ctx context.Context, projectID, credentialsFile string) (*FirestoreStore, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("missing firestore project id")
	}
	var opts []option.ClientOption
	if credentialsFile = strings.TrimSpace(credentialsFile); credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) userDoc(uid string) *firestore.DocumentRef {
	return s.client.Collection(usersCollection).Doc(uid)
}

func (s *FirestoreStore) conversations(uid string) *firestore.CollectionRef {
	return s.userDoc(uid).Collection(conversationsCollection)
}

func (s *FirestoreStore) messages(uid, conversationID string) *firestore.CollectionRef {
	return s.conversations(uid).Doc(conversationID).Collection(messagesCollection)
}

func (s *FirestoreStore) CreateConversation(ctx context.Context, uid, title string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", ErrMissingUID
	}
	doc := s.conversations(uid).NewDoc()
	_, err := doc.Create(ctx, map[string]any{
		"title":       strings.TrimSpace(title),
		"lastMessage": "",
		"createdAt":   firestore.ServerTimestamp,
		"updatedAt":   firestore.ServerTimestamp,
	})
	if err != nil {
		return "", &PersistenceError{Op: "create conversation", Err: err}
	}
	return doc.ID, nil
}

func (s *FirestoreStore) AddMessage(ctx context.Context, uid, conversationID string, msg Message) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", ErrMissingUID
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", errors.New("missing conversation id")
	}

	data := map[string]any{
		"role":      strings.TrimSpace(msg.Role),
		"content":   msg.Content,
		"createdAt": firestore.ServerTimestamp,
	}
	if msg.Mode != "" {
		data["mode"] = msg.Mode
	}
	if len(msg.Citations) > 0 {
		data["citations"] = msg.Citations
	}
	if msg.GenerationTime > 0 {
		data["generationTime"] = msg.GenerationTime
	}
	if msg.ModelUsed != "" {
		data["modelUsed"] = msg.ModelUsed
	}

	doc := s.messages(uid, conversationID).NewDoc()
	if _, err := doc.Create(ctx, data); err != nil {
		return "", &PersistenceError{Op: "append message", Err: err}
	}

	// Second, independent write: the conversation preview. The message is
	// already durable, so a failure here still returns the message id.
	_, err := s.conversations(uid).Doc(conversationID).Set(ctx, map[string]any{
		"lastMessage": Preview(msg.Content),
		"updatedAt":   firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return doc.ID, &PersistenceError{Op: "update conversation preview", Err: err}
	}
	return doc.ID, nil
}

func (s *FirestoreStore) ListConversations(ctx context.Context, uid string, limit int) ([]Conversation, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	it := s.conversations(uid).
		OrderBy("updatedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer it.Stop()
	return collectConversations(uid, it)
}

func (s *FirestoreStore) GetMessages(ctx context.Context, uid, conversationID string, limit int) ([]Message, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	it := s.messages(uid, conversationID).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	defer it.Stop()
	return collectMessages(conversationID, it)
}

func (s *FirestoreStore) SetTitle(ctx context.Context, uid, conversationID, title string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrMissingUID
	}
	_, err := s.conversations(uid).Doc(conversationID).Set(ctx, map[string]any{
		"title":     strings.TrimSpace(title),
		"updatedAt": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return &PersistenceError{Op: "set title", Err: err}
	}
	return nil
}

func (s *FirestoreStore) DeleteConversation(ctx context.Context, uid, conversationID string) (DeleteSummary, error) {
	summary := DeleteSummary{ConversationID: conversationID}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return summary, ErrMissingUID
	}

	// Each child message is deleted independently; a failed row is recorded
	// and never stops the sweep or the parent delete.
	it := s.messages(uid, conversationID).Documents(ctx)
	defer it.Stop()
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			summary.Outcomes = append(summary.Outcomes, DeleteOutcome{Err: err})
			break
		}
		_, err = doc.Ref.Delete(ctx)
		summary.Outcomes = append(summary.Outcomes, DeleteOutcome{MessageID: doc.Ref.ID, Err: err})
	}

	if _, err := s.conversations(uid).Doc(conversationID).Delete(ctx); err != nil {
		return summary, &PersistenceError{Op: "delete conversation", Err: err}
	}
	return summary, nil
}

func (s *FirestoreStore) SubscribeConversations(ctx context.Context, uid string, limit int) (*ConversationStream, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	if limit <= 0 {
		limit = DefaultConversationLimit
	}

	ctx, cancel := context.WithCancel(ctx)
	it := s.conversations(uid).
		OrderBy("updatedAt", firestore.Desc).
		Limit(limit).
		Snapshots(ctx)

	ch := make(chan []Conversation, 1)
	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return
			}
			convs, err := collectConversations(uid, qs.Documents)
			if err != nil {
				continue
			}
			push(ch, convs)
		}
	}()

	return &ConversationStream{Updates: ch, cancel: cancel}, nil
}

func (s *FirestoreStore) SubscribeMessages(ctx context.Context, uid, conversationID string, limit int) (*MessageStream, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("missing conversation id")
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	ctx, cancel := context.WithCancel(ctx)
	it := s.messages(uid, conversationID).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit).
		Snapshots(ctx)

	ch := make(chan []Message, 1)
	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return
			}
			msgs, err := collectMessages(conversationID, qs.Documents)
			if err != nil {
				continue
			}
			push(ch, msgs)
		}
	}()

	return &MessageStream{ConversationID: conversationID, Updates: ch, cancel: cancel}, nil
}

func (s *FirestoreStore) SaveProfile(ctx context.Context, uid string, profile map[string]any) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrMissingUID
	}
	data := map[string]any{"updatedAt": firestore.ServerTimestamp}
	for k, v := range profile {
		data[k] = v
	}
	if _, err := s.userDoc(uid).Get(ctx); status.Code(err) == codes.NotFound {
		data["createdAt"] = firestore.ServerTimestamp
	}
	if _, err := s.userDoc(uid).Set(ctx, data, firestore.MergeAll); err != nil {
		return &PersistenceError{Op: "save profile", Err: err}
	}
	return nil
}

func (s *FirestoreStore) GetProfile(ctx context.Context, uid string) (map[string]any, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	doc, err := s.userDoc(uid).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load profile", Err: err}
	}
	return doc.Data(), nil
}

func collectConversations(uid string, it *firestore.DocumentIterator) ([]Conversation, error) {
	out := make([]Conversation, 0, 16)
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return out, &PersistenceError{Op: "list conversations", Err: err}
		}
		out = append(out, conversationFromData(uid, doc.Ref.ID, doc.Data()))
	}
}

func collectMessages(conversationID string, it *firestore.DocumentIterator) ([]Message, error) {
	out := make([]Message, 0, 64)
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return out, &PersistenceError{Op: "load messages", Err: err}
		}
		out = append(out, messageFromData(conversationID, doc.Ref.ID, doc.Data()))
	}
}
