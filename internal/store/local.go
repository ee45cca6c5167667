package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// LocalStore keeps conversations in a SQLite database on disk. It is the
// fallback when no Firestore project is configured and the backend for tests;
// subscriptions are served from an in-process notification hub instead of a
// server-side listener.
type LocalStore struct {
	Root   string
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error

	subMu    sync.Mutex
	nextID   int
	convSubs map[int]*localConvSub
	msgSubs  map[int]*localMsgSub
}

type localConvSub struct {
	uid   string
	limit int
	ch    chan []Conversation
}

type localMsgSub struct {
	uid            string
	conversationID string
	limit          int
	ch             chan []Message
}

// DefaultStoreRoot prefers the XDG data dir and falls back to ~/.local/share.
func DefaultStoreRoot() string {
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return filepath.Join(base, "gita-chat", "storage")
	}
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".local", "share", "gita-chat", "storage")
	}
	return filepath.Join(os.TempDir(), "gita-chat", "storage")
}

func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		root = DefaultStoreRoot()
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	st := &LocalStore{
		Root:     root,
		dbPath:   filepath.Join(root, "gita-chat.db"),
		convSubs: map[int]*localConvSub{},
		msgSubs:  map[int]*localMsgSub{},
	}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *LocalStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = err
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				owner_uid TEXT NOT NULL,
				title TEXT,
				last_message TEXT NOT NULL DEFAULT '',
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated ON conversations(owner_uid, updated_at_ns);`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT NOT NULL,
				conversation_id TEXT NOT NULL,
				owner_uid TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				mode TEXT,
				citations TEXT,
				generation_time REAL,
				model_used TEXT,
				created_at_ns INTEGER NOT NULL,
				PRIMARY KEY (conversation_id, id)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at_ns);`,
			`CREATE TABLE IF NOT EXISTS profiles (
				uid TEXT PRIMARY KEY,
				data TEXT NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = err
				return
			}
		}

		s.db = db
	})
	return s.err
}

func (s *LocalStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("sqlite store unavailable")
	}
	return db, nil
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()

	s.subMu.Lock()
	for id, sub := range s.convSubs {
		close(sub.ch)
		delete(s.convSubs, id)
	}
	for id, sub := range s.msgSubs {
		close(sub.ch)
		delete(s.msgSubs, id)
	}
	s.subMu.Unlock()

	if db == nil {
		return nil
	}
	return db.Close()
}

func (s *LocalStore) CreateConversation(ctx context.Context, uid, title string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", ErrMissingUID
	}
	db, err := s.dbConn()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UnixNano()
	_, err = db.ExecContext(ctx,
		`INSERT INTO conversations(id, owner_uid, title, last_message, created_at_ns, updated_at_ns)
		 VALUES(?, ?, ?, '', ?, ?)`,
		id, uid, nullIfEmpty(title), now, now,
	)
	if err != nil {
		return "", &PersistenceError{Op: "create conversation", Err: err}
	}
	s.notifyConversations(uid)
	return id, nil
}

func (s *LocalStore) AddMessage(ctx context.Context, uid, conversationID string, msg Message) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", ErrMissingUID
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", errors.New("missing conversation id")
	}
	db, err := s.dbConn()
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	var citations any
	if len(msg.Citations) > 0 {
		b, err := json.Marshal(msg.Citations)
		if err != nil {
			return "", &PersistenceError{Op: "encode citations", Err: err}
		}
		citations = string(b)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO messages(id, conversation_id, owner_uid, role, content, mode, citations, generation_time, model_used, created_at_ns)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, uid, strings.TrimSpace(msg.Role), msg.Content,
		nullIfEmpty(msg.Mode), citations, msg.GenerationTime, nullIfEmpty(msg.ModelUsed),
		msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", &PersistenceError{Op: "append message", Err: err}
	}
	s.notifyMessages(uid, conversationID)

	// Second, independent write: bump the parent's preview. The message is
	// already persisted, so a failure here is reported alongside the id.
	_, err = db.ExecContext(ctx,
		`UPDATE conversations SET last_message = ?, updated_at_ns = ? WHERE id = ? AND owner_uid = ?`,
		Preview(msg.Content), time.Now().UnixNano(), conversationID, uid,
	)
	if err != nil {
		return msg.ID, &PersistenceError{Op: "update conversation preview", Err: err}
	}
	s.notifyConversations(uid)
	return msg.ID, nil
}

func (s *LocalStore) ListConversations(ctx context.Context, uid string, limit int) ([]Conversation, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, owner_uid, title, last_message, created_at_ns, updated_at_ns
		 FROM conversations
		 WHERE owner_uid = ?
		 ORDER BY updated_at_ns DESC
		 LIMIT ?`,
		uid, limit,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "list conversations", Err: err}
	}
	defer rows.Close()

	out := make([]Conversation, 0, 16)
	for rows.Next() {
		var c Conversation
		var title sql.NullString
		var createdNS, updatedNS int64
		if err := rows.Scan(&c.ID, &c.OwnerUID, &title, &c.LastMessage, &createdNS, &updatedNS); err != nil {
			continue
		}
		if title.Valid {
			c.Title = title.String
		}
		c.CreatedAt = time.Unix(0, createdNS)
		c.UpdatedAt = time.Unix(0, updatedNS)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *LocalStore) GetMessages(ctx context.Context, uid, conversationID string, limit int) ([]Message, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, mode, citations, generation_time, model_used, created_at_ns
		 FROM messages
		 WHERE conversation_id = ? AND owner_uid = ?
		 ORDER BY created_at_ns ASC, id ASC
		 LIMIT ?`,
		conversationID, uid, limit,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "load messages", Err: err}
	}
	defer rows.Close()

	out := make([]Message, 0, 64)
	for rows.Next() {
		var m Message
		var mode, citations, modelUsed sql.NullString
		var genTime sql.NullFloat64
		var createdNS int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &mode, &citations, &genTime, &modelUsed, &createdNS); err != nil {
			continue
		}
		if mode.Valid {
			m.Mode = mode.String
		}
		if citations.Valid && citations.String != "" {
			_ = json.Unmarshal([]byte(citations.String), &m.Citations)
		}
		if genTime.Valid {
			m.GenerationTime = genTime.Float64
		}
		if modelUsed.Valid {
			m.ModelUsed = modelUsed.String
		}
		m.CreatedAt = time.Unix(0, createdNS)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *LocalStore) SetTitle(ctx context.Context, uid, conversationID, title string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrMissingUID
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at_ns = ? WHERE id = ? AND owner_uid = ?`,
		nullIfEmpty(title), time.Now().UnixNano(), conversationID, uid,
	)
	if err != nil {
		return &PersistenceError{Op: "set title", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	s.notifyConversations(uid)
	return nil
}

func (s *LocalStore) DeleteConversation(ctx context.Context, uid, conversationID string) (DeleteSummary, error) {
	summary := DeleteSummary{ConversationID: conversationID}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return summary, ErrMissingUID
	}
	db, err := s.dbConn()
	if err != nil {
		return summary, err
	}

	// Child messages first, one by one; a failed row never aborts the rest.
	// Enumeration is batched, so keep going until a batch yields nothing new:
	// rows whose delete failed stay behind and must not be retried forever.
	attempted := make(map[string]bool)
	for {
		msgs, err := s.GetMessages(ctx, uid, conversationID, DefaultMessageLimit)
		if err != nil {
			summary.Outcomes = append(summary.Outcomes, DeleteOutcome{Err: err})
			break
		}
		progressed := false
		for _, m := range msgs {
			if attempted[m.ID] {
				continue
			}
			attempted[m.ID] = true
			progressed = true
			_, err := db.ExecContext(ctx,
				`DELETE FROM messages WHERE conversation_id = ? AND id = ? AND owner_uid = ?`,
				conversationID, m.ID, uid,
			)
			summary.Outcomes = append(summary.Outcomes, DeleteOutcome{MessageID: m.ID, Err: err})
		}
		if !progressed || len(msgs) < DefaultMessageLimit {
			break
		}
	}

	_, err = db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND owner_uid = ?`,
		conversationID, uid,
	)
	if err != nil {
		return summary, &PersistenceError{Op: "delete conversation", Err: err}
	}
	s.notifyConversations(uid)
	s.notifyMessages(uid, conversationID)
	return summary, nil
}

func (s *LocalStore) SubscribeConversations(ctx context.Context, uid string, limit int) (*ConversationStream, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	if err := s.init(); err != nil {
		return nil, err
	}

	sub := &localConvSub{uid: uid, limit: limit, ch: make(chan []Conversation, 1)}
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.convSubs[id] = sub
	s.subMu.Unlock()

	stream := &ConversationStream{
		Updates: sub.ch,
		cancel: func() {
			s.subMu.Lock()
			if cur, ok := s.convSubs[id]; ok {
				delete(s.convSubs, id)
				close(cur.ch)
			}
			s.subMu.Unlock()
		},
	}
	context.AfterFunc(ctx, stream.Cancel)

	// Deliver the current snapshot immediately, matching a remote listener's
	// initial callback.
	s.notifyConversations(uid)
	return stream, nil
}

func (s *LocalStore) SubscribeMessages(ctx context.Context, uid, conversationID string, limit int) (*MessageStream, error) {
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
	if err := s.init(); err != nil {
		return nil, err
	}

	sub := &localMsgSub{uid: uid, conversationID: conversationID, limit: limit, ch: make(chan []Message, 1)}
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.msgSubs[id] = sub
	s.subMu.Unlock()

	stream := &MessageStream{
		ConversationID: conversationID,
		Updates:        sub.ch,
		cancel: func() {
			s.subMu.Lock()
			if cur, ok := s.msgSubs[id]; ok {
				delete(s.msgSubs, id)
				close(cur.ch)
			}
			s.subMu.Unlock()
		},
	}
	context.AfterFunc(ctx, stream.Cancel)

	s.notifyMessages(uid, conversationID)
	return stream, nil
}

func (s *LocalStore) SaveProfile(ctx context.Context, uid string, profile map[string]any) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrMissingUID
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}

	existing, err := s.GetProfile(ctx, uid)
	if err != nil {
		return err
	}
	merged := map[string]any{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range profile {
		merged[k] = v
	}
	now := time.Now()
	if existing == nil {
		merged["createdAt"] = now.UTC().Format(time.RFC3339)
	}
	merged["updatedAt"] = now.UTC().Format(time.RFC3339)

	payload, err := json.Marshal(merged)
	if err != nil {
		return &PersistenceError{Op: "encode profile", Err: err}
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO profiles(uid, data, updated_at_ns) VALUES(?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET data=excluded.data, updated_at_ns=excluded.updated_at_ns`,
		uid, string(payload), now.UnixNano(),
	)
	if err != nil {
		return &PersistenceError{Op: "save profile", Err: err}
	}
	return nil
}

func (s *LocalStore) GetProfile(ctx context.Context, uid string) (map[string]any, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	var data string
	err = db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE uid = ?`, uid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load profile", Err: err}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, &PersistenceError{Op: "decode profile", Err: err}
	}
	return out, nil
}

// notifyConversations recomputes and publishes the conversation snapshot for
// every live subscriber of uid. Delivery is latest-wins: a slow consumer only
// ever misses intermediate snapshots, never the final one.
func (s *LocalStore) notifyConversations(uid string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.convSubs {
		if sub.uid != uid {
			continue
		}
		snap, err := s.ListConversations(context.Background(), uid, sub.limit)
		if err != nil {
			continue
		}
		push(sub.ch, snap)
	}
}

func (s *LocalStore) notifyMessages(uid, conversationID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.msgSubs {
		if sub.uid != uid || sub.conversationID != conversationID {
			continue
		}
		snap, err := s.GetMessages(context.Background(), uid, conversationID, sub.limit)
		if err != nil {
			continue
		}
		push(sub.ch, snap)
	}
}

// push replaces any undelivered snapshot with the newest one.
func push[T any](ch chan []T, snap []T) {
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

func nullIfEmpty(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
