package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	st, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateConversationAppearsInList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.CreateConversation(ctx, "u1", "first question")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty conversation id")
	}

	convs, err := st.ListConversations(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].ID != id {
		t.Errorf("listed id = %q, want %q", convs[0].ID, id)
	}
	if convs[0].Title != "first question" {
		t.Errorf("title = %q", convs[0].Title)
	}
	if convs[0].LastMessage != "" {
		t.Errorf("new conversation preview = %q, want empty", convs[0].LastMessage)
	}
}

func TestCreateConversationRequiresUID(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.CreateConversation(context.Background(), "  ", "t"); err != ErrMissingUID {
		t.Fatalf("err = %v, want ErrMissingUID", err)
	}
}

func TestMessagesOrderedByCreation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.CreateConversation(ctx, "u1", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	base := time.Now().Add(-time.Minute)
	for i, content := range []string{"one", "two", "three"} {
		_, err := st.AddMessage(ctx, "u1", id, Message{
			Role:      "user",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AddMessage %q: %v", content, err)
		}
	}

	msgs, err := st.GetMessages(ctx, "u1", id, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestAddMessageUpdatesPreview(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateConversation(ctx, "u1", "t")
	long := ""
	for i := 0; i < 50; i++ {
		long += "padding out the answer "
	}
	if _, err := st.AddMessage(ctx, "u1", id, Message{Role: "assistant", Content: long}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	convs, err := st.ListConversations(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	got := convs[0].LastMessage
	if len([]rune(got)) > PreviewLimit {
		t.Errorf("preview length %d exceeds limit %d", len([]rune(got)), PreviewLimit)
	}
	if got == "" {
		t.Error("preview not updated")
	}
}

func TestListOrderedByMostRecentActivity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a, _ := st.CreateConversation(ctx, "u1", "a")
	time.Sleep(2 * time.Millisecond)
	b, _ := st.CreateConversation(ctx, "u1", "b")
	time.Sleep(2 * time.Millisecond)

	// Touching a moves it back to the top.
	if _, err := st.AddMessage(ctx, "u1", a, Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	convs, err := st.ListConversations(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != a || convs[1].ID != b {
		t.Errorf("order = [%s, %s], want [%s, %s]", convs[0].ID, convs[1].ID, a, b)
	}
}

func TestListScopedToOwner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.CreateConversation(ctx, "u1", "mine")
	st.CreateConversation(ctx, "u2", "theirs")

	convs, err := st.ListConversations(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].Title != "mine" {
		t.Fatalf("u1 sees %d conversations", len(convs))
	}
}

func TestSetTitle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateConversation(ctx, "u1", "")
	if err := st.SetTitle(ctx, "u1", id, "What is dharma?"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	// Re-asserting the same title is a harmless no-op.
	if err := st.SetTitle(ctx, "u1", id, "What is dharma?"); err != nil {
		t.Fatalf("SetTitle again: %v", err)
	}

	convs, _ := st.ListConversations(ctx, "u1", 0)
	if convs[0].Title != "What is dharma?" {
		t.Errorf("title = %q", convs[0].Title)
	}

	if err := st.SetTitle(ctx, "u1", "no-such-id", "x"); err == nil {
		t.Error("expected error for unknown conversation")
	}
}

func TestDeleteConversationRemovesEverything(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateConversation(ctx, "u1", "t")
	for _, c := range []string{"q", "a", "q2"} {
		st.AddMessage(ctx, "u1", id, Message{Role: "user", Content: c})
	}

	summary, err := st.DeleteConversation(ctx, "u1", id)
	if err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if summary.ConversationID != id {
		t.Errorf("summary conversation = %q", summary.ConversationID)
	}
	if len(summary.Outcomes) != 3 {
		t.Errorf("got %d outcomes, want 3", len(summary.Outcomes))
	}
	if summary.Failed() != 0 {
		t.Errorf("Failed() = %d, want 0", summary.Failed())
	}

	convs, _ := st.ListConversations(ctx, "u1", 0)
	if len(convs) != 0 {
		t.Errorf("conversation still listed after delete")
	}
	msgs, _ := st.GetMessages(ctx, "u1", id, 0)
	if len(msgs) != 0 {
		t.Errorf("%d orphan messages remain", len(msgs))
	}
}

func TestDeleteConversationBeyondEnumerationBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateConversation(ctx, "u1", "long one")
	total := DefaultMessageLimit + 10
	for i := 0; i < total; i++ {
		if _, err := st.AddMessage(ctx, "u1", id, Message{Role: "user", Content: "m"}); err != nil {
			t.Fatalf("AddMessage %d: %v", i, err)
		}
	}

	summary, err := st.DeleteConversation(ctx, "u1", id)
	if err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if len(summary.Outcomes) != total {
		t.Errorf("got %d outcomes, want %d", len(summary.Outcomes), total)
	}
	if summary.Failed() != 0 {
		t.Errorf("Failed() = %d, want 0", summary.Failed())
	}

	msgs, _ := st.GetMessages(ctx, "u1", id, 0)
	if len(msgs) != 0 {
		t.Fatalf("%d messages survive a delete past the enumeration batch size", len(msgs))
	}
}

func TestSubscribeConversationsPushesSnapshots(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stream, err := st.SubscribeConversations(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("SubscribeConversations: %v", err)
	}
	defer stream.Cancel()

	// Initial snapshot: empty list.
	select {
	case snap := <-stream.Updates:
		if len(snap) != 0 {
			t.Fatalf("initial snapshot has %d conversations", len(snap))
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	id, _ := st.CreateConversation(ctx, "u1", "hello")
	select {
	case snap := <-stream.Updates:
		if len(snap) != 1 || snap[0].ID != id {
			t.Fatalf("snapshot = %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after create")
	}
}

func TestSubscribeMessagesSnapshotOrderAndCancel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateConversation(ctx, "u1", "t")
	st.AddMessage(ctx, "u1", id, Message{Role: "user", Content: "first", CreatedAt: time.Now().Add(-time.Second)})

	stream, err := st.SubscribeMessages(ctx, "u1", id, 0)
	if err != nil {
		t.Fatalf("SubscribeMessages: %v", err)
	}
	if stream.ConversationID != id {
		t.Errorf("stream conversation = %q", stream.ConversationID)
	}

	select {
	case snap := <-stream.Updates:
		if len(snap) != 1 || snap[0].Content != "first" {
			t.Fatalf("snapshot = %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	stream.Cancel()
	stream.Cancel() // second cancel is a no-op

	// Mutations after cancel must not reach the closed stream (no panic).
	if _, err := st.AddMessage(ctx, "u1", id, Message{Role: "user", Content: "second"}); err != nil {
		t.Fatalf("AddMessage after cancel: %v", err)
	}
}

func TestSubscriptionLatestWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stream, err := st.SubscribeConversations(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("SubscribeConversations: %v", err)
	}
	defer stream.Cancel()

	// Nobody draining: rapid mutations collapse into the newest snapshot.
	for i := 0; i < 5; i++ {
		st.CreateConversation(ctx, "u1", "c")
	}

	select {
	case snap := <-stream.Updates:
		if len(snap) != 5 {
			t.Fatalf("pending snapshot has %d conversations, want 5", len(snap))
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot pending")
	}
}

func TestProfileRoundTripAndMerge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got, err := st.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got != nil {
		t.Fatalf("profile for unknown uid = %v, want nil", got)
	}

	if err := st.SaveProfile(ctx, "u1", map[string]any{"displayName": "Arjuna", "email": "a@example.com"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	// Partial save merges instead of replacing.
	if err := st.SaveProfile(ctx, "u1", map[string]any{"displayName": "Partha"}); err != nil {
		t.Fatalf("SaveProfile merge: %v", err)
	}

	got, err = st.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got["displayName"] != "Partha" {
		t.Errorf("displayName = %v", got["displayName"])
	}
	if got["email"] != "a@example.com" {
		t.Errorf("email = %v, want preserved", got["email"])
	}
	if got["createdAt"] == nil || got["updatedAt"] == nil {
		t.Error("timestamps missing from profile")
	}
}

func TestPreviewHelpers(t *testing.T) {
	if got := Preview("line one\nline two"); got != "line one line two" {
		t.Errorf("Preview = %q", got)
	}
	long := make([]rune, PreviewLimit+50)
	for i := range long {
		long[i] = 'x'
	}
	if got := Preview(string(long)); len([]rune(got)) != PreviewLimit {
		t.Errorf("preview length = %d", len([]rune(got)))
	}
	if got := TruncateRunes("नमस्ते", 3); got != "नमस" {
		t.Errorf("TruncateRunes = %q", got)
	}
}
