package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkovalev/duochat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitEvent(t *testing.T, ch <-chan store.SnapshotEvent) store.SnapshotEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot event")
		return store.SnapshotEvent{}
	}
}

func TestCreateConversationIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, err := s.ConversationExists(ctx, "alice_bob")
	if err != nil {
		t.Fatalf("ConversationExists: %v", err)
	}
	if exists {
		t.Fatal("conversation must not exist before creation")
	}

	if err := s.CreateConversation(ctx, "alice_bob", []string{"alice", "bob"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.CreateConversation(ctx, "alice_bob", []string{"alice", "bob"}); err != nil {
		t.Fatalf("repeated CreateConversation: %v", err)
	}

	exists, err = s.ConversationExists(ctx, "alice_bob")
	if err != nil {
		t.Fatalf("ConversationExists: %v", err)
	}
	if !exists {
		t.Fatal("conversation missing after creation")
	}
}

func TestCreateConversationRejectsBadParticipants(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateConversation(context.Background(), "solo", []string{"alice"}); err == nil {
		t.Fatal("expected error for single participant")
	}
}

func TestAppendMessageAssignsIdentityAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before := time.Now().UnixMilli()
	msg, err := s.AppendMessage(ctx, "alice_bob", store.Message{
		ID:         "client-side-id",
		SenderID:   "alice",
		ReceiverID: "bob",
		Text:       "hello",
		CreatedAt:  42,
		Local:      true,
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if msg.ID == "client-side-id" || msg.ID == "" {
		t.Fatalf("store must assign its own id, got %q", msg.ID)
	}
	if msg.CreatedAt < before {
		t.Fatalf("store timestamp %d predates append", msg.CreatedAt)
	}
	if msg.Local {
		t.Fatal("persisted message must not be marked local")
	}
}

func TestMessagesOrderedAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.AppendMessage(ctx, "alice_bob", store.Message{SenderID: "alice", ReceiverID: "bob", Text: text}); err != nil {
			t.Fatalf("AppendMessage %q: %v", text, err)
		}
	}

	msgs, err := s.Messages(ctx, "alice_bob")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Text != want {
			t.Fatalf("msgs[%d].Text = %q, want %q", i, msgs[i].Text, want)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt < msgs[i-1].CreatedAt {
			t.Fatalf("timestamps not ascending at index %d", i)
		}
	}
}

func TestMessagesScopedToConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AppendMessage(ctx, "alice_bob", store.Message{Text: "for bob"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage(ctx, "alice_carol", store.Message{Text: "for carol"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.Messages(ctx, "alice_bob")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "for bob" {
		t.Fatalf("conversation leak: %+v", msgs)
	}
}

func TestSubscribeDeliversInitialAndUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AppendMessage(ctx, "alice_bob", store.Message{Text: "backlog"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	events := make(chan store.SnapshotEvent, 8)
	cancel := s.Subscribe("alice_bob", func(ev store.SnapshotEvent) { events <- ev })
	defer cancel()

	initial := waitEvent(t, events)
	if initial.Kind != store.SnapshotInitial || initial.Seq != 1 {
		t.Fatalf("initial = kind %v seq %d", initial.Kind, initial.Seq)
	}
	if len(initial.Messages) != 1 || initial.Messages[0].Text != "backlog" {
		t.Fatalf("initial snapshot = %+v", initial.Messages)
	}

	if _, err := s.AppendMessage(ctx, "alice_bob", store.Message{Text: "live"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	update := waitEvent(t, events)
	if update.Kind != store.SnapshotUpdate || update.Seq != 2 {
		t.Fatalf("update = kind %v seq %d", update.Kind, update.Seq)
	}
	if len(update.Messages) != 2 {
		t.Fatalf("update snapshot has %d messages, want the full list", len(update.Messages))
	}
}

func TestSubscribeCancelStopsUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := make(chan store.SnapshotEvent, 8)
	cancel := s.Subscribe("alice_bob", func(ev store.SnapshotEvent) { events <- ev })
	waitEvent(t, events) // initial

	cancel()
	cancel() // idempotent

	if _, err := s.AppendMessage(ctx, "alice_bob", store.Message{Text: "after"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	select {
	case ev := <-events:
		t.Fatalf("event after cancel: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribersAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := make(chan store.SnapshotEvent, 8)
	b := make(chan store.SnapshotEvent, 8)
	cancelA := s.Subscribe("alice_bob", func(ev store.SnapshotEvent) { a <- ev })
	defer cancelA()
	cancelB := s.Subscribe("alice_bob", func(ev store.SnapshotEvent) { b <- ev })

	waitEvent(t, a)
	waitEvent(t, b)

	cancelB()

	if _, err := s.AppendMessage(ctx, "alice_bob", store.Message{Text: "only a"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	ev := waitEvent(t, a)
	if ev.Seq != 2 {
		t.Fatalf("per-subscriber seq = %d, want 2", ev.Seq)
	}
	select {
	case got := <-b:
		t.Fatalf("cancelled subscriber received %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCustomNameLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.CustomName(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CustomName: %v", err)
	}
	if got != "" {
		t.Fatalf("unset override = %q, want empty", got)
	}

	if err := s.SetCustomName(ctx, "alice", "bob", "Bobby"); err != nil {
		t.Fatalf("SetCustomName: %v", err)
	}
	if err := s.SetCustomName(ctx, "alice", "bob", "Robert"); err != nil {
		t.Fatalf("upsert SetCustomName: %v", err)
	}

	got, err = s.CustomName(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CustomName: %v", err)
	}
	if got != "Robert" {
		t.Fatalf("override = %q, want %q", got, "Robert")
	}

	// Scoped per viewer.
	got, err = s.CustomName(ctx, "carol", "bob")
	if err != nil {
		t.Fatalf("CustomName: %v", err)
	}
	if got != "" {
		t.Fatalf("other viewer override = %q, want empty", got)
	}

	if err := s.ClearCustomName(ctx, "alice", "bob"); err != nil {
		t.Fatalf("ClearCustomName: %v", err)
	}
	got, err = s.CustomName(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CustomName: %v", err)
	}
	if got != "" {
		t.Fatalf("cleared override = %q, want empty", got)
	}
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "alice", "Alice", "hash", "https://example.test/a.png")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Username != "alice" || u.Name != "Alice" {
		t.Fatalf("created user = %+v", u)
	}

	byID, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("GetUserByID = %+v", byID)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if byName.ID != u.ID {
		t.Fatalf("GetUserByUsername id = %q, want %q", byName.ID, u.ID)
	}

	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user err = %v, want ErrNotFound", err)
	}

	if _, err := s.CreateUser(ctx, "alice", "Other", "hash2", ""); err == nil {
		t.Fatal("duplicate username must fail")
	}
}
