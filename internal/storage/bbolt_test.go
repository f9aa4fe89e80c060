package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vestnik/internal/auth"
	"vestnik/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStorage_Credentials(t *testing.T) {
	store := newTestStorage(t)

	creds := auth.UserCredentials{
		User: models.User{
			ID:    "user1",
			Name:  "Alice",
			Email: "Alice@Example.com",
		},
		PasswordHash: "hash",
	}
	if err := store.UpsertCredentials(creds); err != nil {
		t.Fatalf("UpsertCredentials failed: %v", err)
	}

	// Email lookup is case-insensitive.
	got, err := store.GetCredentialsByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("GetCredentialsByEmail failed: %v", err)
	}
	if got.ID != "user1" || got.PasswordHash != "hash" {
		t.Errorf("unexpected credentials: %+v", got)
	}

	if _, err := store.GetCredentialsByEmail("nobody@example.com"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	user, err := store.GetUser("user1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.Name != "Alice" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestStorage_ListUsers(t *testing.T) {
	store := newTestStorage(t)

	users := []auth.UserCredentials{
		{User: models.User{ID: "u1", Name: "Alice", Email: "alice@example.com"}},
		{User: models.User{ID: "u2", Name: "Bob", Email: "bob@example.com"}},
		{User: models.User{ID: "u3", Name: "Carol", Email: "carol@other.org"}},
	}
	for _, u := range users {
		if err := store.UpsertCredentials(u); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListUsers("", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 users excluding self, got %d", len(all))
	}

	found, err := store.ListUsers("BOB", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "u2" {
		t.Errorf("search for BOB returned %+v", found)
	}
}

func TestStorage_TouchLastSeen(t *testing.T) {
	store := newTestStorage(t)

	creds := auth.UserCredentials{
		User:         models.User{ID: "u1", Name: "Alice", Email: "alice@example.com"},
		PasswordHash: "hash",
	}
	if err := store.UpsertCredentials(creds); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := store.TouchLastSeen("u1", at); err != nil {
		t.Fatalf("TouchLastSeen failed: %v", err)
	}

	user, err := store.GetUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.Presence.LastSeen != at.Unix() {
		t.Errorf("last seen = %d, want %d", user.Presence.LastSeen, at.Unix())
	}
	if user.Name != "Alice" || user.Email != "alice@example.com" {
		t.Errorf("touch mangled the user record: %+v", user)
	}

	// Re-registering must not roll the stamp back.
	if err := store.UpsertCredentials(creds); err != nil {
		t.Fatal(err)
	}
	user, err = store.GetUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.Presence.LastSeen != at.Unix() {
		t.Errorf("upsert rolled last seen back to %d", user.Presence.LastSeen)
	}

	if err := store.TouchLastSeen("ghost", at); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestStorage_Contacts(t *testing.T) {
	store := newTestStorage(t)

	for _, u := range []auth.UserCredentials{
		{User: models.User{ID: "u1", Name: "Alice", Email: "alice@example.com"}},
		{User: models.User{ID: "u2", Name: "Bob", Email: "bob@example.com"}},
	} {
		if err := store.UpsertCredentials(u); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.AddContact("u1", "u2"); err != nil {
		t.Fatalf("AddContact failed: %v", err)
	}

	// The link is mutual.
	for user, wantContact := range map[string]string{"u1": "u2", "u2": "u1"} {
		contacts, err := store.ListContacts(user)
		if err != nil {
			t.Fatal(err)
		}
		if len(contacts) != 1 || contacts[0].ID != wantContact {
			t.Errorf("contacts of %s = %+v, want just %s", user, contacts, wantContact)
		}
	}

	// Adding the same contact again changes nothing, regardless of
	// which side repeats it.
	if err := store.AddContact("u2", "u1"); err != nil {
		t.Fatal(err)
	}
	contacts, err := store.ListContacts("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 {
		t.Errorf("repeat add duplicated the contact: %+v", contacts)
	}

	if err := store.AddContact("u1", "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown contact, got %v", err)
	}
	if _, err := store.ListContacts("ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestStorage_SaveMessageAssignsFields(t *testing.T) {
	store := newTestStorage(t)

	before := time.Now().Unix()
	persisted, err := store.SaveMessage(models.Message{
		Text:     "hello",
		Sender:   "a",
		Receiver: "b",
		Type:     models.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	if persisted.ID == "" {
		t.Error("no message ID assigned")
	}
	if persisted.Seq != 1 {
		t.Errorf("expected seq 1, got %d", persisted.Seq)
	}
	if persisted.CreatedAt < before {
		t.Errorf("timestamp %d is before the call time %d", persisted.CreatedAt, before)
	}
	if persisted.Read {
		t.Error("new message marked read")
	}
}

func TestStorage_ConversationUpsertedNotDuplicated(t *testing.T) {
	store := newTestStorage(t)

	first, err := store.SaveMessage(models.Message{Text: "hi", Sender: "a", Receiver: "b"})
	if err != nil {
		t.Fatal(err)
	}

	convs, err := store.ListConversations("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].LastMessageID != first.ID {
		t.Errorf("conversation does not reference the first message")
	}

	// The reply goes the other direction but must update the same summary.
	second, err := store.SaveMessage(models.Message{Text: "hi back", Sender: "b", Receiver: "a"})
	if err != nil {
		t.Fatal(err)
	}

	for _, user := range []string{"a", "b"} {
		convs, err := store.ListConversations(user)
		if err != nil {
			t.Fatal(err)
		}
		if len(convs) != 1 {
			t.Fatalf("user %s sees %d conversations, want 1", user, len(convs))
		}
		if convs[0].LastMessageID != second.ID {
			t.Errorf("user %s conversation not updated to latest message", user)
		}
	}
}

func TestStorage_ListMessagesBothDirections(t *testing.T) {
	store := newTestStorage(t)

	texts := []struct{ sender, receiver, text string }{
		{"a", "b", "one"},
		{"b", "a", "two"},
		{"a", "b", "three"},
	}
	for _, m := range texts {
		if _, err := store.SaveMessage(models.Message{Text: m.text, Sender: m.sender, Receiver: m.receiver}); err != nil {
			t.Fatal(err)
		}
	}

	messages, err := store.ListMessages("b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"one", "two", "three"} {
		if messages[i].Text != want {
			t.Errorf("message %d = %q, want %q", i, messages[i].Text, want)
		}
	}
}

func TestStorage_MarkMessagesReadIdempotent(t *testing.T) {
	store := newTestStorage(t)

	for _, m := range []struct{ sender, receiver string }{
		{"x", "y"},
		{"x", "y"},
		{"y", "x"}, // reply, must not be touched
	} {
		if _, err := store.SaveMessage(models.Message{Text: "m", Sender: m.sender, Receiver: m.receiver}); err != nil {
			t.Fatal(err)
		}
	}

	updated, err := store.MarkMessagesRead("x", "y")
	if err != nil {
		t.Fatalf("MarkMessagesRead failed: %v", err)
	}
	if updated != 2 {
		t.Errorf("expected 2 messages marked, got %d", updated)
	}

	messages, err := store.ListMessages("x", "y")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range messages {
		wantRead := m.Sender == "x"
		if m.Read != wantRead {
			t.Errorf("message from %s: read=%v, want %v", m.Sender, m.Read, wantRead)
		}
		if m.Read && m.ReadAt == 0 {
			t.Error("read message has no read timestamp")
		}
	}

	// Second invocation changes nothing.
	updated, err = store.MarkMessagesRead("x", "y")
	if err != nil {
		t.Fatal(err)
	}
	if updated != 0 {
		t.Errorf("repeat invocation marked %d messages, want 0", updated)
	}
}

func TestPairKey_OrderIndependent(t *testing.T) {
	if PairKey("a", "b") != PairKey("b", "a") {
		t.Error("PairKey depends on argument order")
	}
	if PairKey("a", "b") == PairKey("a", "c") {
		t.Error("PairKey collision for different pairs")
	}
}
