package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"vestnik/internal/auth"
	"vestnik/internal/filestore"
	"vestnik/internal/models"
	"vestnik/internal/presence"
	"vestnik/internal/storage"
	"vestnik/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *ws.Hub) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "api_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := storage.NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authService, err := auth.NewAuthService(t.Context(), auth.Config{Secret: "test-secret"}, store)
	require.NoError(t, err)

	files, err := filestore.NewLocalFileStore(filepath.Join(tmpDir, "uploads"))
	require.NoError(t, err)

	hub := ws.NewHub(authService, presence.NewRegistry(), store)
	relay := ws.NewRelay(store, hub)

	return New(authService, store, relay, hub.Registry(), files), hub
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func registerUser(t *testing.T, a *API, name, email string) (models.User, string) {
	t.Helper()
	rec := postJSON(t, a.RegisterHandler, "/api/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": "password123",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.User, resp.Token
}

func TestAPI_AuthFlow(t *testing.T) {
	a, _ := newTestAPI(t)

	user, token := registerUser(t, a, "Alice", "alice@example.com")
	assert.NotEmpty(t, user.ID)
	assert.NotEmpty(t, token)

	// Duplicate email conflicts.
	rec := postJSON(t, a.RegisterHandler, "/api/auth/register", map[string]string{
		"name": "Alice2", "email": "alice@example.com", "password": "x12345678",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Login works with the right password only.
	rec = postJSON(t, a.LoginHandler, "/api/auth/login", map[string]string{
		"email": "alice@example.com", "password": "password123",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, a.LoginHandler, "/api/auth/login", map[string]string{
		"email": "alice@example.com", "password": "nope",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Me returns the authenticated user.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	a.RequireAuth(a.MeHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var me models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, user.ID, me.ID)

	// Logout revokes the token.
	rec = postJSON(t, a.RequireAuth(a.LogoutHandler), "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	a.RequireAuth(a.MeHandler)(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_RequireAuthRejectsAnonymous(t *testing.T) {
	a, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	rec := httptest.NewRecorder()
	a.RequireAuth(a.UsersHandler)(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_MessagesFlow(t *testing.T) {
	a, _ := newTestAPI(t)

	alice, aliceToken := registerUser(t, a, "Alice", "alice@example.com")
	bob, bobToken := registerUser(t, a, "Bob", "bob@example.com")

	// Alice messages Bob over REST.
	rec := postJSON(t, a.RequireAuth(a.SendMessageHandler), "/api/messages", map[string]string{
		"text":     "hello **bob**",
		"receiver": bob.ID,
	}, aliceToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sent models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	assert.Equal(t, alice.ID, sent.Sender)
	assert.NotEmpty(t, sent.ID)

	// Bob reads the history and sees rendered HTML.
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/messages/%s", alice.ID), nil)
	req.SetPathValue("userId", alice.ID)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	rec = httptest.NewRecorder()
	a.RequireAuth(a.MessagesHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Contains(t, history[0].HTML, "<strong>bob</strong>")
	assert.False(t, history[0].Read)

	// Bob marks the conversation read.
	req = httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/messages/read/%s", alice.ID), nil)
	req.SetPathValue("userId", alice.ID)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	rec = httptest.NewRecorder()
	a.RequireAuth(a.MarkReadHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var marked struct {
		Updated int `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &marked))
	assert.Equal(t, 1, marked.Updated)

	// Both parties see one conversation.
	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	rec = httptest.NewRecorder()
	a.RequireAuth(a.ConversationsHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var conversations []models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conversations))
	require.Len(t, conversations, 1)
	assert.Equal(t, sent.ID, conversations[0].LastMessageID)

	// Invalid receiver is a client error.
	rec = postJSON(t, a.RequireAuth(a.SendMessageHandler), "/api/messages", map[string]string{
		"text":     "hi",
		"receiver": "not-a-uuid",
	}, aliceToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_UsersSearch(t *testing.T) {
	a, _ := newTestAPI(t)

	_, aliceToken := registerUser(t, a, "Alice", "alice@example.com")
	bob, _ := registerUser(t, a, "Bob", "bob@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/users?search=bob", nil)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	rec := httptest.NewRecorder()
	a.RequireAuth(a.UsersHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var users []models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, bob.ID, users[0].ID)
}

func TestAPI_UsersReportLivePresence(t *testing.T) {
	a, hub := newTestAPI(t)

	_, aliceToken := registerUser(t, a, "Alice", "alice@example.com")
	bob, bobToken := registerUser(t, a, "Bob", "bob@example.com")

	listBob := func() models.User {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/api/users?search=bob", nil)
		req.Header.Set("Authorization", "Bearer "+aliceToken)
		rec := httptest.NewRecorder()
		a.RequireAuth(a.UsersHandler)(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var users []models.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
		require.Len(t, users, 1)
		return users[0]
	}

	assert.False(t, listBob().Presence.Online, "bob online before connecting")

	conn, err := hub.Connect(bobToken)
	require.NoError(t, err)
	assert.True(t, listBob().Presence.Online, "bob offline despite live connection")

	hub.Disconnect(conn)
	after := listBob()
	assert.False(t, after.Presence.Online, "bob online after disconnect")
	assert.Greater(t, after.Presence.LastSeen, int64(0), "disconnect did not stamp last seen")

	// The single-user route reports the same presence.
	req := httptest.NewRequest(http.MethodGet, "/api/users/"+bob.ID, nil)
	req.SetPathValue("id", bob.ID)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	rec := httptest.NewRecorder()
	a.RequireAuth(a.UserHandler)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var single models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.False(t, single.Presence.Online)
	assert.Equal(t, after.Presence.LastSeen, single.Presence.LastSeen)
}

func TestAPI_Contacts(t *testing.T) {
	a, _ := newTestAPI(t)

	alice, aliceToken := registerUser(t, a, "Alice", "alice@example.com")
	bob, bobToken := registerUser(t, a, "Bob", "bob@example.com")

	addContact := func(token, userID string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/api/users/contacts/"+userID, nil)
		req.SetPathValue("userId", userID)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		a.RequireAuth(a.AddContactHandler)(rec, req)
		return rec
	}
	listContacts := func(token string) []models.User {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/api/users/contacts/list", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		a.RequireAuth(a.ContactsHandler)(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var contacts []models.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contacts))
		return contacts
	}

	require.Empty(t, listContacts(aliceToken))

	rec := addContact(aliceToken, bob.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// One add links both sides.
	aliceContacts := listContacts(aliceToken)
	require.Len(t, aliceContacts, 1)
	assert.Equal(t, bob.ID, aliceContacts[0].ID)

	bobContacts := listContacts(bobToken)
	require.Len(t, bobContacts, 1)
	assert.Equal(t, alice.ID, bobContacts[0].ID)

	// Repeating the add does not duplicate the link.
	rec = addContact(bobToken, alice.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listContacts(aliceToken), 1)

	assert.Equal(t, http.StatusBadRequest, addContact(aliceToken, alice.ID).Code, "self-add accepted")
	assert.Equal(t, http.StatusNotFound, addContact(aliceToken, "no-such-user").Code)
}

func TestAPI_UploadRejectsUnknownType(t *testing.T) {
	a, _ := newTestAPI(t)
	_, token := registerUser(t, a, "Alice", "alice@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader([]byte("just some text")))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.RequireAuth(a.UploadHandler)(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestAPI_UploadAndFetch(t *testing.T) {
	a, _ := newTestAPI(t)
	_, token := registerUser(t, a, "Alice", "alice@example.com")

	// Minimal valid PNG header followed by padding.
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 64)...)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(png))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.RequireAuth(a.UploadHandler)(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var uploaded struct {
		FileID   string `json:"fileId"`
		MimeType string `json:"mimeType"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.Equal(t, fileHash(png), uploaded.FileID)
	assert.Equal(t, "image/png", uploaded.MimeType)

	req = httptest.NewRequest(http.MethodGet, "/api/files/"+uploaded.FileID, nil)
	req.SetPathValue("id", uploaded.FileID)
	rec = httptest.NewRecorder()
	a.GetFileHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, png, rec.Body.Bytes())
}
