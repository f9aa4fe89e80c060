package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"vestnik/internal/auth"
	"vestnik/internal/content"
	"vestnik/internal/filestore"
	"vestnik/internal/metrics"
	"vestnik/internal/models"
	"vestnik/internal/storage"
	"vestnik/internal/ws"

	"github.com/h2non/filetype"
)

const maxUploadSize = 25 << 20 // 25 MiB

// PresenceSource reports whether a user currently has a live connection.
type PresenceSource interface {
	Lookup(userID string) (connID string, found bool)
}

type API struct {
	auth      *auth.AuthService
	storage   *storage.BboltStorage
	relay     *ws.Relay
	presence  PresenceSource
	filestore filestore.FileStore
}

func New(authService *auth.AuthService, store *storage.BboltStorage, relay *ws.Relay, presence PresenceSource, files filestore.FileStore) *API {
	return &API{
		auth:      authService,
		storage:   store,
		relay:     relay,
		presence:  presence,
		filestore: files,
	}
}

// withPresence overlays the live online flag on a stored user record.
// LastSeen comes from storage, stamped when a connection goes away.
func (a *API) withPresence(user models.User) models.User {
	_, online := a.presence.Lookup(user.ID)
	user.Presence.Online = online
	return user
}

func (a *API) getToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth verifies the bearer token and passes the resolved user
// identity to the wrapped handler.
func (a *API) RequireAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.Verify(a.getToken(r))
		if err != nil {
			metrics.AuthFailures.Inc()
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

type authResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token,omitempty"`
	User    models.User `json:"user,omitempty"`
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := a.auth.Register(content.Sanitize(req.Name), req.Email, req.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrUserExists) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Message: "User created successfully",
		Token:   token,
		User:    user,
	})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := a.auth.Login(req.Email, req.Password)
	if err != nil {
		metrics.AuthFailures.Inc()
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Message: "Login successful",
		Token:   token,
		User:    user,
	})
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request, userID string) {
	a.auth.Logout(a.getToken(r))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := a.auth.GetUser(userID)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a.withPresence(user))
}

// UsersHandler lists contacts: everyone but the caller, optionally
// filtered by ?search= on name or email.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request, userID string) {
	users, err := a.storage.ListUsers(r.URL.Query().Get("search"), userID)
	if err != nil {
		log.Printf("failed to list users: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	for i := range users {
		users[i] = a.withPresence(users[i])
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) UserHandler(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := a.storage.GetUser(r.PathValue("id"))
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a.withPresence(user))
}

// AddContactHandler links the caller and the given user as mutual
// contacts.
func (a *API) AddContactHandler(w http.ResponseWriter, r *http.Request, userID string) {
	contactID := r.PathValue("userId")
	if contactID == "" || contactID == userID {
		http.Error(w, "Invalid contact", http.StatusBadRequest)
		return
	}

	if err := a.storage.AddContact(userID, contactID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		log.Printf("failed to add contact: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Contact added"})
}

// ContactsHandler returns the caller's contact list with live presence.
func (a *API) ContactsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	contacts, err := a.storage.ListContacts(userID)
	if err != nil {
		log.Printf("failed to list contacts: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	for i := range contacts {
		contacts[i] = a.withPresence(contacts[i])
	}
	if contacts == nil {
		contacts = []models.User{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

// MessagesHandler returns the full history between the caller and
// another user, with message text rendered to sanitized HTML.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	messages, err := a.storage.ListMessages(userID, r.PathValue("userId"))
	if err != nil {
		log.Printf("failed to list messages: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	for i := range messages {
		messages[i].HTML = content.Render(messages[i].Text)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendMessageHandler persists a message through the relay, so a REST
// send also reaches the receiver's live connection when they are online.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Text     string             `json:"text"`
		Receiver string             `json:"receiver"`
		Type     models.MessageType `json:"type"`
		FileID   string             `json:"fileId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	persisted, err := a.relay.Send(userID, models.ClientEvent{
		Type:     models.ClientEventSendMessage,
		Text:     req.Text,
		Receiver: req.Receiver,
		MsgType:  req.Type,
		FileID:   req.FileID,
	})
	if err != nil {
		if errors.Is(err, ws.ErrDeliveryFailed) {
			log.Printf("failed to send message: %v", err)
			http.Error(w, "Server error", http.StatusInternalServerError)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, persisted)
}

// MarkReadHandler flags every unread message from the given user to the
// caller as read. Safe to repeat.
func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	updated, err := a.storage.MarkMessagesRead(r.PathValue("userId"), userID)
	if err != nil {
		log.Printf("failed to mark messages read: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Messages marked as read",
		"updated": updated,
	})
}

func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	conversations, err := a.storage.ListConversations(userID)
	if err != nil {
		log.Printf("failed to list conversations: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// UploadHandler stores an attachment content-addressed by its sha256
// hash and returns the file reference to put on a message.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		http.Error(w, "Empty upload", http.StatusBadRequest)
		return
	}

	kind, _ := filetype.Match(data)
	if kind == filetype.Unknown {
		http.Error(w, "Unsupported file type", http.StatusUnsupportedMediaType)
		return
	}

	fileID := fileHash(data)

	if err := a.filestore.Save(bytes.NewReader(data), fileID); err != nil {
		log.Printf("failed to store upload: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"fileId":   fileID,
		"mimeType": kind.MIME.Value,
	})
}

func (a *API) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("id")
	if fileID == "" {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	f, err := a.filestore.Get(fileID)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to serve file %s: %v", fileID, err)
	}
}

func fileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
