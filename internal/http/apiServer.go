package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"vestnik/internal/api"
	"vestnik/internal/auth"
	"vestnik/internal/filestore"
	"vestnik/internal/storage"
	"vestnik/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(
	authService *auth.AuthService,
	store *storage.BboltStorage,
	hub *ws.Hub,
	relay *ws.Relay,
	router *ws.SignalRouter,
	files filestore.FileStore,
	addr string,
) *APIServer {
	wsServer := ws.NewServer(hub, relay, router)
	handlers := api.New(authService, store, relay, hub.Registry(), files)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", handlers.RegisterHandler)
	mux.HandleFunc("POST /api/auth/login", handlers.LoginHandler)
	mux.HandleFunc("POST /api/auth/logout", handlers.RequireAuth(handlers.LogoutHandler))
	mux.HandleFunc("GET /api/auth/me", handlers.RequireAuth(handlers.MeHandler))

	mux.HandleFunc("GET /api/users", handlers.RequireAuth(handlers.UsersHandler))
	mux.HandleFunc("GET /api/users/{id}", handlers.RequireAuth(handlers.UserHandler))
	mux.HandleFunc("POST /api/users/contacts/{userId}", handlers.RequireAuth(handlers.AddContactHandler))
	mux.HandleFunc("GET /api/users/contacts/list", handlers.RequireAuth(handlers.ContactsHandler))

	mux.HandleFunc("GET /api/messages/{userId}", handlers.RequireAuth(handlers.MessagesHandler))
	mux.HandleFunc("POST /api/messages", handlers.RequireAuth(handlers.SendMessageHandler))
	mux.HandleFunc("PUT /api/messages/read/{userId}", handlers.RequireAuth(handlers.MarkReadHandler))
	mux.HandleFunc("GET /api/conversations", handlers.RequireAuth(handlers.ConversationsHandler))

	mux.HandleFunc("POST /api/upload", handlers.RequireAuth(handlers.UploadHandler))
	mux.HandleFunc("GET /api/files/{id}", handlers.GetFileHandler)

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("API server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
