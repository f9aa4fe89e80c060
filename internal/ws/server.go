package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// Server upgrades authenticated HTTP requests to websocket sessions.
type Server struct {
	hub      *Hub
	relay    *Relay
	router   *SignalRouter
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub, relay *Relay, router *SignalRouter) *Server {
	return &Server{
		hub:    hub,
		relay:  relay,
		router: router,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections authenticates the handshake and hands the socket to
// a Connection. The token travels in the "token" query parameter or
// header; a bad token refuses the connection before any event flows.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("token")
	}

	conn, err := s.hub.Connect(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		s.hub.Disconnect(conn)
		return
	}

	c := NewConnection(s.hub, s.relay, s.router, ws, conn)
	if err := c.Handle(r.Context()); err != nil {
		log.Printf("connection %s closed with error: %v", conn.ID, err)
	}
}
