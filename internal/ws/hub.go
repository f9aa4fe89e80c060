package ws

import (
	"log"
	"sync"
	"time"

	"vestnik/internal/metrics"
	"vestnik/internal/models"
	"vestnik/internal/presence"

	"github.com/google/uuid"
)

const sendBuffer = 100

// Verifier validates a bearer token and returns the user identity behind
// it. It is called once per connection attempt.
type Verifier interface {
	Verify(token string) (string, error)
}

// LastSeenStore records when a user's live connection went away, so
// user listings can show when someone was last reachable.
type LastSeenStore interface {
	TouchLastSeen(userID string, at time.Time) error
}

// Conn is one live websocket session tied to exactly one user identity.
type Conn struct {
	ID          string
	UserID      string
	Established time.Time

	send chan models.ServerEvent
}

// Events returns the stream of server events queued for this connection.
func (c *Conn) Events() <-chan models.ServerEvent {
	return c.send
}

// Hub owns the set of live connections and the presence registry. It is
// the only component that writes to per-connection send channels.
type Hub struct {
	verifier Verifier
	registry *presence.Registry
	lastSeen LastSeenStore

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub wires the hub to its verifier and registry. lastSeen may be
// nil, in which case disconnect times are not recorded.
func NewHub(verifier Verifier, registry *presence.Registry, lastSeen LastSeenStore) *Hub {
	return &Hub{
		verifier: verifier,
		registry: registry,
		lastSeen: lastSeen,
		conns:    make(map[string]*Conn),
	}
}

// Registry exposes the presence registry the hub routes with.
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// Connect authenticates a handshake token and registers the resulting
// connection. A failed verification refuses the connection before it
// enters the registry. A second login for the same identity supersedes
// the first: routing from now on targets only the new connection.
func (h *Hub) Connect(token string) (*Conn, error) {
	userID, err := h.verifier.Verify(token)
	if err != nil {
		metrics.AuthFailures.Inc()
		return nil, err
	}

	conn := &Conn{
		ID:          uuid.NewString(),
		UserID:      userID,
		Established: time.Now(),
		send:        make(chan models.ServerEvent, sendBuffer),
	}

	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()

	h.registry.Put(userID, conn.ID)
	metrics.ConnectionsLive.Inc()

	h.broadcastPresence()
	return conn, nil
}

// Disconnect tears down a connection. The registry entry is removed only
// if it still points at this connection, so a slow teardown of a
// superseded login never evicts its replacement. It reports whether this
// connection was still the live one for its identity.
func (h *Hub) Disconnect(conn *Conn) bool {
	h.mu.Lock()
	if _, ok := h.conns[conn.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.conns, conn.ID)
	close(conn.send)
	h.mu.Unlock()

	metrics.ConnectionsLive.Dec()

	removed := h.registry.Remove(conn.UserID, conn.ID)
	if removed {
		if h.lastSeen != nil {
			if err := h.lastSeen.TouchLastSeen(conn.UserID, time.Now()); err != nil {
				log.Printf("failed to record last seen for %s: %v", conn.UserID, err)
			}
		}
		h.broadcastPresence()
	}
	return removed
}

// SendToConn queues an event on a specific connection. The event is
// dropped when the connection is gone or its buffer is full; a slow
// client never blocks the caller.
func (h *Hub) SendToConn(connID string, event models.ServerEvent) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, ok := h.conns[connID]
	if !ok {
		return false
	}

	select {
	case conn.send <- event:
		return true
	default:
		return false
	}
}

// DeliverToUser routes an event to the live connection of an identity.
// It reports false when the user is offline.
func (h *Hub) DeliverToUser(userID string, event models.ServerEvent) bool {
	connID, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}
	return h.SendToConn(connID, event)
}

// broadcastPresence pushes the full presence snapshot to every live
// connection. Called on every membership change.
func (h *Hub) broadcastPresence() {
	snapshot := h.registry.Snapshot()
	users := make([]models.OnlineUser, 0, len(snapshot))
	for _, entry := range snapshot {
		users = append(users, models.OnlineUser{
			UserID:       entry.UserID,
			ConnectionID: entry.ConnectionID,
		})
	}
	event := models.ServerEvent{
		Type:  models.ServerEventOnlineUsers,
		Users: users,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.conns {
		select {
		case conn.send <- event:
		default:
			// Drop for connections that cannot keep up.
		}
	}
}
