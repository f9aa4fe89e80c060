// Package presence tracks which user identities currently have a live
// connection. The registry is the single source of truth for routing
// decisions; no other component caches presence.
package presence

import "sync"

// Entry is one identity currently reachable for real-time delivery.
type Entry struct {
	UserID       string
	ConnectionID string
}

// Registry maps user identities to their live connection. At most one
// connection is held per identity: a later Put for the same identity
// supersedes the earlier one (single-device, last writer wins).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]string),
	}
}

// Put registers connID as the live connection for userID, replacing any
// previous entry for that identity.
func (r *Registry) Put(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[userID] = connID
}

// Remove deletes the entry for userID only if it still points at connID.
// It returns false when the entry was already replaced by a newer
// connection, so a stale disconnect never evicts the replacement.
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[userID] != connID {
		return false
	}
	delete(r.entries, userID)
	return true
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.entries[userID]
	return connID, ok
}

// Snapshot returns the current membership. Order is not specified.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for userID, connID := range r.entries {
		out = append(out, Entry{UserID: userID, ConnectionID: connID})
	}
	return out
}

// Len reports how many identities are currently online.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
