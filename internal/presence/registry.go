// Package presence tracks which live connection currently represents each user.
package presence

import (
	"sort"
	"sync"
)

// Registry maps a user to its active live connection. At most one connection
// is kept per user: the most recent Register wins.
type Registry interface {
	// Register records connID as the active connection of userID, replacing any previous one.
	Register(userID uint, connID string)
	// Unregister removes the mapping that points at exactly connID. It reports the
	// user that was removed, or ok=false when connID had already been superseded.
	Unregister(connID string) (userID uint, ok bool)
	// Lookup returns the active connection of userID.
	Lookup(userID uint) (connID string, ok bool)
	// OnlineUsers returns the ids of all users with an active connection, ascending.
	OnlineUsers() []uint
}

type memoryRegistry struct {
	mu    sync.RWMutex
	conns map[uint]string
}

// NewMemoryRegistry creates an in-process Registry. Its state is lost on restart;
// clients re-register when they reconnect.
func NewMemoryRegistry() Registry {
	return &memoryRegistry{conns: make(map[uint]string)}
}

func (r *memoryRegistry) Register(userID uint, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = connID
}

func (r *memoryRegistry) Unregister(connID string) (uint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// linear scan, the map is keyed by user
	for userID, current := range r.conns {
		if current == connID {
			delete(r.conns, userID)
			return userID, true
		}
	}
	return 0, false
}

func (r *memoryRegistry) Lookup(userID uint) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.conns[userID]
	return connID, ok
}

func (r *memoryRegistry) OnlineUsers() []uint {
	r.mu.RLock()
	ids := make([]uint, 0, len(r.conns))
	for userID := range r.conns {
		ids = append(ids, userID)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
