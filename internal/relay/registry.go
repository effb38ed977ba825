package relay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownConnection is returned when a correlation id has no live connection.
var ErrUnknownConnection = errors.New("relay: unknown connection")

// ConnectionInfo is a point-in-time view of one registry entry.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Subject     string    `json:"subject,omitempty"`
	Rooms       []string  `json:"rooms"`
	ConnectedAt time.Time `json:"connected_at"`
}

type registryEntry struct {
	id          string
	conn        Conn
	rooms       map[string]struct{}
	connectedAt time.Time
}

// Registry maps correlation ids to live connections, independent of room
// membership. Ids are generated once per connection and stay stable until
// the connection is unregistered.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*registryEntry
	byConn map[Conn]*registryEntry
	newID  func() string
	now    func() time.Time
}

// NewRegistry initializes an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*registryEntry),
		byConn: make(map[Conn]*registryEntry),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Register associates conn with a fresh correlation id. Registering the same
// connection again returns the id it already holds.
func (r *Registry) Register(conn Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.byConn[conn]; ok {
		return entry.id
	}
	entry := &registryEntry{
		id:          r.newID(),
		conn:        conn,
		rooms:       make(map[string]struct{}),
		connectedAt: r.now().UTC(),
	}
	r.byID[entry.id] = entry
	r.byConn[conn] = entry
	return entry.id
}

// Unregister removes the entry for id.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byConn, entry.conn)
	return true
}

// UnregisterConn removes the entry held by conn.
func (r *Registry) UnregisterConn(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[conn]
	if !ok {
		return false
	}
	delete(r.byID, entry.id)
	delete(r.byConn, conn)
	return true
}

// Bind records that the connection joined roomID.
func (r *Registry) Bind(conn Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byConn[conn]; ok {
		entry.rooms[roomID] = struct{}{}
	}
}

// Unbind drops the room association recorded for conn. The correlation id
// itself survives until the connection closes.
func (r *Registry) Unbind(conn Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byConn[conn]; ok {
		delete(entry.rooms, roomID)
	}
}

// Lookup returns the live connection for id.
func (r *Registry) Lookup(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// IDOf returns the correlation id held by conn.
func (r *Registry) IDOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	return entry.id, true
}

// Disconnect closes the connection registered under id. Cleanup runs in the
// connection's own lifecycle once its receive loop observes the close.
func (r *Registry) Disconnect(id string) error {
	conn, ok := r.Lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	return conn.Close()
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot lists every entry ordered by connection time.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(r.byID))
	for _, entry := range r.byID {
		rooms := make([]string, 0, len(entry.rooms))
		for roomID := range entry.rooms {
			rooms = append(rooms, roomID)
		}
		sort.Strings(rooms)
		out = append(out, ConnectionInfo{
			ID:          entry.id,
			RemoteAddr:  entry.conn.RemoteAddr(),
			Subject:     subjectOf(entry.conn),
			Rooms:       rooms,
			ConnectedAt: entry.connectedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
