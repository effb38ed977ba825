package relay

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EmptyRoomPolicy decides what happens to a room entry once its last member
// is gone.
type EmptyRoomPolicy int

const (
	// EmptyRoomsDelete drops the room entry when it becomes empty.
	EmptyRoomsDelete EmptyRoomPolicy = iota
	// EmptyRoomsRetain keeps empty rooms addressable until shutdown.
	EmptyRoomsRetain
)

// ParseEmptyRoomPolicy maps a config value onto a policy.
func ParseEmptyRoomPolicy(value string) (EmptyRoomPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "delete":
		return EmptyRoomsDelete, nil
	case "retain":
		return EmptyRoomsRetain, nil
	default:
		return EmptyRoomsDelete, fmt.Errorf("unknown empty room policy %q", value)
	}
}

func (p EmptyRoomPolicy) String() string {
	if p == EmptyRoomsRetain {
		return "retain"
	}
	return "delete"
}

// RoomInfo summarizes one directory entry.
type RoomInfo struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// Directory maps room ids to their member connections.
type Directory struct {
	mu          sync.RWMutex
	rooms       map[string]map[Conn]struct{}
	memberships map[Conn]map[string]struct{}
	policy      EmptyRoomPolicy
}

// NewDirectory initializes an empty directory.
func NewDirectory(policy EmptyRoomPolicy) *Directory {
	return &Directory{
		rooms:       make(map[string]map[Conn]struct{}),
		memberships: make(map[Conn]map[string]struct{}),
		policy:      policy,
	}
}

// Join adds conn to roomID, creating the room if needed. It reports whether
// conn was newly added; joining twice is a no-op.
func (d *Directory) Join(roomID string, conn Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[Conn]struct{})
		d.rooms[roomID] = members
	}
	if _, ok := members[conn]; ok {
		return false
	}
	members[conn] = struct{}{}

	rooms, ok := d.memberships[conn]
	if !ok {
		rooms = make(map[string]struct{})
		d.memberships[conn] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// Leave removes conn from roomID. Unknown rooms and non-members are ignored.
func (d *Directory) Leave(roomID string, conn Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leaveLocked(roomID, conn)
}

// LeaveAll removes conn from every room it joined and returns those rooms.
func (d *Directory) LeaveAll(conn Conn) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	joined := d.memberships[conn]
	left := make([]string, 0, len(joined))
	for roomID := range joined {
		if d.leaveLocked(roomID, conn) {
			left = append(left, roomID)
		}
	}
	delete(d.memberships, conn)
	sort.Strings(left)
	return left
}

func (d *Directory) leaveLocked(roomID string, conn Conn) bool {
	members, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[conn]; !ok {
		return false
	}
	delete(members, conn)
	if len(members) == 0 && d.policy == EmptyRoomsDelete {
		delete(d.rooms, roomID)
	}

	if rooms, ok := d.memberships[conn]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(d.memberships, conn)
		}
	}
	return true
}

// Broadcast sends payload to every member of roomID except sender. A nil
// sender reaches every member. Absent and empty rooms are a no-op.
//
// Sends happen under the read lock; Conn.Send never blocks, and holding the
// lock keeps a concurrent LeaveAll from completing mid-iteration.
func (d *Directory) Broadcast(roomID string, payload []byte, sender Conn) (delivered, failed int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for member := range d.rooms[roomID] {
		if sender != nil && member == sender {
			continue
		}
		if err := member.Send(payload); err != nil {
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

// IsMember reports whether conn currently belongs to roomID.
func (d *Directory) IsMember(roomID string, conn Conn) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[roomID][conn]
	return ok
}

// Members returns a snapshot of the connections in roomID.
func (d *Directory) Members(roomID string) []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[roomID]
	out := make([]Conn, 0, len(members))
	for conn := range members {
		out = append(out, conn)
	}
	return out
}

// RoomsOf returns the rooms conn has joined, sorted.
func (d *Directory) RoomsOf(conn Conn) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	joined := d.memberships[conn]
	out := make([]string, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// Rooms lists every room entry, including retained empty rooms.
func (d *Directory) Rooms() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]RoomInfo, 0, len(d.rooms))
	for id, members := range d.rooms {
		out = append(out, RoomInfo{ID: id, Members: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the number of room entries and memberships.
func (d *Directory) Stats() (rooms, members int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms = len(d.rooms)
	for _, m := range d.rooms {
		members += len(m)
	}
	return rooms, members
}
