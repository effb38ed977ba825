// Package storage persists rooms and relayed messages.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrRoomExists is returned by CreateRoom for a duplicate id.
	ErrRoomExists = errors.New("storage: room exists")
)

// DefaultHistoryLimit caps ListMessages when the caller passes no limit.
const DefaultHistoryLimit = 50

// Room represents a persisted room record.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message represents one relayed message.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines persistence operations used by the server.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)

	AppendMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the newest limit messages of roomID, oldest first.
	ListMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// NormalizeLimit clamps a history limit into (0, max].
func NormalizeLimit(limit, max int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
