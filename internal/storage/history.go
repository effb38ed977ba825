package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fenggwsx/SlashRelay/internal/relay"
)

// History adapts a Store to the relay persistence and admission hooks.
type History struct {
	store Store
	now   func() time.Time
}

// NewHistory wraps store.
func NewHistory(store Store) *History {
	return &History{store: store, now: time.Now}
}

// AppendMessage records one relayed message.
func (h *History) AppendMessage(ctx context.Context, roomID, sender, body string) error {
	return h.store.AppendMessage(ctx, &Message{
		RoomID:    roomID,
		Sender:    sender,
		Body:      body,
		CreatedAt: h.now().UTC(),
	})
}

// KnownRoom admits joins only to rooms that were created through the store.
func (h *History) KnownRoom(ctx context.Context, _ relay.Conn, roomID string) (bool, error) {
	_, err := h.store.GetRoom(ctx, roomID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

var _ relay.Persistence = (*History)(nil)
