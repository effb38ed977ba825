package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashRelay/internal/storage"
)

// Runs against a live database only when RELAY_TEST_PG_URL is set.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("RELAY_TEST_PG_URL")
	if url == "" {
		t.Skip("RELAY_TEST_PG_URL not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, url, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"001_rooms.sql", "002_messages.sql"}, names)
}

func TestRoomsAndMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	roomID := "room-" + uuid.NewString()

	require.NoError(t, store.CreateRoom(ctx, &storage.Room{ID: roomID, Name: "Test"}))
	assert.ErrorIs(t, store.CreateRoom(ctx, &storage.Room{ID: roomID}), storage.ErrRoomExists)

	room, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "Test", room.Name)

	_, err = store.GetRoom(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, body := range []string{"one", "two", "three"} {
		msg := &storage.Message{RoomID: roomID, Sender: "alice", Body: body, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, store.AppendMessage(ctx, msg))
		assert.NotZero(t, msg.ID)
	}

	messages, err := store.ListMessages(ctx, roomID, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "two", messages[0].Body)
	assert.Equal(t, "three", messages[1].Body)
}
