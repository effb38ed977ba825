// Package postgres implements storage.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fenggwsx/SlashRelay/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	maxHistory      = 500
	uniqueViolation = "23505"
)

// Store wraps a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewStore connects to url.
func NewStore(ctx context.Context, url string, log *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate executes every embedded .sql file in name order.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		s.log.Info("migration applied", "file", e.Name())
	}
	return nil
}

func (s *Store) CreateRoom(ctx context.Context, room *storage.Room) error {
	if room == nil {
		return errors.New("nil room")
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, created_at)
		VALUES ($1, $2, $3)
	`, room.ID, room.Name, room.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrRoomExists
	}
	return err
}

func (s *Store) GetRoom(ctx context.Context, id string) (*storage.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, created_at
		FROM rooms
		WHERE id = $1
	`, id)

	var r storage.Room
	if err := row.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]storage.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, created_at
		FROM rooms
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.Room{}
	for rows.Next() {
		var r storage.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (room_id, sender, body, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, msg.RoomID, msg.Sender, msg.Body, msg.CreatedAt)
	return row.Scan(&msg.ID)
}

func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]storage.Message, error) {
	limit = storage.NormalizeLimit(limit, maxHistory)
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, sender, body, created_at
		FROM (
			SELECT id, room_id, sender, body, created_at
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) newest
		ORDER BY created_at, id
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.Message{}
	for rows.Next() {
		var m storage.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ storage.Store = (*Store)(nil)
