package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/SlashRelay/internal/config"
	"github.com/fenggwsx/SlashRelay/internal/storage"
)

const maxHistory = 500

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type roomModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
}

func (roomModel) TableName() string { return "rooms" }

type messageModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RoomID    string `gorm:"index:idx_messages_room_created,priority:1"`
	Sender    string
	Body      string
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2"`
}

func (messageModel) TableName() string { return "messages" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&roomModel{}, &messageModel{})
}

// CreateRoom stores a new room record.
func (s *Store) CreateRoom(ctx context.Context, room *storage.Room) error {
	if room == nil {
		return errors.New("nil room")
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&roomModel{}).Where("id = ?", room.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return storage.ErrRoomExists
		}
		model := roomModel{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt}
		return tx.Create(&model).Error
	})
}

// GetRoom retrieves a room by id.
func (s *Store) GetRoom(ctx context.Context, id string) (*storage.Room, error) {
	var model roomModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	room := toRoom(model)
	return &room, nil
}

// ListRooms returns every room ordered by id.
func (s *Store) ListRooms(ctx context.Context) ([]storage.Room, error) {
	var models []roomModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	rooms := make([]storage.Room, 0, len(models))
	for _, m := range models {
		rooms = append(rooms, toRoom(m))
	}
	return rooms, nil
}

// AppendMessage stores msg and fills in its id.
func (s *Store) AppendMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	model := messageModel{
		RoomID:    msg.RoomID,
		Sender:    msg.Sender,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	msg.ID = model.ID
	return nil
}

// ListMessages returns the newest limit messages of roomID, oldest first.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]storage.Message, error) {
	limit = storage.NormalizeLimit(limit, maxHistory)

	var models []messageModel
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	messages := make([]storage.Message, len(models))
	for i, m := range models {
		messages[len(models)-1-i] = storage.Message{
			ID:        m.ID,
			RoomID:    m.RoomID,
			Sender:    m.Sender,
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		}
	}
	return messages, nil
}

func toRoom(m roomModel) storage.Room {
	return storage.Room{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}
}

var _ storage.Store = (*Store)(nil)
