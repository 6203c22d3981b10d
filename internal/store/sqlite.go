package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/donatonuis/chatsync/internal/models"
)

// SQLiteStore handles SQLite database operations through GORM.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatsync.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatsync.db"
	}

	dsn := ":memory:"
	if dbPath != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection per in-memory database, and a single writer otherwise.
	sqlDB.SetMaxOpenConns(1)

	return NewSQLiteStoreFromDB(ctx, db)
}

// NewSQLiteStoreFromDB wraps an open GORM connection and migrates the schema.
func NewSQLiteStoreFromDB(ctx context.Context, db *gorm.DB) (*SQLiteStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&models.Subject{}, &models.Message{}, &models.Notification{}); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying GORM connection.
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// FetchMessages retrieves messages matching f ordered by created_at.
func (s *SQLiteStore) FetchMessages(ctx context.Context, f MessageFilter) ([]models.Message, error) {
	q := s.db.WithContext(ctx).Model(&models.Message{})
	if len(f.Rooms) > 0 {
		q = q.Where("room IN ?", f.Rooms)
	}
	if f.SubjectID != nil {
		q = q.Where("prenda_id = ?", *f.SubjectID)
	}
	if f.Participant != "" {
		q = q.Where("(username = ? OR user_destino = ?)", f.Participant, f.Participant)
	}
	if f.Descending {
		q = q.Order("created_at DESC").Order("id DESC")
	} else {
		q = q.Order("created_at ASC").Order("id ASC")
	}

	messages := []models.Message{}
	if err := q.Limit(messageLimit(f.Limit)).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// InsertMessage saves m and returns the stored row.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m models.Message) (*models.Message, error) {
	m.ID = 0
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	// Stored as text, so ordering needs a single zone.
	m.CreatedAt = m.CreatedAt.UTC()

	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchNotifications retrieves the newest ledger rows matching f.
func (s *SQLiteStore) FetchNotifications(ctx context.Context, f NotificationFilter, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	notifications := []models.Notification{}
	err := s.notifications(ctx, f).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

// CountNotifications counts ledger rows matching f.
func (s *SQLiteStore) CountNotifications(ctx context.Context, f NotificationFilter) (int64, error) {
	var count int64
	err := s.notifications(ctx, f).Count(&count).Error
	return count, err
}

func (s *SQLiteStore) notifications(ctx context.Context, f NotificationFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_destiny = ?", f.Recipient)
	if f.Unread {
		q = q.Where("read = ?", false)
	}
	return q
}

// UpsertNotification inserts n, or returns the existing row for its
// (message_id, user_destiny) pair unchanged.
func (s *SQLiteStore) UpsertNotification(ctx context.Context, n models.Notification) (*models.Notification, bool, error) {
	n.ID = 0
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC()

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_destiny"}},
		DoNothing: true,
	}).Create(&n)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return &n, true, nil
	}

	var existing models.Notification
	err := s.db.WithContext(ctx).
		Where("message_id = ? AND user_destiny = ?", n.MessageID, n.UserDestiny).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// UpdateNotificationRead sets read on the rows selected by u and returns how
// many rows matched.
func (s *SQLiteStore) UpdateNotificationRead(ctx context.Context, u ReadUpdate) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_destiny = ?", u.Recipient)
	if u.ID != 0 {
		q = q.Where("id = ?", u.ID)
	} else {
		q = q.Where("read = ?", false)
	}
	result := q.Update("read", true)
	return result.RowsAffected, result.Error
}

// SubjectName retrieves the display name of an item. It returns "" when the
// item does not exist.
func (s *SQLiteStore) SubjectName(ctx context.Context, id int64) (string, error) {
	var subject models.Subject
	err := s.db.WithContext(ctx).First(&subject, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return subject.Name, nil
}

// SubjectOwner retrieves the donor of an item. It returns "" when the item
// does not exist.
func (s *SQLiteStore) SubjectOwner(ctx context.Context, id int64) (string, error) {
	var subject models.Subject
	err := s.db.WithContext(ctx).Select("owner").First(&subject, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return subject.Owner, nil
}

// SaveSubject creates or updates an item row.
func (s *SQLiteStore) SaveSubject(ctx context.Context, subject *models.Subject) error {
	return s.db.WithContext(ctx).Save(subject).Error
}
