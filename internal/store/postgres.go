package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/donatonuis/chatsync/internal/metrics"
	"github.com/donatonuis/chatsync/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS prendas (
	id BIGSERIAL PRIMARY KEY,
	nombre TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	room TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	user_destino TEXT NOT NULL DEFAULT '',
	prenda_id BIGINT,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS notifications (
	id BIGSERIAL PRIMARY KEY,
	user_destiny TEXT NOT NULL,
	user_sender TEXT NOT NULL DEFAULT '',
	prenda_id BIGINT,
	type TEXT NOT NULL DEFAULT 'message',
	text TEXT NOT NULL DEFAULT '',
	message_id BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	read BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_prenda ON messages(prenda_id);
CREATE INDEX IF NOT EXISTS idx_messages_user_destino ON messages(user_destino);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(user_destiny, read, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_message_recipient ON notifications(message_id, user_destiny);
`

const (
	messageColumns      = `id, room, username, user_destino, prenda_id, content, created_at`
	notificationColumns = `id, user_destiny, user_sender, prenda_id, type, text, message_id, created_at, read`
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates tables and indexes if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// FetchMessages retrieves messages matching f ordered by created_at.
func (s *PostgresStore) FetchMessages(ctx context.Context, f MessageFilter) ([]models.Message, error) {
	defer observe(time.Now())

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Rooms) > 0 {
		where = append(where, "room = ANY("+arg(f.Rooms)+")")
	}
	if f.SubjectID != nil {
		where = append(where, "prenda_id = "+arg(*f.SubjectID))
	}
	if f.Participant != "" {
		p := arg(f.Participant)
		where = append(where, "(username = "+p+" OR user_destino = "+p+")")
	}

	order := "ASC"
	if f.Descending {
		order = "DESC"
	}

	var q strings.Builder
	q.WriteString("SELECT " + messageColumns + " FROM messages")
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&q, " ORDER BY created_at %s, id %s LIMIT %s", order, order, arg(messageLimit(f.Limit)))

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// InsertMessage saves m and returns the stored row.
func (s *PostgresStore) InsertMessage(ctx context.Context, m models.Message) (*models.Message, error) {
	defer observe(time.Now())

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (room, username, user_destino, prenda_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageColumns,
		m.Room, m.Username, m.UserDestino, m.PrendaID, m.Content, m.CreatedAt.UTC())
	return scanMessage(row)
}

// FetchNotifications retrieves the newest ledger rows matching f.
func (s *PostgresStore) FetchNotifications(ctx context.Context, f NotificationFilter, limit int) ([]models.Notification, error) {
	defer observe(time.Now())

	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_destiny = $1 AND ($2 = FALSE OR read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, f.Recipient, f.Unread, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// CountNotifications counts ledger rows matching f.
func (s *PostgresStore) CountNotifications(ctx context.Context, f NotificationFilter) (int64, error) {
	defer observe(time.Now())

	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_destiny = $1 AND ($2 = FALSE OR read = FALSE)
	`, f.Recipient, f.Unread).Scan(&count)
	return count, err
}

// UpsertNotification inserts n, or returns the existing row for its
// (message_id, user_destiny) pair. The existing row is never modified, so a
// re-delivered message cannot flip read back to false.
func (s *PostgresStore) UpsertNotification(ctx context.Context, n models.Notification) (*models.Notification, bool, error) {
	defer observe(time.Now())

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	saved, err := scanNotification(s.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_destiny, user_sender, prenda_id, type, text, message_id, created_at, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id, user_destiny) DO NOTHING
		RETURNING `+notificationColumns,
		n.UserDestiny, n.UserSender, n.PrendaID, n.Type, n.Text, n.MessageID, n.CreatedAt.UTC(), n.Read))
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := scanNotification(s.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications WHERE message_id = $1 AND user_destiny = $2
	`, n.MessageID, n.UserDestiny))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateNotificationRead sets read on the rows selected by u and returns how
// many rows matched.
func (s *PostgresStore) UpdateNotificationRead(ctx context.Context, u ReadUpdate) (int64, error) {
	defer observe(time.Now())

	var (
		tag pgconn.CommandTag
		err error
	)
	if u.ID != 0 {
		tag, err = s.pool.Exec(ctx, `
			UPDATE notifications SET read = TRUE WHERE id = $1 AND user_destiny = $2
		`, u.ID, u.Recipient)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE notifications SET read = TRUE WHERE user_destiny = $1 AND read = FALSE
		`, u.Recipient)
	}
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SubjectName retrieves the display name of an item. It returns "" when the
// item does not exist.
func (s *PostgresStore) SubjectName(ctx context.Context, id int64) (string, error) {
	defer observe(time.Now())

	var name string
	err := s.pool.QueryRow(ctx, `SELECT nombre FROM prendas WHERE id = $1`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return name, nil
}

// SubjectOwner retrieves the donor of an item. It returns "" when the item
// does not exist.
func (s *PostgresStore) SubjectOwner(ctx context.Context, id int64) (string, error) {
	defer observe(time.Now())

	var owner string
	err := s.pool.QueryRow(ctx, `SELECT owner FROM prendas WHERE id = $1`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return owner, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	var userDestino *string
	err := row.Scan(
		&m.ID,
		&m.Room,
		&m.Username,
		&userDestino,
		&m.PrendaID,
		&m.Content,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userDestino != nil {
		m.UserDestino = *userDestino
	}
	return m, nil
}

func scanNotification(row pgx.Row) (*models.Notification, error) {
	n := &models.Notification{}
	err := row.Scan(
		&n.ID,
		&n.UserDestiny,
		&n.UserSender,
		&n.PrendaID,
		&n.Type,
		&n.Text,
		&n.MessageID,
		&n.CreatedAt,
		&n.Read,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}
