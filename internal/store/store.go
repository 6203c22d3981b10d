package store

import (
	"context"

	"github.com/donatonuis/chatsync/internal/models"
)

// DefaultMessageLimit bounds message queries that set no limit.
const DefaultMessageLimit = 500

// MessageFilter selects rows of the messages table. Zero fields do not
// filter.
type MessageFilter struct {
	Rooms       []string // room IN (...)
	SubjectID   *int64   // prenda_id = ...
	Participant string   // username = ... OR user_destino = ...
	Descending  bool
	Limit       int
}

// NotificationFilter selects ledger rows of one recipient.
type NotificationFilter struct {
	Recipient string
	Unread    bool
}

// ReadUpdate marks ledger rows of Recipient as read: the row with ID, or
// every unread row when ID is zero.
type ReadUpdate struct {
	ID        int64
	Recipient string
}

// Backend is the relational backend of the sync layer. Both PostgresStore and
// SQLiteStore implement this interface.
type Backend interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Message operations
	FetchMessages(ctx context.Context, f MessageFilter) ([]models.Message, error)
	InsertMessage(ctx context.Context, m models.Message) (*models.Message, error)

	// Notification ledger operations
	FetchNotifications(ctx context.Context, f NotificationFilter, limit int) ([]models.Notification, error)
	CountNotifications(ctx context.Context, f NotificationFilter) (int64, error)
	// UpsertNotification inserts n unless a row for (message_id,
	// user_destiny) exists, in which case that row is returned unchanged.
	UpsertNotification(ctx context.Context, n models.Notification) (*models.Notification, bool, error)
	UpdateNotificationRead(ctx context.Context, u ReadUpdate) (int64, error)

	// Subject operations
	SubjectName(ctx context.Context, id int64) (string, error)
	// SubjectOwner returns the username of the item's donor, "" when the
	// item does not exist.
	SubjectOwner(ctx context.Context, id int64) (string, error)
}

func messageLimit(limit int) int {
	if limit <= 0 || limit > DefaultMessageLimit {
		return DefaultMessageLimit
	}
	return limit
}
