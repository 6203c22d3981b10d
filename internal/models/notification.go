package models

import (
	"fmt"
	"time"
)

// Notification types.
const (
	NotificationMessage = "message"
	NotificationRequest = "request"
)

// Notification is one row of the per-user notification ledger.
type Notification struct {
	ID          int64     `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	UserDestiny string    `json:"user_destiny" gorm:"size:150;not null;index;uniqueIndex:idx_notifications_message_recipient,priority:2"`
	UserSender  string    `json:"user_sender,omitempty" gorm:"size:150"`
	PrendaID    *int64    `json:"prenda_id,omitempty"`
	Type        string    `json:"type" gorm:"size:32"`
	Text        string    `json:"text" gorm:"type:text"`
	MessageID   *int64    `json:"message_id,omitempty" gorm:"uniqueIndex:idx_notifications_message_recipient,priority:1"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
	Read        bool      `json:"read" gorm:"index"`
}

// TableName pins the ledger table.
func (Notification) TableName() string {
	return "notifications"
}

// DefaultText returns the text shown for a notification of the given type.
func DefaultText(kind, sender string) string {
	switch kind {
	case NotificationMessage:
		if sender == "" {
			return "You received a new message"
		}
		return fmt.Sprintf("%s sent you a message", sender)
	case NotificationRequest:
		return "Someone requested one of your items"
	default:
		return "New notification"
	}
}

// NotificationFromMessage builds the ledger row announcing m to its recipient.
// The subject reference is copied as is and may be nil.
func NotificationFromMessage(m Message) Notification {
	var msgID *int64
	if m.ID != 0 {
		id := m.ID
		msgID = &id
	}
	return Notification{
		UserDestiny: m.UserDestino,
		UserSender:  m.Username,
		PrendaID:    m.PrendaID,
		Type:        NotificationMessage,
		Text:        DefaultText(NotificationMessage, m.Username),
		MessageID:   msgID,
	}
}
