package models

import (
	"fmt"
	"strconv"
	"time"
)

// Message represents a chat line about a donated item.
type Message struct {
	ID          int64     `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	// Room is the conversation scope key.
	Room        string    `json:"room" gorm:"size:255;index"`
	Username    string    `json:"username" gorm:"size:150;index"`
	UserDestino string    `json:"user_destino,omitempty" gorm:"size:150;index"`
	PrendaID    *int64    `json:"prenda_id,omitempty" gorm:"index"`
	Content     string    `json:"content" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

// TableName pins the table shared with the web client.
func (Message) TableName() string {
	return "messages"
}

// Key returns the identity key of the message. Saved rows are keyed by ID;
// unsaved ones by created_at, room and content.
func (m Message) Key() string {
	if m.ID != 0 {
		return "id:" + strconv.FormatInt(m.ID, 10)
	}
	return fmt.Sprintf("tmp:%s|%d:%s|%s",
		m.CreatedAt.UTC().Format(time.RFC3339Nano), len(m.Room), m.Room, m.Content)
}

// Subject represents a donated item (a prenda) that conversations refer to.
type Subject struct {
	ID    int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name  string `json:"nombre" gorm:"column:nombre;size:255"`
	Owner string `json:"owner,omitempty" gorm:"size:150;index"` // Donor username
}

// TableName pins the items table.
func (Subject) TableName() string {
	return "prendas"
}
