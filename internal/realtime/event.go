// Package realtime opens, tracks and tears down live change subscriptions and
// narrows their raw row payloads into typed models.
package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/donatonuis/chatsync/internal/models"
)

// Tables that emit change events.
const (
	TableMessages      = "messages"
	TableNotifications = "notifications"
)

// EventType is the kind of row change.
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
	// All matches every event type in a subscription.
	All EventType = "*"
)

// Event is one row change as carried on the wire.
type Event struct {
	ID              string            `json:"id"` // ULID
	Table           string            `json:"table"`
	Type            EventType         `json:"type"`
	Attrs           map[string]string `json:"attrs,omitempty"` // Filterable column values
	New             json.RawMessage   `json:"new,omitempty"`
	Old             json.RawMessage   `json:"old,omitempty"`
	CommitTimestamp time.Time         `json:"commit_timestamp"`
}

// Matches reports whether the event passes the given type list. An empty
// list or one containing All accepts everything.
func (e Event) Matches(types []EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == All || t == e.Type {
			return true
		}
	}
	return false
}

// Filter is a server-side equality filter on one column. The zero Filter
// selects every row of the table.
type Filter struct {
	Column string
	Value  string
}

// Eq builds the filter column=eq.value.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// IsZero reports whether the filter selects the whole table.
func (f Filter) IsZero() bool {
	return f.Column == ""
}

func (f Filter) String() string {
	if f.IsZero() {
		return "*"
	}
	return f.Column + "=eq." + f.Value
}

// ParseFilter parses the column=eq.value form. An empty string or "*" is the
// zero Filter.
func ParseFilter(s string) (Filter, error) {
	if s == "" || s == "*" {
		return Filter{}, nil
	}
	column, value, ok := strings.Cut(s, "=eq.")
	if !ok || column == "" {
		return Filter{}, fmt.Errorf("realtime: invalid filter %q", s)
	}
	return Filter{Column: column, Value: value}, nil
}

// routedColumns lists, per table, the columns a subscription may filter on.
var routedColumns = map[string][]string{
	TableMessages:      {"room", "user_destino", "username"},
	TableNotifications: {"user_destiny"},
}

// Routable reports whether subscriptions on table may filter by f.
func Routable(table string, f Filter) bool {
	if f.IsZero() {
		return true
	}
	for _, c := range routedColumns[table] {
		if c == f.Column {
			return true
		}
	}
	return false
}

// NewEvent builds an event for row, stamping a fresh ID and commit time.
func NewEvent(table string, typ EventType, row any, attrs map[string]string) (Event, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("realtime: encode %s row: %w", table, err)
	}
	return Event{
		ID:              ulid.Make().String(),
		Table:           table,
		Type:            typ,
		Attrs:           attrs,
		New:             data,
		CommitTimestamp: time.Now().UTC(),
	}, nil
}

// MessageEvent builds the change event of a saved message.
func MessageEvent(typ EventType, m models.Message) (Event, error) {
	return NewEvent(TableMessages, typ, m, map[string]string{
		"room":         m.Room,
		"user_destino": m.UserDestino,
		"username":     m.Username,
	})
}

// NotificationEvent builds the change event of a ledger row.
func NotificationEvent(typ EventType, n models.Notification) (Event, error) {
	return NewEvent(TableNotifications, typ, n, map[string]string{
		"user_destiny": n.UserDestiny,
	})
}

// ReadEvent builds the UPDATE event announcing that notifications of
// recipient were marked read; id is zero when all of them were.
func ReadEvent(recipient string, id int64) (Event, error) {
	row := map[string]any{"user_destiny": recipient, "read": true}
	if id != 0 {
		row["id"] = strconv.FormatInt(id, 10)
	}
	return NewEvent(TableNotifications, Update, row, map[string]string{
		"user_destiny": recipient,
	})
}
