package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/donatonuis/chatsync/internal/models"
)

// ErrPayload is returned when a change event cannot be narrowed to a model.
var ErrPayload = errors.New("realtime: malformed payload")

// timestamp layouts seen in rows, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// DecodeMessage narrows the new row of a messages event.
func DecodeMessage(ev Event) (models.Message, error) {
	if ev.Table != TableMessages {
		return models.Message{}, fmt.Errorf("%w: table %q is not %s", ErrPayload, ev.Table, TableMessages)
	}
	row, err := decodeRow(ev.New)
	if err != nil {
		return models.Message{}, err
	}

	m := models.Message{
		Room:        row.str("room"),
		Username:    row.str("username"),
		UserDestino: row.str("user_destino"),
		Content:     row.str("content"),
	}
	if m.ID, err = row.int("id"); err != nil {
		return models.Message{}, err
	}
	if m.PrendaID, err = row.optInt("prenda_id"); err != nil {
		return models.Message{}, err
	}
	if m.CreatedAt, err = row.time("created_at", ev.CommitTimestamp); err != nil {
		return models.Message{}, err
	}
	// Older clients nested the sender as {"user": {"name": ...}}.
	if m.Username == "" {
		if user, ok := row["user"].(map[string]any); ok {
			m.Username = rowMap(user).str("name")
		}
	}
	return m, nil
}

// DecodeNotification narrows the new row of a notifications event.
func DecodeNotification(ev Event) (models.Notification, error) {
	if ev.Table != TableNotifications {
		return models.Notification{}, fmt.Errorf("%w: table %q is not %s", ErrPayload, ev.Table, TableNotifications)
	}
	row, err := decodeRow(ev.New)
	if err != nil {
		return models.Notification{}, err
	}

	n := models.Notification{
		UserDestiny: row.str("user_destiny"),
		UserSender:  row.str("user_sender"),
		Type:        row.str("type"),
		Text:        row.str("text"),
		Read:        row.bool("read"),
	}
	if n.ID, err = row.int("id"); err != nil {
		return models.Notification{}, err
	}
	if n.PrendaID, err = row.optInt("prenda_id"); err != nil {
		return models.Notification{}, err
	}
	if n.MessageID, err = row.optInt("message_id"); err != nil {
		return models.Notification{}, err
	}
	if n.CreatedAt, err = row.time("created_at", ev.CommitTimestamp); err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

type rowMap map[string]any

func decodeRow(raw json.RawMessage) (rowMap, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty row", ErrPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: row is not an object", ErrPayload)
	}
	return rowMap(row), nil
}

// str returns a string column; numbers are formatted, anything else is "".
func (r rowMap) str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func (r rowMap) bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case json.Number:
		return v.String() != "0"
	default:
		return false
	}
}

// int returns an integer column, zero when absent or null.
func (r rowMap) int(key string) (int64, error) {
	v, err := r.optInt(key)
	if err != nil || v == nil {
		return 0, err
	}
	return *v, nil
}

// optInt returns an integer column that may be absent, null or empty.
func (r rowMap) optInt(key string) (*int64, error) {
	var s string
	switch v := r[key].(type) {
	case nil:
		return nil, nil
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("%w: %s has type %T", ErrPayload, key, v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q is not an integer", ErrPayload, key, s)
	}
	return &n, nil
}

// time parses a timestamp column, falling back to def when absent.
func (r rowMap) time(key string, def time.Time) (time.Time, error) {
	s := r.str(key)
	if s == "" {
		if def.IsZero() {
			return time.Time{}, fmt.Errorf("%w: %s is missing", ErrPayload, key)
		}
		return def, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s=%q is not a timestamp", ErrPayload, key, s)
}
