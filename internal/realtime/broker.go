package realtime

import (
	"context"
	"encoding/base64"
	"strings"
)

// Handler receives one change event. It runs on the broker's delivery
// goroutine and must not block for long.
type Handler func(Event)

// Subscription is a live broker subscription.
type Subscription interface {
	Close() error
}

// Broker opens server-side filtered subscriptions. Delivery is at least once
// and may repeat events. Subscribe returns once the broker confirmed the
// subscription.
type Broker interface {
	Subscribe(ctx context.Context, table string, events []EventType, filter Filter, onEvent Handler) (Subscription, error)
}

// Publisher emits change events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PubSub is a broker that can also publish.
type PubSub interface {
	Broker
	Publisher
	Close() error
}

// channels returns the routing keys ev is published under: the whole table
// plus one per filterable attribute.
func channels(prefix string, ev Event) []string {
	out := []string{channelName(prefix, ev.Table, Filter{})}
	for _, column := range routedColumns[ev.Table] {
		if v, ok := ev.Attrs[column]; ok && v != "" {
			out = append(out, channelName(prefix, ev.Table, Eq(column, v)))
		}
	}
	return out
}

// channelName returns the routing key of a table/filter pair, e.g.
// "realtime:messages:room=eq.12ana".
func channelName(prefix, table string, f Filter) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(table)
	b.WriteByte(':')
	b.WriteString(f.String())
	return b.String()
}

// subjectName returns the NATS subject of a table/filter pair. Values are
// base64url encoded since subjects cannot carry dots or wildcards.
func subjectName(prefix, table string, f Filter) string {
	if f.IsZero() {
		return prefix + "." + table + "._all"
	}
	return prefix + "." + table + "." + f.Column + "." + base64.RawURLEncoding.EncodeToString([]byte(f.Value))
}
