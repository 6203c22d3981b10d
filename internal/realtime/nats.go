package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const defaultNATSPrefix = "realtime"

// NATSBroker carries change events over NATS core subjects.
type NATSBroker struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSBroker connects to natsURL.
func NewNATSBroker(natsURL string, logger zerolog.Logger) (*NATSBroker, error) {
	conn, err := nats.Connect(natsURL, nats.Name("chatsync"))
	if err != nil {
		return nil, err
	}
	return &NATSBroker{
		conn:   conn,
		prefix: defaultNATSPrefix,
		logger: logger.With().Str("broker", "nats").Logger(),
	}, nil
}

// Ping flushes the connection to check the server is reachable.
func (b *NATSBroker) Ping(ctx context.Context) error {
	return b.conn.FlushWithContext(ctx)
}

// Close drains and closes the connection.
func (b *NATSBroker) Close() error {
	return b.conn.Drain()
}

// Subscribe subscribes to the subject of table/filter and flushes so the
// server has registered interest before it returns.
func (b *NATSBroker) Subscribe(ctx context.Context, table string, events []EventType, filter Filter, onEvent Handler) (Subscription, error) {
	if !Routable(table, filter) {
		return nil, fmt.Errorf("realtime: %s cannot be filtered by %s", table, filter.Column)
	}

	subject := subjectName(b.prefix, table, filter)
	types := append([]EventType(nil), events...)
	logger := b.logger.With().Str("subject", subject).Logger()

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warn().Err(err).Msg("dropping undecodable event")
			return
		}
		if ev.Matches(types) {
			onEvent(ev)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: subscribe %s: %w", subject, err)
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", subject, err)
	}
	return natsSub{sub}, nil
}

// Publish sends ev on the table subject and each filterable column subject.
func (b *NATSBroker) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subjectName(b.prefix, ev.Table, Filter{}), data); err != nil {
		return err
	}
	for _, column := range routedColumns[ev.Table] {
		if v := ev.Attrs[column]; v != "" {
			if err := b.conn.Publish(subjectName(b.prefix, ev.Table, Eq(column, v)), data); err != nil {
				return err
			}
		}
	}
	return nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Close() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}
