package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultRedisPrefix = "realtime"

// RedisBroker carries change events over Redis pub/sub. Each table/filter
// pair is its own channel, so filtering happens on the server.
type RedisBroker struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisBroker connects to redisURL.
func NewRedisBroker(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisBrokerFromClient(client, logger), nil
}

// NewRedisBrokerFromClient wraps an existing client.
func NewRedisBrokerFromClient(client *redis.Client, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		prefix: defaultRedisPrefix,
		logger: logger.With().Str("broker", "redis").Logger(),
	}
}

// Client returns the underlying Redis client.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

// Ping checks the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// Subscribe opens a channel subscription and waits for Redis to confirm it.
func (b *RedisBroker) Subscribe(ctx context.Context, table string, events []EventType, filter Filter, onEvent Handler) (Subscription, error) {
	if !Routable(table, filter) {
		return nil, fmt.Errorf("realtime: %s cannot be filtered by %s", table, filter.Column)
	}

	channel := channelName(b.prefix, table, filter)
	ps := b.client.Subscribe(ctx, channel)

	// Wait for confirmation that the subscription is created.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", channel, err)
	}

	sub := &redisSub{ps: ps}
	types := append([]EventType(nil), events...)
	logger := b.logger.With().Str("channel", channel).Logger()

	go func() {
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Msg("dropping undecodable event")
				continue
			}
			if ev.Matches(types) {
				onEvent(ev)
			}
		}
	}()

	return sub, nil
}

// Publish sends ev to the table channel and to each filterable column channel.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pipe := b.client.Pipeline()
	for _, ch := range channels(b.prefix, ev) {
		pipe.Publish(ctx, ch, data)
	}
	_, err = pipe.Exec(ctx)
	return err
}

type redisSub struct {
	ps   *redis.PubSub
	once sync.Once
	err  error
}

// Close unsubscribes. It does not wait for an in-flight handler, which may
// itself be the caller.
func (s *redisSub) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
	})
	return s.err
}
