// Package app wires the backend, the realtime broker and the optional Redis
// cache of one process from its configuration.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/config"
	"github.com/donatonuis/chatsync/internal/history"
	"github.com/donatonuis/chatsync/internal/realtime"
	"github.com/donatonuis/chatsync/internal/store"
)

// Stack is the wired set of dependencies shared by the server and the CLI.
type Stack struct {
	// Backend publishes a change event after every write.
	Backend *store.Publishing
	Broker  realtime.PubSub
	Redis   *store.RedisStore // nil without REDIS_URL
	Loader  *history.Loader
	Manager *realtime.Manager

	closers []func()
}

// Open connects everything cfg names. On failure, whatever was opened is
// closed again.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (s *Stack, err error) {
	s = &Stack{}
	defer func() {
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	var backend store.Backend
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return s, fmt.Errorf("postgres connection failed: %w", err)
		}
		s.closers = append(s.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return s, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Msg("connected to PostgreSQL")
		backend = pg
	} else {
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return s, fmt.Errorf("sqlite open failed: %w", err)
		}
		s.closers = append(s.closers, lite.Close)
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
		backend = lite
	}

	if cfg.RedisURL != "" {
		s.Redis, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return s, fmt.Errorf("redis connection failed: %w", err)
		}
		s.closers = append(s.closers, func() { s.Redis.Close() })
		backend = store.NewCachedSubjects(backend, s.Redis, logger)
		logger.Info().Msg("connected to Redis")
	}

	s.Broker, err = openBroker(ctx, cfg, logger)
	if err != nil {
		return s, err
	}
	s.closers = append(s.closers, func() { s.Broker.Close() })
	logger.Info().Str("broker", cfg.Broker).Msg("realtime broker ready")

	s.Backend = store.NewPublishing(backend, s.Broker, logger)
	s.Loader = history.NewLoader(s.Backend, logger, cfg.HistoryTimeout)
	s.Manager = realtime.NewManager(s.Broker, logger, cfg.SubscribeTimeout)
	s.closers = append(s.closers, s.Manager.Close)
	return s, nil
}

func openBroker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (realtime.PubSub, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		b, err := realtime.NewRedisBroker(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("redis broker connection failed: %w", err)
		}
		return b, nil
	case config.BrokerNATS:
		b, err := realtime.NewNATSBroker(cfg.NATSURL, logger)
		if err != nil {
			return nil, fmt.Errorf("nats connection failed: %w", err)
		}
		return b, nil
	default:
		return realtime.NewMemoryBroker(), nil
	}
}

// Close releases everything in reverse order of opening.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
