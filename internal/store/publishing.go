package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/metrics"
	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/realtime"
)

// Publishing wraps a Backend and emits a change event after every successful
// write. Publish failures never fail the write: the row is saved and the
// backend stays the source of truth.
type Publishing struct {
	Backend
	pub    realtime.Publisher
	logger zerolog.Logger
}

// NewPublishing wraps b so that its writes are published to pub.
func NewPublishing(b Backend, pub realtime.Publisher, logger zerolog.Logger) *Publishing {
	return &Publishing{
		Backend: b,
		pub:     pub,
		logger:  logger.With().Str("component", "publisher").Logger(),
	}
}

// InsertMessage saves m and publishes its INSERT event.
func (p *Publishing) InsertMessage(ctx context.Context, m models.Message) (*models.Message, error) {
	saved, err := p.Backend.InsertMessage(ctx, m)
	if err != nil {
		return nil, err
	}
	p.emit(ctx, realtime.TableMessages, func() (realtime.Event, error) {
		return realtime.MessageEvent(realtime.Insert, *saved)
	})
	return saved, nil
}

// UpsertNotification saves n and publishes an INSERT event when a row was
// created.
func (p *Publishing) UpsertNotification(ctx context.Context, n models.Notification) (*models.Notification, bool, error) {
	saved, created, err := p.Backend.UpsertNotification(ctx, n)
	if err != nil {
		return nil, false, err
	}
	if created {
		p.emit(ctx, realtime.TableNotifications, func() (realtime.Event, error) {
			return realtime.NotificationEvent(realtime.Insert, *saved)
		})
	}
	return saved, created, nil
}

// UpdateNotificationRead flips read and publishes an UPDATE event when rows
// changed.
func (p *Publishing) UpdateNotificationRead(ctx context.Context, u ReadUpdate) (int64, error) {
	n, err := p.Backend.UpdateNotificationRead(ctx, u)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.emit(ctx, realtime.TableNotifications, func() (realtime.Event, error) {
			return realtime.ReadEvent(u.Recipient, u.ID)
		})
	}
	return n, nil
}

func (p *Publishing) emit(ctx context.Context, table string, build func() (realtime.Event, error)) {
	ev, err := build()
	if err == nil {
		err = p.pub.Publish(ctx, ev)
	}
	if err != nil {
		// Log but don't fail - subscribers re-prime from the backend
		metrics.PublishFailures.WithLabelValues(table).Inc()
		p.logger.Warn().Err(err).Str("table", table).Msg("failed to publish change event")
	}
}
