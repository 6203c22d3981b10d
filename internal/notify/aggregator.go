// Package notify derives the notification bell state of one user from the
// notification ledger and the stream of messages addressed to them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/metrics"
	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/session"
	"github.com/donatonuis/chatsync/internal/store"
	"github.com/donatonuis/chatsync/internal/syncerr"
)

// DefaultLimit is the size of the recent list when none is configured.
const DefaultLimit = 5

// LabelPlaceholder is shown while an item name is unknown.
const LabelPlaceholder = "Loading…"

// ErrUnknownNotification is returned by MarkRead when no ledger row of the
// recipient has the given id.
var ErrUnknownNotification = errors.New("notify: unknown notification")

// Ledger is the part of the backend the aggregator uses.
type Ledger interface {
	FetchNotifications(ctx context.Context, f store.NotificationFilter, limit int) ([]models.Notification, error)
	CountNotifications(ctx context.Context, f store.NotificationFilter) (int64, error)
	UpsertNotification(ctx context.Context, n models.Notification) (*models.Notification, bool, error)
	UpdateNotificationRead(ctx context.Context, u store.ReadUpdate) (int64, error)
	SubjectName(ctx context.Context, id int64) (string, error)
}

// Aggregator keeps the recent notifications and the unread count of one
// recipient. The unread count always comes from the ledger; the bounded
// recent list never feeds it.
type Aggregator struct {
	identity session.Identity
	ledger   Ledger
	limit    int
	logger   zerolog.Logger

	mu        sync.Mutex
	recent    []models.Notification
	unread    int64
	seq       uint64 // last issued read of the ledger
	listSeq   uint64 // read that produced recent
	countSeq  uint64 // read that produced unread
	names     map[int64]string
	listeners []func()
}

// NewAggregator creates the aggregator of identity. A limit below one uses
// DefaultLimit.
func NewAggregator(identity session.Identity, ledger Ledger, limit int, logger zerolog.Logger) (*Aggregator, error) {
	if !identity.Valid() {
		return nil, syncerr.Validation("new aggregator", "identity has no username")
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Aggregator{
		identity: identity,
		ledger:   ledger,
		limit:    limit,
		logger:   logger.With().Str("component", "notifications").Str("user", identity.Username).Logger(),
		names:    make(map[int64]string),
	}, nil
}

// Identity returns the recipient the aggregator serves.
func (a *Aggregator) Identity() session.Identity {
	return a.identity
}

// Limit returns the size of the recent list.
func (a *Aggregator) Limit() int {
	return a.limit
}

// OnChange registers fn to run after the recent list or the unread count
// changed. fn runs on the goroutine that applied the change.
func (a *Aggregator) OnChange(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *Aggregator) changed() {
	a.mu.Lock()
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (a *Aggregator) nextSeq() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

func (a *Aggregator) recipient() store.NotificationFilter {
	return store.NotificationFilter{Recipient: a.identity.Username}
}

func (a *Aggregator) unreadFilter() store.NotificationFilter {
	return store.NotificationFilter{Recipient: a.identity.Username, Unread: true}
}

// PrimeFromLedger replaces the recent list with the newest ledger rows and
// the unread count with the ledger count. On failure the current state is
// kept.
func (a *Aggregator) PrimeFromLedger(ctx context.Context) error {
	seq := a.nextSeq()

	recent, err := a.ledger.FetchNotifications(ctx, a.recipient(), a.limit)
	if err != nil {
		return a.fetchFailed("prime notifications", err)
	}
	count, err := a.ledger.CountNotifications(ctx, a.unreadFilter())
	if err != nil {
		return a.fetchFailed("prime notifications", err)
	}
	a.resolveNames(ctx, recent)

	a.mu.Lock()
	applied := false
	if seq > a.listSeq {
		a.recent = recent
		a.listSeq = seq
		applied = true
	}
	if seq > a.countSeq {
		a.unread = count
		a.countSeq = seq
		applied = true
	}
	a.mu.Unlock()

	if applied {
		a.changed()
	}
	return nil
}

// OnIncomingMessage records a ledger row for a message addressed to the
// recipient and re-primes. Messages for anyone else are ignored.
func (a *Aggregator) OnIncomingMessage(ctx context.Context, m models.Message) error {
	if m.UserDestino != a.identity.Username {
		return nil
	}
	if m.ID == 0 {
		return syncerr.Validation("incoming message", "message has no id")
	}

	_, created, err := a.ledger.UpsertNotification(ctx, models.NotificationFromMessage(m))
	if err != nil {
		metrics.WriteFailures.WithLabelValues("upsert_notification").Inc()
		a.logger.Warn().Err(err).Int64("message_id", m.ID).Msg("failed to record notification")
		return syncerr.Write("upsert notification", err)
	}
	if created {
		metrics.NotificationUpserts.WithLabelValues("created").Inc()
	} else {
		metrics.NotificationUpserts.WithLabelValues("existing").Inc()
	}

	return a.PrimeFromLedger(ctx)
}

// OnDirectNotification puts a ledger row delivered live at the head of the
// recent list and refreshes the unread count. Rows already listed and rows of
// other recipients are ignored.
func (a *Aggregator) OnDirectNotification(ctx context.Context, n models.Notification) error {
	if n.UserDestiny != a.identity.Username {
		return nil
	}

	a.mu.Lock()
	listed := n.ID == 0 || slices.ContainsFunc(a.recent, func(r models.Notification) bool {
		return r.ID == n.ID
	})
	if !listed {
		a.recent = append([]models.Notification{n}, a.recent...)
		if len(a.recent) > a.limit {
			a.recent = a.recent[:a.limit]
		}
	}
	a.mu.Unlock()

	if !listed {
		a.resolveNames(ctx, []models.Notification{n})
		a.changed()
	}
	return a.RefreshUnreadCount(ctx)
}

// UnreadCount returns the last unread count read from the ledger.
func (a *Aggregator) UnreadCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread
}

// RefreshUnreadCount reads the unread count from the ledger.
func (a *Aggregator) RefreshUnreadCount(ctx context.Context) error {
	seq := a.nextSeq()

	count, err := a.ledger.CountNotifications(ctx, a.unreadFilter())
	if err != nil {
		return a.fetchFailed("count unread", err)
	}

	a.mu.Lock()
	applied := seq > a.countSeq && count != a.unread
	if seq > a.countSeq {
		a.unread = count
		a.countSeq = seq
	}
	a.mu.Unlock()

	if applied {
		a.changed()
	}
	return nil
}

// Recent returns a copy of the recent list, newest first.
func (a *Aggregator) Recent() []models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.recent)
}

// MarkRead marks one notification read. Nothing changes locally unless the
// write succeeds. Once it has, a failed refresh is logged and the call still
// succeeds.
func (a *Aggregator) MarkRead(ctx context.Context, id int64) error {
	if id <= 0 {
		return syncerr.Validation("mark read", "notification id must be positive")
	}

	n, err := a.ledger.UpdateNotificationRead(ctx, store.ReadUpdate{ID: id, Recipient: a.identity.Username})
	if err != nil {
		return a.writeFailed("mark_read", err)
	}
	if n == 0 {
		return fmt.Errorf("notify: notification %d: %w", id, ErrUnknownNotification)
	}

	a.mu.Lock()
	for i := range a.recent {
		if a.recent[i].ID == id {
			a.recent[i].Read = true
		}
	}
	a.mu.Unlock()

	a.refreshAfterWrite(ctx, "mark_read")
	return nil
}

// MarkAllRead marks every notification of the recipient read. Nothing
// changes locally unless the write succeeds; after it, no row is unread.
func (a *Aggregator) MarkAllRead(ctx context.Context) error {
	if _, err := a.ledger.UpdateNotificationRead(ctx, store.ReadUpdate{Recipient: a.identity.Username}); err != nil {
		return a.writeFailed("mark_all_read", err)
	}

	a.mu.Lock()
	for i := range a.recent {
		a.recent[i].Read = true
	}
	a.unread = 0
	a.mu.Unlock()

	a.refreshAfterWrite(ctx, "mark_all_read")
	return nil
}

// refreshAfterWrite re-primes after a successful write. The write already
// happened, so a failed refresh keeps the local state instead of failing.
func (a *Aggregator) refreshAfterWrite(ctx context.Context, op string) {
	if err := a.PrimeFromLedger(ctx); err != nil {
		a.logger.Warn().Err(err).Str("op", op).Msg("refresh after write failed, keeping local state")
		a.changed()
	}
}

// Label returns the name of the item n refers to, or LabelPlaceholder while
// the name is unknown or n has no item.
func (a *Aggregator) Label(n models.Notification) string {
	if n.PrendaID == nil {
		return LabelPlaceholder
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if name := a.names[*n.PrendaID]; name != "" {
		return name
	}
	return LabelPlaceholder
}

// resolveNames looks up item names not yet known. Failures are logged and
// leave the placeholder in place.
func (a *Aggregator) resolveNames(ctx context.Context, rows []models.Notification) {
	for _, n := range rows {
		if n.PrendaID == nil {
			continue
		}
		id := *n.PrendaID

		a.mu.Lock()
		_, known := a.names[id]
		a.mu.Unlock()
		if known {
			continue
		}

		name, err := a.ledger.SubjectName(ctx, id)
		if err != nil {
			a.logger.Debug().Err(err).Int64("subject", id).Msg("failed to resolve item name")
			continue
		}
		if name == "" {
			continue
		}
		a.mu.Lock()
		a.names[id] = name
		a.mu.Unlock()
	}
}

func (a *Aggregator) fetchFailed(op string, err error) error {
	metrics.HistoryFailures.Inc()
	a.logger.Warn().Err(err).Str("op", op).Msg("ledger read failed")
	return syncerr.Fetch(op, err)
}

func (a *Aggregator) writeFailed(op string, err error) error {
	metrics.WriteFailures.WithLabelValues(op).Inc()
	a.logger.Warn().Err(err).Str("op", op).Msg("ledger write failed")
	return syncerr.Write(op, err)
}
