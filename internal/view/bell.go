package view

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/history"
	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/notify"
	"github.com/donatonuis/chatsync/internal/realtime"
	"github.com/donatonuis/chatsync/internal/syncerr"
)

// Bell is the notification bell of one user: the recent ledger rows and the
// unread count, kept current by three kinds of live subscription.
type Bell struct {
	agg              *notify.Aggregator
	loader           *history.Loader
	manager          *realtime.Manager
	logger           zerolog.Logger
	subscribeTimeout time.Duration
	markReadOnClick  bool
	scopeName        string

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	onClick []func(models.Notification)
}

// BellOptions tunes a Bell.
type BellOptions struct {
	SubscribeTimeout time.Duration
	MarkReadOnClick  bool
}

// NewBell creates a closed bell over agg.
func NewBell(agg *notify.Aggregator, loader *history.Loader, manager *realtime.Manager, logger zerolog.Logger, opts BellOptions) *Bell {
	name := "bell:" + uuid.NewString()
	return &Bell{
		agg:              agg,
		loader:           loader,
		manager:          manager,
		logger:           logger.With().Str("view", name).Str("user", agg.Identity().Username).Logger(),
		subscribeTimeout: opts.SubscribeTimeout,
		markReadOnClick:  opts.MarkReadOnClick,
		scopeName:        name,
	}
}

// Open subscribes to messages addressed to the user, to the user's ledger
// rows and to every room the user takes part in, then primes the bell from
// the ledger. Reopening replaces the previous subscriptions. Failures are
// logged and joined into the returned error; whatever could be set up stays
// active.
func (b *Bell) Open(ctx context.Context) error {
	username := b.agg.Identity().Username

	// Handlers outlive ctx; they run until Close or the next Open.
	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.mu.Lock()
	b.gen++
	gen := b.gen
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = cancel
	b.mu.Unlock()

	var errs []error
	specs := []realtime.Spec{
		{
			Table:   realtime.TableMessages,
			Events:  []realtime.EventType{realtime.Insert},
			Filter:  realtime.Eq("user_destino", username),
			OnEvent: b.onMessage(life, gen),
		},
		{
			Table:   realtime.TableNotifications,
			Events:  []realtime.EventType{realtime.Insert, realtime.Update},
			Filter:  realtime.Eq("user_destiny", username),
			OnEvent: b.onNotification(life, gen),
		},
	}

	rooms, err := b.loader.UserRooms(ctx, username)
	if err != nil {
		errs = append(errs, err)
	}
	for _, room := range rooms {
		specs = append(specs, realtime.Spec{
			Table:   realtime.TableMessages,
			Events:  []realtime.EventType{realtime.All},
			Filter:  realtime.Eq("room", room),
			OnEvent: b.onRoomActivity(life, gen),
		})
	}

	group := b.manager.Replace(ctx, b.scopeName, specs...)

	waitCtx := ctx
	if b.subscribeTimeout > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(ctx, b.subscribeTimeout)
		defer cancelWait()
	}
	if err := group.Wait(waitCtx); err != nil {
		if !isSubscriptionError(err) {
			err = syncerr.Subscription("open bell", err)
		}
		errs = append(errs, err)
	}

	// Primed after subscribing so that no row written in between is missed.
	if err := b.agg.PrimeFromLedger(ctx); err != nil {
		errs = append(errs, err)
	}

	err = errors.Join(errs...)
	if err != nil {
		b.logger.Warn().Err(err).Int("rooms", len(rooms)).Msg("bell opened degraded")
	} else {
		b.logger.Debug().Int("rooms", len(rooms)).Msg("bell opened")
	}
	return err
}

func (b *Bell) live(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == gen && b.cancel != nil
}

func (b *Bell) onMessage(ctx context.Context, gen uint64) realtime.Handler {
	return func(ev realtime.Event) {
		if !b.live(gen) {
			return
		}
		m, err := realtime.DecodeMessage(ev)
		if err != nil {
			b.logger.Warn().Err(err).Str("event", ev.ID).Msg("dropping malformed message event")
			return
		}
		if err := b.agg.OnIncomingMessage(ctx, m); err != nil {
			b.logger.Warn().Err(err).Int64("message_id", m.ID).Msg("incoming message not recorded")
		}
	}
}

func (b *Bell) onNotification(ctx context.Context, gen uint64) realtime.Handler {
	return func(ev realtime.Event) {
		if !b.live(gen) {
			return
		}
		var err error
		switch ev.Type {
		case realtime.Insert:
			var n models.Notification
			n, err = realtime.DecodeNotification(ev)
			if err != nil {
				b.logger.Warn().Err(err).Str("event", ev.ID).Msg("dropping malformed notification event")
				return
			}
			err = b.agg.OnDirectNotification(ctx, n)
		default:
			// Read flags changed elsewhere.
			err = b.agg.PrimeFromLedger(ctx)
		}
		if err != nil {
			b.logger.Warn().Err(err).Msg("notification event not applied")
		}
	}
}

func (b *Bell) onRoomActivity(ctx context.Context, gen uint64) realtime.Handler {
	return func(ev realtime.Event) {
		if !b.live(gen) {
			return
		}
		if err := b.agg.PrimeFromLedger(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("re-prime after room activity failed")
		}
	}
}

// Recent returns the recent ledger rows, newest first.
func (b *Bell) Recent() []models.Notification {
	return b.agg.Recent()
}

// UnreadCount returns the ledger's unread count.
func (b *Bell) UnreadCount() int64 {
	return b.agg.UnreadCount()
}

// Label returns the item name of n or a placeholder.
func (b *Bell) Label(n models.Notification) string {
	return b.agg.Label(n)
}

// OnChange registers fn to run after the bell state changed.
func (b *Bell) OnChange(fn func()) {
	b.agg.OnChange(fn)
}

// OnClick registers fn to run when a notification is clicked.
func (b *Bell) OnClick(fn func(models.Notification)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClick = append(b.onClick, fn)
}

// Click hands the listed notification id to the click callbacks and, when
// configured, marks it read.
func (b *Bell) Click(ctx context.Context, id int64) error {
	recent := b.agg.Recent()
	idx := slices.IndexFunc(recent, func(n models.Notification) bool { return n.ID == id })
	if idx < 0 {
		return syncerr.Validation("click notification", "notification is not listed")
	}
	n := recent[idx]

	b.mu.Lock()
	callbacks := slices.Clone(b.onClick)
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(n)
	}

	if b.markReadOnClick && !n.Read {
		return b.agg.MarkRead(ctx, id)
	}
	return nil
}

// MarkRead marks one notification read.
func (b *Bell) MarkRead(ctx context.Context, id int64) error {
	return b.agg.MarkRead(ctx, id)
}

// MarkAllRead marks every notification read.
func (b *Bell) MarkAllRead(ctx context.Context) error {
	return b.agg.MarkAllRead(ctx)
}

// Close tears down the bell's subscriptions.
func (b *Bell) Close() {
	b.mu.Lock()
	b.gen++
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.mu.Unlock()

	b.manager.Release(b.scopeName)
}

func isSubscriptionError(err error) bool {
	return errors.Is(err, syncerr.ErrSubscription)
}
