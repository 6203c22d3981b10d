// Package view composes history, live subscriptions and local state into the
// two scopes a client shows: one conversation and the notification bell.
package view

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/conversation"
	"github.com/donatonuis/chatsync/internal/history"
	"github.com/donatonuis/chatsync/internal/metrics"
	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/realtime"
	"github.com/donatonuis/chatsync/internal/scope"
	"github.com/donatonuis/chatsync/internal/session"
	"github.com/donatonuis/chatsync/internal/syncerr"
)

// MaxContentLength bounds the content of a sent message.
const MaxContentLength = 4000

// MessageWriter saves outgoing messages.
type MessageWriter interface {
	InsertMessage(ctx context.Context, m models.Message) (*models.Message, error)
}

// Conversation is the live, ordered message list of one conversation.
type Conversation struct {
	identity         session.Identity
	writer           MessageWriter
	loader           *history.Loader
	manager          *realtime.Manager
	logger           zerolog.Logger
	subscribeTimeout time.Duration
	scopeName        string
	store            *conversation.Store

	mu        sync.Mutex
	gen       uint64
	open      bool
	matcher   scope.Matcher
	onSent    []func(models.Message)
	listeners []func()
}

// NewConversation creates a closed conversation view for identity.
// subscribeTimeout bounds how long Open waits for live delivery to start.
func NewConversation(identity session.Identity, writer MessageWriter, loader *history.Loader, manager *realtime.Manager, logger zerolog.Logger, subscribeTimeout time.Duration) *Conversation {
	name := "conversation:" + uuid.NewString()
	return &Conversation{
		identity:         identity,
		writer:           writer,
		loader:           loader,
		manager:          manager,
		logger:           logger.With().Str("view", name).Logger(),
		subscribeTimeout: subscribeTimeout,
		scopeName:        name,
		store:            conversation.New(),
	}
}

// Open switches the view to the conversation scopeKey. The subscriptions of
// the previous conversation are closed first. Live delivery starts before
// history is fetched so that nothing sent in between is lost; messages that
// arrive before history are reconciled with it.
//
// A history failure leaves the live messages in place and is returned. A
// subscription failure degrades the view to history only and is returned
// after history was applied.
func (c *Conversation) Open(ctx context.Context, scopeKey string, participants *scope.Participants) error {
	if scopeKey == "" {
		return syncerr.Validation("open conversation", "scope key is empty")
	}
	matcher := scope.NewMatcher(scopeKey, participants)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.open = true
	c.matcher = matcher
	c.store.Reset()
	c.mu.Unlock()

	specs := make([]realtime.Spec, 0, len(matcher.Rooms()))
	for _, room := range matcher.Rooms() {
		specs = append(specs, realtime.Spec{
			Table:   realtime.TableMessages,
			Events:  []realtime.EventType{realtime.Insert},
			Filter:  realtime.Eq("room", room),
			OnEvent: c.deliver(gen),
		})
	}
	group := c.manager.Replace(ctx, c.scopeName, specs...)

	subErr := c.waitLive(ctx, group)
	if subErr != nil {
		c.logger.Warn().Err(subErr).Str("scope", scopeKey).Msg("live updates unavailable, showing history only")
	}

	msgs, err := c.loader.LoadHistory(ctx, scopeKey, participants)

	c.mu.Lock()
	stale := !c.open || c.gen != gen
	if !stale && err == nil {
		c.store.ApplyHistory(msgs)
	}
	c.mu.Unlock()

	if stale {
		metrics.StaleResponses.Inc()
		c.logger.Debug().Str("scope", scopeKey).Msg("discarding stale history")
		return nil
	}
	if err != nil {
		return err
	}
	c.changed()
	return subErr
}

func (c *Conversation) waitLive(ctx context.Context, group *realtime.Group) error {
	if c.subscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.subscribeTimeout)
		defer cancel()
	}
	err := group.Wait(ctx)
	if err != nil && !isSubscriptionError(err) {
		err = syncerr.Subscription("open conversation", err)
	}
	return err
}

// deliver returns the handler of the subscriptions opened for generation gen.
func (c *Conversation) deliver(gen uint64) realtime.Handler {
	return func(ev realtime.Event) {
		m, err := realtime.DecodeMessage(ev)
		if err != nil {
			c.logger.Warn().Err(err).Str("event", ev.ID).Msg("dropping malformed message event")
			return
		}
		c.merge(gen, m, true)
	}
}

// merge adds m to the store if generation gen is still the open one.
func (c *Conversation) merge(gen uint64, m models.Message, filter bool) {
	c.mu.Lock()
	if !c.open || c.gen != gen || (filter && !c.matcher.Match(m)) {
		c.mu.Unlock()
		return
	}
	inserted := c.store.Merge(m)
	c.mu.Unlock()

	if !inserted {
		metrics.DuplicatesDropped.Inc()
		return
	}
	c.changed()
}

// Send saves content as a message from the current user to the other
// participant and merges the saved row.
func (c *Conversation) Send(ctx context.Context, content string) (*models.Message, error) {
	c.mu.Lock()
	open := c.open
	gen := c.gen
	matcher := c.matcher
	c.mu.Unlock()

	if !open {
		return nil, syncerr.Validation("send", "conversation is not open")
	}
	msg, err := Compose(c.identity, matcher.Participants(), matcher.Key(), content)
	if err != nil {
		return nil, err
	}

	saved, err := c.writer.InsertMessage(ctx, msg)
	if err != nil {
		metrics.WriteFailures.WithLabelValues("send").Inc()
		c.logger.Warn().Err(err).Msg("failed to send message")
		return nil, syncerr.Write("send", err)
	}

	c.merge(gen, *saved, false)

	c.mu.Lock()
	callbacks := slices.Clone(c.onSent)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(*saved)
	}
	return saved, nil
}

// Snapshot returns the ordered messages of the conversation.
func (c *Conversation) Snapshot() []models.Message {
	return c.store.Snapshot()
}

// Key returns the scope key of the open conversation, or "" when closed.
func (c *Conversation) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ""
	}
	return c.matcher.Key()
}

// OnSent registers fn to run after a message was sent from this view.
func (c *Conversation) OnSent(fn func(models.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSent = append(c.onSent, fn)
}

// OnChange registers fn to run after the message list changed.
func (c *Conversation) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Conversation) changed() {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Close tears down the live subscriptions and empties the view.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.gen++
	c.open = false
	c.store.Reset()
	c.mu.Unlock()

	c.manager.Release(c.scopeName)
}
