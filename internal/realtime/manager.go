package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/metrics"
	"github.com/donatonuis/chatsync/internal/syncerr"
)

// State is the lifecycle state of a subscription handle.
type State int32

const (
	Unsubscribed State = iota
	Subscribing
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrHandleClosed is returned by Wait when the handle was closed before it
// became active.
var ErrHandleClosed = errors.New("realtime: handle closed")

// Spec describes one subscription.
type Spec struct {
	Table   string
	Events  []EventType
	Filter  Filter
	OnEvent Handler
}

// Handle is one subscription owned by a Manager. Consumers may observe and
// close it but never change what it delivers.
type Handle struct {
	id     uuid.UUID
	spec   Spec
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	sub    Subscription
	err    error
	cancel context.CancelFunc
	ready  chan struct{} // closed once subscribing is over

	release func() // runs once on the first Close
}

func newHandle(spec Spec, logger zerolog.Logger) *Handle {
	id := uuid.New()
	return &Handle{
		id:   id,
		spec: spec,
		logger: logger.With().
			Str("handle", id.String()).
			Str("table", spec.Table).
			Str("filter", spec.Filter.String()).
			Logger(),
		ready: make(chan struct{}),
	}
}

// ID returns the handle's identifier.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Spec returns what the handle subscribes to.
func (h *Handle) Spec() Spec {
	return h.spec
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the subscribe failure, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the handle leaves the subscribing state. It returns nil
// when the handle is active, the subscribe failure, or ErrHandleClosed.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.err != nil:
		return h.err
	case h.state != Active:
		return ErrHandleClosed
	}
	return nil
}

// start moves the handle to subscribing and opens the broker subscription in
// the background.
func (h *Handle) start(ctx context.Context, broker Broker, timeout time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.state = Subscribing
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		subCtx := ctx
		if timeout > 0 {
			var c context.CancelFunc
			subCtx, c = context.WithTimeout(ctx, timeout)
			defer c()
		}
		sub, err := broker.Subscribe(subCtx, h.spec.Table, h.spec.Events, h.spec.Filter, h.deliver)
		h.settle(sub, err)
	}()
}

func (h *Handle) settle(sub Subscription, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(h.ready)

	switch {
	case h.state == Closed:
		// Torn down while subscribing.
		if sub != nil {
			if cerr := sub.Close(); cerr != nil {
				h.logger.Debug().Err(cerr).Msg("closing late subscription")
			}
		}
	case err != nil:
		h.state = Closed
		h.err = syncerr.Subscription("subscribe "+h.spec.Table, err)
		metrics.SubscriptionFailures.WithLabelValues(h.spec.Table).Inc()
		h.logger.Warn().Err(err).Msg("subscription failed")
	default:
		h.state = Active
		h.sub = sub
		metrics.ActiveSubscriptions.Inc()
		h.logger.Debug().Msg("subscription active")
	}
}

func (h *Handle) deliver(ev Event) {
	h.mu.Lock()
	closed := h.state == Closed
	h.mu.Unlock()
	if closed {
		return
	}
	metrics.EventsDelivered.WithLabelValues(ev.Table, string(ev.Type)).Inc()
	h.spec.OnEvent(ev)
}

// Close tears the handle down. It always succeeds, whatever state the handle
// is in; broker errors are logged.
func (h *Handle) Close() {
	h.mu.Lock()
	prev := h.state
	h.state = Closed
	sub := h.sub
	h.sub = nil
	cancel := h.cancel
	release := h.release
	h.release = nil
	h.mu.Unlock()

	if release != nil {
		release()
	}
	if cancel != nil {
		cancel()
	}
	if prev == Active {
		metrics.ActiveSubscriptions.Dec()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("unsubscribe failed")
		}
	}
	if prev == Unsubscribed {
		close(h.ready)
	}
}

// Group is the set of handles of one logical scope, torn down together.
type Group struct {
	scope   string
	handles []*Handle
}

// Scope returns the logical scope the group belongs to.
func (g *Group) Scope() string {
	return g.scope
}

// Handles returns the group's handles.
func (g *Group) Handles() []*Handle {
	return append([]*Handle(nil), g.handles...)
}

// Wait waits for every handle and joins their failures.
func (g *Group) Wait(ctx context.Context) error {
	var errs []error
	for _, h := range g.handles {
		if err := h.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every handle of the group.
func (g *Group) Close() {
	for _, h := range g.handles {
		h.Close()
	}
}

// Manager owns subscription handles. Subscriptions of a logical scope are
// replaced as a whole: the previous group is closed before the next opens.
type Manager struct {
	broker  Broker
	logger  zerolog.Logger
	timeout time.Duration

	mu     sync.Mutex
	scopes map[string]*Group
	loose  map[uuid.UUID]*Handle
	closed bool
}

// NewManager creates a manager over broker. timeout bounds each subscribe
// attempt; zero means no bound.
func NewManager(broker Broker, logger zerolog.Logger, timeout time.Duration) *Manager {
	return &Manager{
		broker:  broker,
		logger:  logger.With().Str("component", "subscriptions").Logger(),
		timeout: timeout,
		scopes:  make(map[string]*Group),
		loose:   make(map[uuid.UUID]*Handle),
	}
}

// Subscribe opens a single handle that belongs to no scope.
func (m *Manager) Subscribe(ctx context.Context, spec Spec) *Handle {
	h := newHandle(spec, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		h.Close()
		return h
	}
	m.loose[h.id] = h
	h.release = func() { m.forget(h.id) }
	h.start(ctx, m.broker, m.timeout)
	return h
}

func (m *Manager) forget(id uuid.UUID) {
	m.mu.Lock()
	delete(m.loose, id)
	m.mu.Unlock()
}

// Replace closes the handles of scope, then opens one handle per spec and
// returns them as the scope's new group.
func (m *Manager) Replace(ctx context.Context, scope string, specs ...Spec) *Group {
	g := &Group{scope: scope}
	for _, spec := range specs {
		g.handles = append(g.handles, newHandle(spec, m.logger.With().Str("scope", scope).Logger()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.scopes[scope]; ok {
		old.Close()
		delete(m.scopes, scope)
	}
	if m.closed {
		g.Close()
		return g
	}
	for _, h := range g.handles {
		h.start(ctx, m.broker, m.timeout)
	}
	m.scopes[scope] = g
	return g
}

// Release closes the handles of scope.
func (m *Manager) Release(scope string) {
	m.mu.Lock()
	g, ok := m.scopes[scope]
	delete(m.scopes, scope)
	m.mu.Unlock()

	if ok {
		g.Close()
	}
}

// Unsubscribe closes a handle returned by Subscribe. Closing the handle
// directly has the same effect.
func (m *Manager) Unsubscribe(h *Handle) {
	h.Close()
}

// Scopes returns the number of scopes with open groups.
func (m *Manager) Scopes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scopes)
}

// Loose returns the number of open handles created by Subscribe.
func (m *Manager) Loose() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loose)
}

// Close closes every handle and refuses new subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	groups := m.scopes
	loose := m.loose
	m.scopes = make(map[string]*Group)
	m.loose = make(map[uuid.UUID]*Handle)
	m.mu.Unlock()

	for _, g := range groups {
		g.Close()
	}
	for _, h := range loose {
		h.Close()
	}
}
