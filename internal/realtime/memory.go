package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBrokerClosed is returned by a closed broker.
var ErrBrokerClosed = errors.New("realtime: broker closed")

// MemoryBroker is an in-process broker for single-node deployments and
// tests. Publish delivers synchronously on the caller's goroutine.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*memorySub
	nextID uint64
	closed bool
}

type memorySub struct {
	broker  *MemoryBroker
	channel string
	id      uint64
	events  []EventType
	onEvent Handler
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[uint64]*memorySub)}
}

// Subscribe registers onEvent for events of table passing filter.
func (b *MemoryBroker) Subscribe(ctx context.Context, table string, events []EventType, filter Filter, onEvent Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !Routable(table, filter) {
		return nil, fmt.Errorf("realtime: %s cannot be filtered by %s", table, filter.Column)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	b.nextID++
	sub := &memorySub{
		broker:  b,
		channel: channelName("memory", table, filter),
		id:      b.nextID,
		events:  append([]EventType(nil), events...),
		onEvent: onEvent,
	}
	if b.subs[sub.channel] == nil {
		b.subs[sub.channel] = make(map[uint64]*memorySub)
	}
	b.subs[sub.channel][sub.id] = sub
	return sub, nil
}

// Publish delivers ev to every matching subscriber.
func (b *MemoryBroker) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	var targets []*memorySub
	for _, ch := range channels("memory", ev) {
		for _, sub := range b.subs[ch] {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	// Handlers may publish or unsubscribe, so they run without the lock.
	for _, sub := range targets {
		if ev.Matches(sub.events) {
			sub.onEvent(ev)
		}
	}
	return nil
}

// Subscribers returns the number of registered subscriptions.
func (b *MemoryBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Close drops every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[uint64]*memorySub)
	return nil
}

func (s *memorySub) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if subs, ok := s.broker.subs[s.channel]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.broker.subs, s.channel)
		}
	}
	return nil
}
