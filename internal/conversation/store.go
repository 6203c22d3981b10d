// Package conversation keeps the ordered, de-duplicated message list of one
// conversation view.
package conversation

import (
	"slices"
	"sort"
	"sync"

	"github.com/donatonuis/chatsync/internal/models"
)

// Store is the in-memory message list of one conversation. Entries are unique
// by identity key and sorted ascending by CreatedAt; entries with equal
// timestamps keep their arrival order.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	keys     map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{keys: make(map[string]struct{})}
}

// Load replaces the contents with initial. It only applies to an empty store
// so that messages merged before history arrived are never clobbered; it
// reports whether the contents were replaced.
func (s *Store) Load(initial []models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) > 0 {
		return false
	}
	s.replace(initial)
	return true
}

// Merge inserts m unless a message with the same identity key is present.
// It reports whether m was inserted.
func (s *Store) Merge(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.Key()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}

	// Insert after every entry not newer than m.
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(m.CreatedAt)
	})
	s.messages = slices.Insert(s.messages, i, m)
	return true
}

// Snapshot returns a copy of the ordered messages.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Reconcile replaces the contents with the sorted union of history and live,
// unique by identity key. History entries win over live ones with the same
// key.
func (s *Store) Reconcile(history, live []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	union := make([]models.Message, 0, len(history)+len(live))
	union = append(union, history...)
	union = append(union, live...)
	s.replace(union)
}

// ApplyHistory installs a history batch: a plain Load when nothing arrived
// live yet, otherwise a reconciliation with the live messages already held.
func (s *Store) ApplyHistory(history []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 {
		s.replace(history)
		return
	}
	union := make([]models.Message, 0, len(history)+len(s.messages))
	union = append(union, history...)
	union = append(union, s.messages...)
	s.replace(union)
}

// Reset empties the store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.keys = make(map[string]struct{})
}

// replace must be called with mu held.
func (s *Store) replace(msgs []models.Message) {
	keys := make(map[string]struct{}, len(msgs))
	unique := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		key := m.Key()
		if _, ok := keys[key]; ok {
			continue
		}
		keys[key] = struct{}{}
		unique = append(unique, m)
	}
	slices.SortStableFunc(unique, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	s.messages = unique
	s.keys = keys
}
