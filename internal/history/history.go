// Package history loads stored conversation state from the relational
// backend.
package history

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/metrics"
	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/scope"
	"github.com/donatonuis/chatsync/internal/store"
	"github.com/donatonuis/chatsync/internal/syncerr"
)

// MessageSource is the part of the backend the loader reads from.
type MessageSource interface {
	FetchMessages(ctx context.Context, f store.MessageFilter) ([]models.Message, error)
}

// Thread is one requester's conversation about an item.
type Thread struct {
	Requester string           `json:"username"`
	Key       string           `json:"room"`
	Messages  []models.Message `json:"messages"`
	Last      models.Message   `json:"last_message"`
}

// Loader fetches message history.
type Loader struct {
	source  MessageSource
	logger  zerolog.Logger
	timeout time.Duration
}

// NewLoader creates a loader over source. timeout bounds every fetch; zero
// means the caller's context alone decides.
func NewLoader(source MessageSource, logger zerolog.Logger, timeout time.Duration) *Loader {
	return &Loader{
		source:  source,
		logger:  logger.With().Str("component", "history").Logger(),
		timeout: timeout,
	}
}

// LoadHistory returns the stored messages of the conversation scopeKey,
// ascending by CreatedAt. With participants, rows stored under the legacy key
// of the item are included and only the two participants' messages are kept.
// An empty conversation is not an error.
func (l *Loader) LoadHistory(ctx context.Context, scopeKey string, participants *scope.Participants) ([]models.Message, error) {
	if scopeKey == "" {
		return nil, syncerr.Validation("load history", "scope key is empty")
	}
	matcher := scope.NewMatcher(scopeKey, participants)

	rows, err := l.fetch(ctx, "load history", store.MessageFilter{Rooms: matcher.Rooms()})
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(rows))
	for _, m := range rows {
		if matcher.Match(m) {
			messages = append(messages, m)
		}
	}
	sortAscending(messages)

	l.logger.Debug().
		Str("scope", scopeKey).
		Int("fetched", len(rows)).
		Int("kept", len(messages)).
		Msg("history loaded")
	return messages, nil
}

// UserRooms returns the scope keys of every conversation username takes part
// in, most recently active first.
func (l *Loader) UserRooms(ctx context.Context, username string) ([]string, error) {
	if username == "" {
		return nil, syncerr.Validation("user rooms", "username is empty")
	}

	rows, err := l.fetch(ctx, "user rooms", store.MessageFilter{Participant: username, Descending: true})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	rooms := []string{}
	for _, m := range rows {
		if m.Room == "" || seen[m.Room] {
			continue
		}
		seen[m.Room] = true
		rooms = append(rooms, m.Room)
	}
	return rooms, nil
}

// Threads groups every message about an item by requester, for the item's
// owner. Messages that cannot be attributed to a requester are skipped.
// Threads are ordered by their last message, newest first.
func (l *Loader) Threads(ctx context.Context, subjectID int64, owner string) ([]Thread, error) {
	rows, err := l.fetch(ctx, "threads", store.MessageFilter{SubjectID: &subjectID})
	if err != nil {
		return nil, err
	}
	sortAscending(rows)

	byRequester := make(map[string]*Thread)
	var order []string
	for _, m := range rows {
		requester, ok := scope.Requester(subjectID, owner, m)
		if !ok {
			continue
		}
		t, ok := byRequester[requester]
		if !ok {
			t = &Thread{Requester: requester, Key: scope.Key(subjectID, requester)}
			byRequester[requester] = t
			order = append(order, requester)
		}
		t.Messages = append(t.Messages, m)
		if !m.CreatedAt.Before(t.Last.CreatedAt) {
			t.Last = m
		}
	}

	threads := make([]Thread, 0, len(order))
	for _, r := range order {
		threads = append(threads, *byRequester[r])
	}
	slices.SortStableFunc(threads, func(a, b Thread) int {
		return b.Last.CreatedAt.Compare(a.Last.CreatedAt)
	})
	return threads, nil
}

func (l *Loader) fetch(ctx context.Context, op string, f store.MessageFilter) ([]models.Message, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	rows, err := l.source.FetchMessages(ctx, f)
	if err != nil {
		metrics.HistoryFailures.Inc()
		l.logger.Warn().Err(err).Str("op", op).Msg("history fetch failed")
		return nil, syncerr.Fetch(op, err)
	}
	return rows, nil
}

func sortAscending(msgs []models.Message) {
	slices.SortStableFunc(msgs, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
