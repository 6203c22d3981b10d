package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/donatonuis/chatsync/internal/history"
	"github.com/donatonuis/chatsync/internal/notify"
	"github.com/donatonuis/chatsync/internal/session"
	"github.com/donatonuis/chatsync/internal/store"
	"github.com/donatonuis/chatsync/internal/syncerr"
)

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the optional dependencies of a Handler.
type Options struct {
	NotificationLimit int
	Redis             *store.RedisStore // nil when not configured
	Broker            Pinger            // nil for the in-process broker
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	backend store.Backend
	loader  *history.Loader
	redis   *store.RedisStore
	broker  Pinger
	limit   int
	logger  zerolog.Logger
}

// NewHandler creates a new Handler over backend. Writes go through backend,
// so it should publish change events.
func NewHandler(backend store.Backend, loader *history.Loader, logger zerolog.Logger, opts Options) *Handler {
	limit := opts.NotificationLimit
	if limit < 1 {
		limit = notify.DefaultLimit
	}
	return &Handler{
		backend: backend,
		loader:  loader,
		redis:   opts.Redis,
		broker:  opts.Broker,
		limit:   limit,
		logger:  logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// fail maps a sync layer error to a response.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var typed *syncerr.Error
	switch {
	case errors.Is(err, notify.ErrUnknownNotification):
		h.Error(w, http.StatusNotFound, "notification not found")
	case errors.Is(err, syncerr.ErrValidation):
		msg := err.Error()
		if errors.As(err, &typed) && typed.Err != nil {
			msg = typed.Err.Error()
		}
		h.Error(w, http.StatusBadRequest, msg)
	case errors.Is(err, syncerr.ErrTransientFetch), errors.Is(err, syncerr.ErrSubscription):
		h.Error(w, http.StatusServiceUnavailable, "temporarily unavailable, try again")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// identity returns the caller placed by the identity middleware.
func identity(r *http.Request) session.Identity {
	id, _ := session.FromContext(r.Context())
	return id
}
