package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/notify"
)

const maxNotificationLimit = 50

// NotificationResponse is a ledger row with its display label.
type NotificationResponse struct {
	models.Notification
	Label string `json:"label"`
}

// BellResponse represents the notification bell of the caller.
type BellResponse struct {
	UnreadCount   int64                  `json:"unread_count"`
	Notifications []NotificationResponse `json:"notifications"`
}

// aggregator builds a bell aggregator for the caller with the given list
// size.
func (h *Handler) aggregator(r *http.Request, limit int) (*notify.Aggregator, error) {
	return notify.NewAggregator(identity(r), h.backend, limit, h.logger)
}

func (h *Handler) bell(w http.ResponseWriter, agg *notify.Aggregator, status int) {
	recent := agg.Recent()
	resp := BellResponse{
		UnreadCount:   agg.UnreadCount(),
		Notifications: make([]NotificationResponse, len(recent)),
	}
	for i, n := range recent {
		resp.Notifications[i] = NotificationResponse{Notification: n, Label: agg.Label(n)}
	}
	h.JSON(w, status, resp)
}

// GetNotifications returns the newest notifications of the caller and the
// unread count. The list size defaults to the configured limit and can be
// lowered or raised with ?limit= up to 50.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit := h.limit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxNotificationLimit {
			h.Error(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	agg, err := h.aggregator(r, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := agg.PrimeFromLedger(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.bell(w, agg, http.StatusOK)
}

// MarkNotificationRead marks one of the caller's notifications read and
// returns the refreshed bell.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	agg, err := h.aggregator(r, h.limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := agg.MarkRead(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.bell(w, agg, http.StatusOK)
}

// MarkAllNotificationsRead marks every notification of the caller read.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	agg, err := h.aggregator(r, h.limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := agg.MarkAllRead(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.bell(w, agg, http.StatusOK)
}
