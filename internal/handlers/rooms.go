package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/donatonuis/chatsync/internal/history"
	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/scope"
	"github.com/donatonuis/chatsync/internal/syncerr"
	"github.com/donatonuis/chatsync/internal/view"
)

// RoomMessagesResponse represents the conversation snapshot response.
type RoomMessagesResponse struct {
	Room     string           `json:"room"`
	Messages []models.Message `json:"messages"`
}

// PostMessageRequest represents the send message request.
type PostMessageRequest struct {
	Content   string `json:"content"`
	SubjectID int64  `json:"subject_id"`
	Owner     string `json:"owner"`
}

// ThreadsResponse represents the conversations of an item owner.
type ThreadsResponse struct {
	SubjectID int64            `json:"subject_id"`
	Threads   []history.Thread `json:"threads"`
}

// RoomsResponse represents the rooms a user takes part in.
type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// participants derives the participant pair of the conversation key from an
// item id and its owner. The requester is read from the key; a legacy key
// yields none and the pair is left without a counterpart.
func participants(key string, subjectID int64, owner string) *scope.Participants {
	p := &scope.Participants{SubjectID: subjectID, Owner: owner}
	if requester, ok := scope.Requester(subjectID, owner, models.Message{Room: key, Username: owner}); ok {
		p.Counterpart = requester
	}
	return p
}

// GetMessages returns the ordered history of one conversation. With subject
// and owner query parameters, legacy rows of the item are included for the
// participant pair; the owner must be the item's donor and the key must
// belong to the pair. Without them, only the messages the caller sent or
// received are returned, and a caller with none gets 403 unless the key names
// them as requester.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	caller := identity(r).Username

	var p *scope.Participants
	if raw := r.URL.Query().Get("subject"); raw != "" {
		subjectID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || subjectID <= 0 {
			h.Error(w, http.StatusBadRequest, "invalid subject")
			return
		}
		owner := strings.TrimSpace(r.URL.Query().Get("owner"))
		if owner == "" {
			h.Error(w, http.StatusBadRequest, "owner is required with subject")
			return
		}
		p = participants(key, subjectID, owner)
		if c := strings.TrimSpace(r.URL.Query().Get("counterpart")); c != "" {
			p.Counterpart = c
		}
		if !p.Has(caller) || (key != p.Key() && key != scope.Legacy(subjectID)) {
			h.Error(w, http.StatusForbidden, "not a participant of this conversation")
			return
		}
		stored, err := h.backend.SubjectOwner(r.Context(), subjectID)
		if err != nil {
			h.fail(w, syncerr.Fetch("subject owner", err))
			return
		}
		if stored != owner {
			h.Error(w, http.StatusForbidden, "owner does not match the item")
			return
		}
	}

	msgs, err := h.loader.LoadHistory(r.Context(), key, p)
	if err != nil {
		h.fail(w, err)
		return
	}
	if p == nil {
		msgs = slices.DeleteFunc(msgs, func(m models.Message) bool {
			return m.Username != caller && m.UserDestino != caller
		})
		if len(msgs) == 0 && !scope.NamesRequester(key, caller) {
			h.Error(w, http.StatusForbidden, "not a participant of this conversation")
			return
		}
	}
	h.JSON(w, http.StatusOK, RoomMessagesResponse{Room: key, Messages: msgs})
}

// PostMessage sends a message in one conversation. The key must be in the
// current format so that the requester can be read from it.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Owner = strings.TrimSpace(req.Owner)
	if req.SubjectID <= 0 || req.Owner == "" {
		h.Error(w, http.StatusBadRequest, "subject_id and owner are required")
		return
	}

	p := participants(key, req.SubjectID, req.Owner)
	if p.Counterpart == "" || p.Key() != key {
		h.Error(w, http.StatusBadRequest, "room does not name a requester of the item")
		return
	}

	msg, err := view.Compose(identity(r), p, key, req.Content)
	if err != nil {
		h.fail(w, err)
		return
	}
	saved, err := h.backend.InsertMessage(r.Context(), msg)
	if err != nil {
		h.logger.Warn().Err(err).Str("room", key).Msg("failed to send message")
		h.Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	h.JSON(w, http.StatusCreated, saved)
}

// GetThreads lists the conversations about one of the caller's items, newest
// first. Only the item's donor may list them.
func (h *Handler) GetThreads(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || subjectID <= 0 {
		h.Error(w, http.StatusBadRequest, "invalid subject")
		return
	}

	caller := identity(r).Username
	owner, err := h.backend.SubjectOwner(r.Context(), subjectID)
	if err != nil {
		h.fail(w, syncerr.Fetch("subject owner", err))
		return
	}
	if owner != caller {
		h.Error(w, http.StatusForbidden, "not the owner of this item")
		return
	}

	threads, err := h.loader.Threads(r.Context(), subjectID, caller)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, ThreadsResponse{SubjectID: subjectID, Threads: threads})
}

// GetMyRooms lists the rooms the caller takes part in, most recent first.
func (h *Handler) GetMyRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.loader.UserRooms(r.Context(), identity(r).Username)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, RoomsResponse{Rooms: rooms})
}
