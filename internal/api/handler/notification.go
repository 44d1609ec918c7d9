package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/api/response"
	"github.com/Rrens/livedesk/internal/service"
)

// NotificationHandler handles notification endpoints
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List returns the caller's newest notifications and unread count
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	unreadOnly := false
	if v := query.Get("unread"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(w, "invalid unread flag")
			return
		}
		unreadOnly = parsed
	}

	limit := 0
	if v := query.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			response.BadRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}

	list, err := h.notifications.List(r.Context(), p.ID, unreadOnly, limit)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, list)
}

// MarkRead flags the listed notifications as read, or all of them when the
// list is empty
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var input struct {
		NotificationIDs []uuid.UUID `json:"notification_ids"`
	}
	if !decode(w, r, &input) {
		return
	}

	updated, err := h.notifications.MarkRead(r.Context(), p.ID, input.NotificationIDs)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"updated": updated,
	})
}

// MarkOneRead flags a single notification as read
func (h *NotificationHandler) MarkOneRead(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	id, ok := urlID(w, r, "id", "notification ID")
	if !ok {
		return
	}

	if err := h.notifications.MarkOneRead(r.Context(), p.ID, id); err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"id":   id,
		"read": true,
	})
}
