package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/api/response"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/service"
)

type transferInput struct {
	SessionID    uuid.UUID `json:"session_id" validate:"required"`
	TargetUserID uuid.UUID `json:"target_user_id" validate:"required"`
}

// ListSessions returns the operator worklist, ACTIVE sessions by default
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	status := domain.SessionStatus(r.URL.Query().Get("status"))
	sessions, err := h.chat.ListSessions(r.Context(), p, status)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// Assign takes over a session for the calling operator
func (h *ChatHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var input sessionInput
	if !decode(w, r, &input) {
		return
	}
	h.sessionAction(w, r, func(p domain.Principal) (*service.ChatResult, error) {
		return h.chat.Assign(r.Context(), p, input.SessionID)
	})
}

// Reply posts an operator message into a session
func (h *ChatHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var input replyInput
	if !decode(w, r, &input) {
		return
	}
	h.sessionAction(w, r, func(p domain.Principal) (*service.ChatResult, error) {
		return h.chat.Reply(r.Context(), p, input.SessionID, input.Content)
	})
}

// Transfer hands a session to another operator
func (h *ChatHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var input transferInput
	if !decode(w, r, &input) {
		return
	}
	h.sessionAction(w, r, func(p domain.Principal) (*service.ChatResult, error) {
		return h.chat.Transfer(r.Context(), p, input.SessionID, input.TargetUserID)
	})
}

// Close ends a session
func (h *ChatHandler) Close(w http.ResponseWriter, r *http.Request) {
	var input sessionInput
	if !decode(w, r, &input) {
		return
	}
	h.sessionAction(w, r, func(p domain.Principal) (*service.ChatResult, error) {
		return h.chat.Close(r.Context(), p, input.SessionID)
	})
}

func (h *ChatHandler) sessionAction(w http.ResponseWriter, r *http.Request, action func(domain.Principal) (*service.ChatResult, error)) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	res, err := action(p)
	if err != nil {
		response.FromError(w, err)
		return
	}
	h.events.Publish(r.Context(), res.Events...)

	response.OK(w, res)
}
