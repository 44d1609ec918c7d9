package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/api/response"
	"github.com/Rrens/livedesk/internal/service"
)

// ChatHandler exposes the support session state machine over HTTP
type ChatHandler struct {
	chat   *service.ChatService
	events EventPublisher
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat *service.ChatService, events EventPublisher) *ChatHandler {
	return &ChatHandler{chat: chat, events: events}
}

type sessionInput struct {
	SessionID uuid.UUID `json:"session_id" validate:"required"`
}

type replyInput struct {
	SessionID uuid.UUID `json:"session_id" validate:"required"`
	Content   string    `json:"content" validate:"required,max=4000"`
}

// OpenSession returns the caller's active session, opening one if needed
func (h *ChatHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	res, err := h.chat.OpenSession(r.Context(), p)
	if err != nil {
		response.FromError(w, err)
		return
	}
	h.events.Publish(r.Context(), res.Events...)

	if res.Created {
		response.Created(w, res)
		return
	}
	response.OK(w, res)
}

// ActiveSession returns the caller's active session and its messages
func (h *ChatHandler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	session, messages, err := h.chat.ActiveSession(r.Context(), p)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"session":  session,
		"messages": messages,
	})
}

// SendMessage posts a message from the caller into a session
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var input replyInput
	if !decode(w, r, &input) {
		return
	}

	res, err := h.chat.Reply(r.Context(), p, input.SessionID, input.Content)
	if err != nil {
		response.FromError(w, err)
		return
	}
	h.events.Publish(r.Context(), res.Events...)

	response.Created(w, res)
}

// History returns the messages of a session, oldest first
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	sessionID, ok := urlID(w, r, "id", "session ID")
	if !ok {
		return
	}

	messages, err := h.chat.History(r.Context(), p, sessionID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}
