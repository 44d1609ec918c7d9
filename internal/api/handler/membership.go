package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/api/response"
	"github.com/Rrens/livedesk/internal/service"
)

// MembershipHandler handles invitations and collaborator removal
type MembershipHandler struct {
	membership *service.MembershipService
	events     EventPublisher
}

// NewMembershipHandler creates a new membership handler
func NewMembershipHandler(membership *service.MembershipService, events EventPublisher) *MembershipHandler {
	return &MembershipHandler{membership: membership, events: events}
}

// Invite asks a user to collaborate on a project owned by the caller
func (h *MembershipHandler) Invite(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	projectID, ok := urlID(w, r, "projectID", "project ID")
	if !ok {
		return
	}

	var input struct {
		UserID uuid.UUID `json:"user_id" validate:"required"`
	}
	if !decode(w, r, &input) {
		return
	}

	res, err := h.membership.Invite(r.Context(), p, projectID, input.UserID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	h.events.Publish(r.Context(), res.Events...)

	response.Created(w, res)
}

// RespondToInvitation accepts or declines an invitation
func (h *MembershipHandler) RespondToInvitation(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	invitationID, ok := urlID(w, r, "id", "invitation ID")
	if !ok {
		return
	}

	var input struct {
		Action string `json:"action" validate:"required,oneof=accept decline"`
	}
	if !decode(w, r, &input) {
		return
	}

	res, err := h.membership.RespondToInvitation(r.Context(), p, invitationID, input.Action == "accept")
	if err != nil {
		response.FromError(w, err)
		return
	}
	h.events.Publish(r.Context(), res.Events...)

	response.OK(w, res)
}

// RemoveCollaborator revokes a user's access to a project
func (h *MembershipHandler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	projectID, ok := urlID(w, r, "projectID", "project ID")
	if !ok {
		return
	}
	userID, ok := urlID(w, r, "userID", "user ID")
	if !ok {
		return
	}

	res, err := h.membership.RemoveCollaborator(r.Context(), p, projectID, userID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	h.events.Publish(r.Context(), res.Events...)

	response.OK(w, map[string]any{
		"project_id": projectID,
		"user_id":    userID,
		"removed":    true,
	})
}
