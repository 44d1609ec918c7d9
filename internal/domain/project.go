package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Invitation statuses
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
)

// Invitation asks a user to join a project
type Invitation struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	ProjectName  string     `json:"project_name"`
	SenderID     uuid.UUID  `json:"sender_id"`
	ReceiverID   uuid.UUID  `json:"receiver_id"`
	ReceiverName string     `json:"receiver_name"`
	Status       string     `json:"status"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
}

// Project is the subset of a project the notification flows need
type Project struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	OwnerID uuid.UUID `json:"owner_id"`
}

// ProjectRepository covers the membership mutations that emit notifications
type ProjectRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Project, error)
	// IsMember reports whether userID collaborates on the project
	IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	// CreateInvitation stores a pending invitation. A second pending invitation
	// for the same receiver and project fails with ErrConflict.
	CreateInvitation(ctx context.Context, inv *Invitation) error
	// GetPendingInvitation returns a pending invitation addressed to receiverID
	GetPendingInvitation(ctx context.Context, id, receiverID uuid.UUID) (*Invitation, error)
	SetInvitationStatus(ctx context.Context, id uuid.UUID, status string, at time.Time) error
	AddMember(ctx context.Context, projectID, userID uuid.UUID, role string) error
	// RemoveMember returns ErrNotFound when the user is not a member
	RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error
}
