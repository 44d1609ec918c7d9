package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification types emitted by the collaboration flows
const (
	NotificationInvitationReceived = "invitation_received"
	NotificationInvitationAccepted = "invitation_accepted"
	NotificationInvitationDeclined = "invitation_declined"
	NotificationAccessRemoved      = "access_removed"
)

// Notification is a durable fact delivered to exactly one user
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

// NotificationRepository defines the interface for notification storage
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkRead flags the given notifications of a user as read, or every unread
	// one when ids is empty, and returns how many rows matched. It never clears
	// the flag.
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
}
