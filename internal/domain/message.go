package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderUser    Sender = "USER"
	SenderSupport Sender = "SUPPORT"
	SenderSystem  Sender = "SYSTEM"
)

// Message is one immutable utterance inside a session
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	SentAt    time.Time `json:"sent_at"`
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	// ListBySession returns messages oldest first
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
}
