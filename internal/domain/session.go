package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a support session
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionClosed SessionStatus = "CLOSED"
)

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	return s == SessionActive || s == SessionClosed
}

// Session is one end-user support conversation.
//
// An ACTIVE session with no AssignedTo is waiting for an operator. EndedAt is set
// if and only if Status is CLOSED.
type Session struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	AssignedTo   *uuid.UUID    `json:"assigned_to"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	LastActivity time.Time     `json:"last_activity"`
}

// Unassigned reports whether the session is still waiting for an operator
func (s *Session) Unassigned() bool {
	return s.Status == SessionActive && s.AssignedTo == nil
}

// IsAssignedTo reports whether operatorID currently holds the session
func (s *Session) IsAssignedTo(operatorID uuid.UUID) bool {
	return s.AssignedTo != nil && *s.AssignedTo == operatorID
}

// SessionSummary is a worklist row for operators
type SessionSummary struct {
	Session
	UserName     string `json:"user_name"`
	MessageCount int    `json:"message_count"`
}

// SessionRepository defines the interface for session storage.
//
// Conditional mutations only apply to ACTIVE sessions and return ErrInvalidState
// when the session exists but is CLOSED, ErrNotFound when it does not exist.
type SessionRepository interface {
	// Create inserts a new ACTIVE session. A second ACTIVE session for the same
	// user fails with ErrConflict.
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	// FindActiveByUser returns the ACTIVE session of a user or ErrNotFound
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*Session, error)
	ListByStatus(ctx context.Context, status SessionStatus, limit int) ([]SessionSummary, error)
	// Assign sets the operator unconditionally (last write wins)
	Assign(ctx context.Context, id, operatorID uuid.UUID, at time.Time) (*Session, error)
	// Touch refreshes last activity; a non-nil claim becomes the operator,
	// a nil claim leaves the holder unchanged
	Touch(ctx context.Context, id uuid.UUID, claim *uuid.UUID, at time.Time) (*Session, error)
	// Close transitions ACTIVE to CLOSED. closed is false when the session was
	// already CLOSED, in which case the stored terminal session is returned.
	Close(ctx context.Context, id uuid.UUID, at time.Time) (session *Session, closed bool, err error)
}
