package domain

import (
	"context"

	"github.com/google/uuid"
)

// Role is the privilege level of a platform user
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// IsOperator reports whether the role may handle support sessions
func (r Role) IsOperator() bool {
	return r == RoleModerator || r == RoleAdmin
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Principal is the verified identity attached to a connection or request
type Principal struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
}

// IdentityVerifier turns a bearer credential into a verified principal.
// It is the only place credentials are inspected.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*Principal, error)
}

// User represents a platform user as seen by the support core
type User struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}

// UserRepository defines read access to users
type UserRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
}
