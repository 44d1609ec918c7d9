package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/domain"
)

// UserRepository implements domain.UserRepository
type UserRepository struct {
	q querier
}

func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	var role string
	err := r.q.QueryRowContext(ctx, `SELECT id, name, email, role FROM users WHERE id = ?`, id.String()).
		Scan(&u.ID, &u.Name, &u.Email, &role)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", translate(err))
	}
	u.Role = domain.Role(role)
	return &u, nil
}
