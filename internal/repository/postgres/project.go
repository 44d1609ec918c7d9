package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/domain"
)

// ProjectRepository implements domain.ProjectRepository
type ProjectRepository struct {
	q querier
}

func (r *ProjectRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	var p domain.Project
	err := r.q.QueryRow(ctx, `SELECT id, name, owner_id FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", translate(err))
	}
	return &p, nil
}

func (r *ProjectRepository) IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	var member bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return member, nil
}

func (r *ProjectRepository) CreateInvitation(ctx context.Context, inv *domain.Invitation) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO project_invitations (id, project_id, sender_id, receiver_id, status) VALUES ($1, $2, $3, $4, $5)`,
		inv.ID, inv.ProjectID, inv.SenderID, inv.ReceiverID, inv.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", translate(err))
	}
	return nil
}

func (r *ProjectRepository) GetPendingInvitation(ctx context.Context, id, receiverID uuid.UUID) (*domain.Invitation, error) {
	query := `
		SELECT i.id, i.project_id, p.name, i.sender_id, i.receiver_id, COALESCE(u.name, ''), i.status, i.responded_at
		FROM project_invitations i
		JOIN projects p ON p.id = i.project_id
		LEFT JOIN users u ON u.id = i.receiver_id
		WHERE i.id = $1 AND i.receiver_id = $2 AND i.status = 'pending'
	`
	var inv domain.Invitation
	err := r.q.QueryRow(ctx, query, id, receiverID).Scan(
		&inv.ID,
		&inv.ProjectID,
		&inv.ProjectName,
		&inv.SenderID,
		&inv.ReceiverID,
		&inv.ReceiverName,
		&inv.Status,
		&inv.RespondedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", translate(err))
	}
	return &inv, nil
}

func (r *ProjectRepository) SetInvitationStatus(ctx context.Context, id uuid.UUID, status string, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE project_invitations SET status = $2, responded_at = $3 WHERE id = $1 AND status = 'pending'`,
		id, status, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invitation %s already answered: %w", id, domain.ErrInvalidState)
	}
	return nil
}

func (r *ProjectRepository) AddMember(ctx context.Context, projectID, userID uuid.UUID, role string) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		projectID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", translate(err))
	}
	return nil
}

func (r *ProjectRepository) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s is not a member: %w", userID, domain.ErrNotFound)
	}
	return nil
}
