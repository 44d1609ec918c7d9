package sqlite

import (
	"context"
	"database/sql"
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
	err := r.q.QueryRowContext(ctx, `SELECT id, name, owner_id FROM projects WHERE id = ?`, id.String()).
		Scan(&p.ID, &p.Name, &p.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", translate(err))
	}
	return &p, nil
}

func (r *ProjectRepository) IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM project_members WHERE project_id = ? AND user_id = ?`,
		projectID.String(), userID.String(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

func (r *ProjectRepository) CreateInvitation(ctx context.Context, inv *domain.Invitation) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO project_invitations (id, project_id, sender_id, receiver_id, status) VALUES (?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.ProjectID.String(), inv.SenderID.String(), inv.ReceiverID.String(), inv.Status,
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
		WHERE i.id = ? AND i.receiver_id = ? AND i.status = 'pending'
	`
	var inv domain.Invitation
	var respondedAt sql.NullInt64
	err := r.q.QueryRowContext(ctx, query, id.String(), receiverID.String()).Scan(
		&inv.ID,
		&inv.ProjectID,
		&inv.ProjectName,
		&inv.SenderID,
		&inv.ReceiverID,
		&inv.ReceiverName,
		&inv.Status,
		&respondedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", translate(err))
	}
	inv.RespondedAt = timePtr(respondedAt)
	return &inv, nil
}

func (r *ProjectRepository) SetInvitationStatus(ctx context.Context, id uuid.UUID, status string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE project_invitations SET status = ?, responded_at = ? WHERE id = ? AND status = 'pending'`,
		status, toMicro(at), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invitation %s already answered: %w", id, domain.ErrInvalidState)
	}
	return nil
}

func (r *ProjectRepository) AddMember(ctx context.Context, projectID, userID uuid.UUID, role string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		projectID.String(), userID.String(), role,
	)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", translate(err))
	}
	return nil
}

func (r *ProjectRepository) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM project_members WHERE project_id = ? AND user_id = ?`,
		projectID.String(), userID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s is not a member: %w", userID, domain.ErrNotFound)
	}
	return nil
}
