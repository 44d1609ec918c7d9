package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Rrens/livedesk/internal/domain"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	q querier
}

const sessionColumns = `id, user_id, assigned_to, status, started_at, ended_at, last_activity`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var status string
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.AssignedTo,
		&status,
		&s.StartedAt,
		&s.EndedAt,
		&s.LastActivity,
	); err != nil {
		return nil, err
	}
	s.Status = domain.SessionStatus(status)
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO chat_sessions (id, user_id, assigned_to, status, started_at, ended_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.AssignedTo,
		string(session.Status),
		session.StartedAt,
		session.EndedAt,
		session.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", translate(err))
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1`
	s, err := scanSession(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", translate(err))
	}
	return s, nil
}

func (r *SessionRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE user_id = $1 AND status = 'ACTIVE'`
	s, err := scanSession(r.q.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", translate(err))
	}
	return s, nil
}

func (r *SessionRepository) ListByStatus(ctx context.Context, status domain.SessionStatus, limit int) ([]domain.SessionSummary, error) {
	query := `
		SELECT s.id, s.user_id, s.assigned_to, s.status, s.started_at, s.ended_at, s.last_activity,
		       COALESCE(u.name, ''),
		       (SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = s.id)
		FROM chat_sessions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.status = $1
		ORDER BY s.last_activity DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.SessionSummary
	for rows.Next() {
		var s domain.SessionSummary
		var st string
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.AssignedTo,
			&st,
			&s.StartedAt,
			&s.EndedAt,
			&s.LastActivity,
			&s.UserName,
			&s.MessageCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Status = domain.SessionStatus(st)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) Assign(ctx context.Context, id, operatorID uuid.UUID, at time.Time) (*domain.Session, error) {
	query := `
		UPDATE chat_sessions
		SET assigned_to = $2, last_activity = GREATEST(last_activity, $3)
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.q.QueryRow(ctx, query, id, operatorID, at))
	if err != nil {
		return nil, r.conditionalFailure(ctx, id, "assign", err)
	}
	return s, nil
}

func (r *SessionRepository) Touch(ctx context.Context, id uuid.UUID, claim *uuid.UUID, at time.Time) (*domain.Session, error) {
	query := `
		UPDATE chat_sessions
		SET assigned_to = COALESCE($2, assigned_to), last_activity = GREATEST(last_activity, $3)
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.q.QueryRow(ctx, query, id, claim, at))
	if err != nil {
		return nil, r.conditionalFailure(ctx, id, "touch", err)
	}
	return s, nil
}

func (r *SessionRepository) Close(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Session, bool, error) {
	query := `
		UPDATE chat_sessions
		SET status = 'CLOSED', ended_at = $2, last_activity = GREATEST(last_activity, $2)
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.q.QueryRow(ctx, query, id, at))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to close session: %w", err)
	}

	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// conditionalFailure explains why a guarded UPDATE matched no row
func (r *SessionRepository) conditionalFailure(ctx context.Context, id uuid.UUID, op string, err error) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to %s session: %w", op, translate(err))
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return getErr
	}
	return fmt.Errorf("session %s is closed: %w", id, domain.ErrInvalidState)
}
