package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/domain"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	q querier
}

const sessionColumns = `id, user_id, assigned_to, status, started_at, ended_at, last_activity`

func scanSession(r row, extra ...any) (*domain.Session, error) {
	var (
		s                       domain.Session
		assigned                sql.NullString
		status                  string
		startedAt, lastActivity int64
		endedAt                 sql.NullInt64
	)
	dest := append([]any{&s.ID, &s.UserID, &assigned, &status, &startedAt, &endedAt, &lastActivity}, extra...)
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if s.AssignedTo, err = uuidPtr(assigned); err != nil {
		return nil, fmt.Errorf("invalid assigned_to: %w", err)
	}
	s.Status = domain.SessionStatus(status)
	s.StartedAt = fromMicro(startedAt)
	s.EndedAt = timePtr(endedAt)
	s.LastActivity = fromMicro(lastActivity)
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO chat_sessions (id, user_id, assigned_to, status, started_at, ended_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, query,
		session.ID.String(),
		session.UserID.String(),
		nullUUID(session.AssignedTo),
		string(session.Status),
		toMicro(session.StartedAt),
		nullMicro(session.EndedAt),
		toMicro(session.LastActivity),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", translate(err))
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = ?`
	s, err := scanSession(r.q.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", translate(err))
	}
	return s, nil
}

func (r *SessionRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE user_id = ? AND status = 'ACTIVE'`
	s, err := scanSession(r.q.QueryRowContext(ctx, query, userID.String()))
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
		WHERE s.status = ?
		ORDER BY s.last_activity DESC
		LIMIT ?
	`
	rows, err := r.q.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.SessionSummary
	for rows.Next() {
		var name string
		var count int
		s, err := scanSession(rows, &name, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, domain.SessionSummary{Session: *s, UserName: name, MessageCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) Assign(ctx context.Context, id, operatorID uuid.UUID, at time.Time) (*domain.Session, error) {
	query := `
		UPDATE chat_sessions
		SET assigned_to = ?, last_activity = MAX(last_activity, ?)
		WHERE id = ? AND status = 'ACTIVE'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.q.QueryRowContext(ctx, query, operatorID.String(), toMicro(at), id.String()))
	if err != nil {
		return nil, r.conditionalFailure(ctx, id, "assign", err)
	}
	return s, nil
}

func (r *SessionRepository) Touch(ctx context.Context, id uuid.UUID, claim *uuid.UUID, at time.Time) (*domain.Session, error) {
	query := `
		UPDATE chat_sessions
		SET assigned_to = COALESCE(?, assigned_to), last_activity = MAX(last_activity, ?)
		WHERE id = ? AND status = 'ACTIVE'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.q.QueryRowContext(ctx, query, nullUUID(claim), toMicro(at), id.String()))
	if err != nil {
		return nil, r.conditionalFailure(ctx, id, "touch", err)
	}
	return s, nil
}

func (r *SessionRepository) Close(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Session, bool, error) {
	query := `
		UPDATE chat_sessions
		SET status = 'CLOSED', ended_at = ?, last_activity = MAX(last_activity, ?)
		WHERE id = ? AND status = 'ACTIVE'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.q.QueryRowContext(ctx, query, toMicro(at), toMicro(at), id.String()))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to close session: %w", err)
	}

	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *SessionRepository) conditionalFailure(ctx context.Context, id uuid.UUID, op string, err error) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to %s session: %w", op, translate(err))
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return getErr
	}
	return fmt.Errorf("session %s is closed: %w", id, domain.ErrInvalidState)
}
