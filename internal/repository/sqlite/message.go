package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/domain"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	q querier
}

func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO chat_messages (id, session_id, content, sender, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, query,
		message.ID.String(),
		message.SessionID.String(),
		message.Content,
		string(message.Sender),
		toMicro(message.SentAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", translate(err))
	}
	return nil
}

func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, content, sender, sent_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY sent_at ASC, rowid ASC
	`
	rows, err := r.q.QueryContext(ctx, query, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var sender string
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Content, &sender, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Sender = domain.Sender(sender)
		m.SentAt = fromMicro(sentAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
