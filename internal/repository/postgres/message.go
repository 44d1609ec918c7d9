package postgres

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

// Create inserts a new message
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO chat_messages (id, session_id, content, sender, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.q.Exec(ctx, query,
		message.ID,
		message.SessionID,
		message.Content,
		string(message.Sender),
		message.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", translate(err))
	}
	return nil
}

// ListBySession retrieves the messages of a session in chronological order
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, content, sender, sent_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY sent_at ASC, id ASC
	`
	rows, err := r.q.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var sender string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Content, &sender, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Sender = domain.Sender(sender)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
