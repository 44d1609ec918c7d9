package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/metrics"
)

const (
	defaultSessionListLimit = 100
	maxMessageLength        = 4000
)

// ChatResult is the outcome of a session operation. Events must be handed to
// the broadcast router once the call has returned; the store transaction has
// committed by then.
type ChatResult struct {
	Session *domain.Session   `json:"session"`
	Message *domain.Message   `json:"message,omitempty"`
	Created bool              `json:"created,omitempty"`
	Events  []broadcast.Event `json:"-"`
}

// ChatService is the support session state machine
type ChatService struct {
	store domain.Store
	now   func() time.Time
}

// NewChatService creates a new chat service
func NewChatService(store domain.Store) *ChatService {
	return &ChatService{store: store, now: storeClock}
}

// storeClock returns the current time at the precision both stores keep
func storeClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// OpenSession returns the caller's ACTIVE session, creating one if needed
func (s *ChatService) OpenSession(ctx context.Context, p domain.Principal) (res *ChatResult, err error) {
	defer observe("open_session", &err)

	err = s.store.WithTx(ctx, func(tx domain.Store) error {
		existing, err := tx.Sessions().FindActiveByUser(ctx, p.ID)
		if err == nil {
			res = &ChatResult{Session: existing}
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		now := s.now()
		session := &domain.Session{
			ID:           uuid.New(),
			UserID:       p.ID,
			Status:       domain.SessionActive,
			StartedAt:    now,
			LastActivity: now,
		}
		if err := tx.Sessions().Create(ctx, session); err != nil {
			return err
		}

		res = &ChatResult{
			Session: session,
			Created: true,
			Events:  []broadcast.Event{broadcast.SessionUpdated(*session)},
		}
		return nil
	})

	if errors.Is(err, domain.ErrConflict) {
		// A concurrent open won the unique index; its session is committed
		existing, findErr := s.store.Sessions().FindActiveByUser(ctx, p.ID)
		if findErr != nil {
			return nil, storeError("open session", findErr)
		}
		return &ChatResult{Session: existing}, nil
	}
	if err != nil {
		return nil, storeError("open session", err)
	}

	if res.Created {
		log.Info().
			Str("session_id", res.Session.ID.String()).
			Str("user_id", p.ID.String()).
			Msg("Support session opened")
	}
	return res, nil
}

// Assign makes the calling operator the holder of the session
func (s *ChatService) Assign(ctx context.Context, p domain.Principal, sessionID uuid.UUID) (res *ChatResult, err error) {
	defer observe("assign", &err)

	if err := requireOperator(p); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx domain.Store) error {
		session, err := tx.Sessions().Assign(ctx, sessionID, p.ID, s.now())
		if err != nil {
			return err
		}

		msg, err := appendSystemMessage(ctx, tx, session, fmt.Sprintf("%s took over your request.", displayName(p)))
		if err != nil {
			return err
		}

		res = &ChatResult{
			Session: session,
			Message: msg,
			Events: []broadcast.Event{
				broadcast.MessageCreated(session.UserID, *msg),
				broadcast.SessionUpdated(*session),
			},
		}
		return nil
	})
	if err != nil {
		return nil, storeError("assign session", err)
	}
	return res, nil
}

// Reply appends a message from the caller. A user may only write to their own
// session; an operator writing to a session becomes its holder.
func (s *ChatService) Reply(ctx context.Context, p domain.Principal, sessionID uuid.UUID, content string) (res *ChatResult, err error) {
	defer observe("reply", &err)

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("message content is empty: %w", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters: %w", maxMessageLength, domain.ErrInvalidInput)
	}

	err = s.store.WithTx(ctx, func(tx domain.Store) error {
		sender := domain.SenderUser
		var claim *uuid.UUID
		if p.Role.IsOperator() {
			sender = domain.SenderSupport
			claim = &p.ID
		} else {
			session, err := tx.Sessions().Get(ctx, sessionID)
			if err != nil {
				return err
			}
			if session.UserID != p.ID {
				return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
			}
		}

		session, err := tx.Sessions().Touch(ctx, sessionID, claim, s.now())
		if err != nil {
			return err
		}

		msg := &domain.Message{
			ID:        uuid.New(),
			SessionID: session.ID,
			Content:   content,
			Sender:    sender,
			SentAt:    session.LastActivity,
		}
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return err
		}

		res = &ChatResult{
			Session: session,
			Message: msg,
			Events: []broadcast.Event{
				broadcast.MessageCreated(session.UserID, *msg),
				broadcast.SessionUpdated(*session),
			},
		}
		return nil
	})
	if err != nil {
		return nil, storeError("reply", err)
	}
	return res, nil
}

// Transfer hands the session to another operator
func (s *ChatService) Transfer(ctx context.Context, p domain.Principal, sessionID, targetID uuid.UUID) (res *ChatResult, err error) {
	defer observe("transfer", &err)

	if err := requireOperator(p); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx domain.Store) error {
		target, err := tx.Users().Get(ctx, targetID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("user %s does not exist: %w", targetID, domain.ErrInvalidTarget)
		}
		if err != nil {
			return err
		}
		if !target.Role.IsOperator() {
			return fmt.Errorf("user %s is not an operator: %w", targetID, domain.ErrInvalidTarget)
		}

		current, err := tx.Sessions().Get(ctx, sessionID)
		if err != nil {
			return err
		}
		previous := ""
		if current.AssignedTo != nil {
			holder, err := tx.Users().Get(ctx, *current.AssignedTo)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if holder != nil {
				previous = holder.Name
			}
		}

		session, err := tx.Sessions().Assign(ctx, sessionID, target.ID, s.now())
		if err != nil {
			return err
		}

		content := fmt.Sprintf("Conversation transferred to %s by %s", target.Name, displayName(p))
		if previous != "" {
			content = fmt.Sprintf("Conversation transferred from %s to %s by %s", previous, target.Name, displayName(p))
		}
		msg, err := appendSystemMessage(ctx, tx, session, content)
		if err != nil {
			return err
		}

		res = &ChatResult{
			Session: session,
			Message: msg,
			Events: []broadcast.Event{
				broadcast.MessageCreated(session.UserID, *msg),
				broadcast.SessionUpdated(*session),
			},
		}
		return nil
	})
	if err != nil {
		return nil, storeError("transfer session", err)
	}
	return res, nil
}

// Close ends the session. Closing a CLOSED session returns it unchanged and
// emits nothing.
func (s *ChatService) Close(ctx context.Context, p domain.Principal, sessionID uuid.UUID) (res *ChatResult, err error) {
	defer observe("close", &err)

	if err := requireOperator(p); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx domain.Store) error {
		session, closed, err := tx.Sessions().Close(ctx, sessionID, s.now())
		if err != nil {
			return err
		}
		if !closed {
			res = &ChatResult{Session: session}
			return nil
		}

		msg, err := appendSystemMessage(ctx, tx, session, "This conversation has been closed. Thank you for contacting support!")
		if err != nil {
			return err
		}

		res = &ChatResult{
			Session: session,
			Message: msg,
			Events: []broadcast.Event{
				broadcast.MessageCreated(session.UserID, *msg),
				broadcast.SessionClosed(*session),
				broadcast.SessionUpdated(*session),
			},
		}
		return nil
	})
	if err != nil {
		return nil, storeError("close session", err)
	}

	if res.Message != nil {
		log.Info().
			Str("session_id", sessionID.String()).
			Str("operator_id", p.ID.String()).
			Msg("Support session closed")
	}
	return res, nil
}

// ListSessions returns the operator worklist, most recent activity first
func (s *ChatService) ListSessions(ctx context.Context, p domain.Principal, status domain.SessionStatus) ([]domain.SessionSummary, error) {
	if err := requireOperator(p); err != nil {
		return nil, err
	}
	if status == "" {
		status = domain.SessionActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown session status %q: %w", status, domain.ErrInvalidInput)
	}

	sessions, err := s.store.Sessions().ListByStatus(ctx, status, defaultSessionListLimit)
	if err != nil {
		return nil, storeError("list sessions", err)
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	return sessions, nil
}

// History returns the messages of a session, oldest first. Users only see
// their own sessions.
func (s *ChatService) History(ctx context.Context, p domain.Principal, sessionID uuid.UUID) ([]domain.Message, error) {
	if !p.Role.IsOperator() {
		session, err := s.store.Sessions().Get(ctx, sessionID)
		if err != nil {
			return nil, storeError("get session", err)
		}
		if session.UserID != p.ID {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
	}

	messages, err := s.store.Messages().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, storeError("list messages", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// ActiveSession returns the caller's ACTIVE session with its messages, or
// ErrNotFound when there is none
func (s *ChatService) ActiveSession(ctx context.Context, p domain.Principal) (*domain.Session, []domain.Message, error) {
	session, err := s.store.Sessions().FindActiveByUser(ctx, p.ID)
	if err != nil {
		return nil, nil, storeError("find active session", err)
	}

	messages, err := s.store.Messages().ListBySession(ctx, session.ID)
	if err != nil {
		return nil, nil, storeError("list messages", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return session, messages, nil
}

func appendSystemMessage(ctx context.Context, tx domain.Store, session *domain.Session, content string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		Content:   content,
		Sender:    domain.SenderSystem,
		SentAt:    session.LastActivity,
	}
	if err := tx.Messages().Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func requireOperator(p domain.Principal) error {
	if !p.Role.IsOperator() {
		return fmt.Errorf("role %s cannot handle support sessions: %w", p.Role, domain.ErrUnauthorized)
	}
	return nil
}

func displayName(p domain.Principal) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return "Support"
}

func observe(op string, err *error) {
	result := "ok"
	if *err != nil {
		result = domain.Code(*err)
	}
	metrics.SessionOps.WithLabelValues(op, result).Inc()
}
