package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/domain"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationList is a page of notifications with the total unread count
type NotificationList struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
}

// NotificationService creates and reads user notifications
type NotificationService struct {
	store domain.Store
	now   func() time.Time
}

// NewNotificationService creates a new notification service
func NewNotificationService(store domain.Store) *NotificationService {
	return &NotificationService{store: store, now: storeClock}
}

// Notify records a notification through tx, the transaction of the mutation
// it describes. The returned event must be published after that transaction
// commits; nobody listening is not an error.
func (s *NotificationService) Notify(ctx context.Context, tx domain.Store, userID uuid.UUID, typ, title, message string, data any) (*domain.Notification, broadcast.Event, error) {
	n := &domain.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: s.now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, broadcast.Event{}, fmt.Errorf("failed to encode notification data: %w", err)
		}
		n.Data = raw
	}

	if err := tx.Notifications().Create(ctx, n); err != nil {
		return nil, broadcast.Event{}, err
	}
	return n, broadcast.NotificationCreated(*n), nil
}

// List returns the newest notifications of a user
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) (*NotificationList, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	notifications, err := s.store.Notifications().ListByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, storeError("list notifications", err)
	}
	unread, err := s.store.Notifications().CountUnread(ctx, userID)
	if err != nil {
		return nil, storeError("count notifications", err)
	}

	if notifications == nil {
		notifications = []domain.Notification{}
	}
	return &NotificationList{Notifications: notifications, UnreadCount: unread}, nil
}

// MarkRead flags the given notifications as read, or all unread ones when ids
// is empty
func (s *NotificationService) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	n, err := s.store.Notifications().MarkRead(ctx, userID, ids)
	if err != nil {
		return 0, storeError("mark notifications read", err)
	}
	return n, nil
}

// MarkOneRead flags a single notification of the user as read
func (s *NotificationService) MarkOneRead(ctx context.Context, userID, id uuid.UUID) error {
	n, err := s.MarkRead(ctx, userID, []uuid.UUID{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
