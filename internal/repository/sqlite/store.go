package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Rrens/livedesk/internal/domain"
)

// Store implements domain.Store on SQLite
type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

// NewStore wraps an opened database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Sessions() domain.SessionRepository {
	return &SessionRepository{q: s.q}
}

func (s *Store) Messages() domain.MessageRepository {
	return &MessageRepository{q: s.q}
}

func (s *Store) Notifications() domain.NotificationRepository {
	return &NotificationRepository{q: s.q}
}

func (s *Store) Users() domain.UserRepository {
	return &UserRepository{q: s.q}
}

func (s *Store) Projects() domain.ProjectRepository {
	return &ProjectRepository{q: s.q}
}

// WithTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for seeding and migrations
func (s *Store) DB() *sql.DB {
	return s.db
}
