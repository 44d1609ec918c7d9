package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Rrens/livedesk/internal/domain"
)

// Store implements domain.Store on PostgreSQL
type Store struct {
	db   *DB
	q    querier
	inTx bool
}

// NewStore creates a store backed by the pool
func NewStore(db *DB) *Store {
	return &Store{db: db, q: db.Pool}
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
	if s.inTx {
		return fn(s)
	}

	err := pgx.BeginTxFunc(ctx, s.db.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&Store{db: s.db, q: tx, inTx: true})
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}
