package domain

import "context"

// Store is the transactional persistence boundary of the core
type Store interface {
	Sessions() SessionRepository
	Messages() MessageRepository
	Notifications() NotificationRepository
	Users() UserRepository
	Projects() ProjectRepository

	// WithTx runs fn in a single transaction. Repositories obtained from the
	// Store passed to fn share that transaction; fn returning an error rolls
	// everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close() error
}
