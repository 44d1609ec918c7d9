package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/repository/sqlite"
)

// newTestStore returns a migrated in-memory store
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(db))

	store := sqlite.NewStore(db)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *sqlite.Store, name string, role domain.Role) domain.Principal {
	t.Helper()

	id := uuid.New()
	_, err := store.DB().Exec(
		`INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)`,
		id.String(), name, id.String()+"@example.com", string(role),
	)
	require.NoError(t, err)
	return domain.Principal{ID: id, DisplayName: name, Role: role}
}

func seedProject(t *testing.T, store *sqlite.Store, name string, owner uuid.UUID, members ...uuid.UUID) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := store.DB().Exec(`INSERT INTO projects (id, name, owner_id) VALUES (?, ?, ?)`, id.String(), name, owner.String())
	require.NoError(t, err)
	for _, m := range members {
		_, err := store.DB().Exec(`INSERT INTO project_members (project_id, user_id) VALUES (?, ?)`, id.String(), m.String())
		require.NoError(t, err)
	}
	return id
}

func seedInvitation(t *testing.T, store *sqlite.Store, projectID, sender, receiver uuid.UUID) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := store.DB().Exec(
		`INSERT INTO project_invitations (id, project_id, sender_id, receiver_id) VALUES (?, ?, ?, ?)`,
		id.String(), projectID.String(), sender.String(), receiver.String(),
	)
	require.NoError(t, err)
	return id
}

func countRows(t *testing.T, store *sqlite.Store, query string, args ...any) int {
	t.Helper()

	var n int
	require.NoError(t, store.DB().QueryRow(query, args...).Scan(&n))
	return n
}

// topicRecorder is a broadcast.Publisher that remembers which topics saw
// which event kinds
type topicRecorder struct {
	mu     sync.Mutex
	frames map[string][]string
}

func newTopicRecorder() *topicRecorder {
	return &topicRecorder{frames: make(map[string][]string)}
}

func (r *topicRecorder) Publish(topic string, frame []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[topic] = append(r.frames[topic], string(frame))
	return 1
}

func (r *topicRecorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for topic := range r.frames {
		out = append(out, topic)
	}
	return out
}

func publish(evts []broadcast.Event) *topicRecorder {
	rec := newTopicRecorder()
	broadcast.New(rec).Publish(context.Background(), evts...)
	return rec
}

func kinds(evts []broadcast.Event) []broadcast.Kind {
	out := make([]broadcast.Kind, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Kind)
	}
	return out
}
