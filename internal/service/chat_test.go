package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/repository/sqlite"
)

type chatFixture struct {
	chat      *ChatService
	store     *sqlite.Store
	user      domain.Principal
	stranger  domain.Principal
	operator  domain.Principal
	operator2 domain.Principal
	countRows func(query string, args ...any) int
}

func newChatFixture(t *testing.T) *chatFixture {
	store := newTestStore(t)
	return &chatFixture{
		chat:      NewChatService(store),
		store:     store,
		user:      seedUser(t, store, "Alice", domain.RoleUser),
		stranger:  seedUser(t, store, "Mallory", domain.RoleUser),
		operator:  seedUser(t, store, "Olivia", domain.RoleModerator),
		operator2: seedUser(t, store, "Oscar", domain.RoleAdmin),
		countRows: func(query string, args ...any) int { return countRows(t, store, query, args...) },
	}
}

func (f *chatFixture) systemMessages(sessionID uuid.UUID) int {
	return f.countRows(`SELECT COUNT(*) FROM chat_messages WHERE session_id = ? AND sender = 'SYSTEM'`, sessionID.String())
}

func (f *chatFixture) open(t *testing.T) *domain.Session {
	t.Helper()
	res, err := f.chat.OpenSession(context.Background(), f.user)
	require.NoError(t, err)
	return res.Session
}

func TestChatService_OpenSession(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	first, err := f.chat.OpenSession(ctx, f.user)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, domain.SessionActive, first.Session.Status)
	assert.Nil(t, first.Session.AssignedTo)
	assert.Nil(t, first.Session.EndedAt)
	assert.True(t, first.Session.Unassigned())
	assert.Equal(t, []broadcast.Kind{broadcast.KindSessionUpdated}, kinds(first.Events))

	second, err := f.chat.OpenSession(ctx, f.user)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Empty(t, second.Events)
}

func TestChatService_OpenSessionConcurrent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.chat.OpenSession(ctx, f.user)
			errs[i] = err
			if err == nil {
				ids[i] = res.Session.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.countRows(`SELECT COUNT(*) FROM chat_sessions WHERE user_id = ? AND status = 'ACTIVE'`, f.user.ID.String()))
}

func TestChatService_OpenSessionAfterClose(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	closed := f.open(t)
	_, err := f.chat.Close(ctx, f.operator, closed.ID)
	require.NoError(t, err)

	res, err := f.chat.OpenSession(ctx, f.user)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEqual(t, closed.ID, res.Session.ID)
}

func TestChatService_Assign(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	session := f.open(t)

	t.Run("operator takes over", func(t *testing.T) {
		res, err := f.chat.Assign(ctx, f.operator, session.ID)
		require.NoError(t, err)

		require.NotNil(t, res.Session.AssignedTo)
		assert.Equal(t, f.operator.ID, *res.Session.AssignedTo)
		assert.False(t, res.Session.LastActivity.Before(session.LastActivity))
		require.NotNil(t, res.Message)
		assert.Equal(t, domain.SenderSystem, res.Message.Sender)
		assert.Contains(t, res.Message.Content, "Olivia")
		assert.Equal(t, 1, f.systemMessages(session.ID))

		assert.Equal(t, []broadcast.Kind{broadcast.KindMessage, broadcast.KindSessionUpdated}, kinds(res.Events))
		rec := publish(res.Events)
		assert.ElementsMatch(t, []string{broadcast.OperatorTopic, broadcast.UserTopic(f.user.ID)}, rec.topics())
	})

	t.Run("second operator wins the race", func(t *testing.T) {
		res, err := f.chat.Assign(ctx, f.operator2, session.ID)
		require.NoError(t, err)
		assert.True(t, res.Session.IsAssignedTo(f.operator2.ID))
	})

	t.Run("user cannot assign", func(t *testing.T) {
		_, err := f.chat.Assign(ctx, f.user, session.ID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.chat.Assign(ctx, f.operator, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestChatService_Reply(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	session := f.open(t)

	t.Run("user reply fans out to owner and operators only", func(t *testing.T) {
		res, err := f.chat.Reply(ctx, f.user, session.ID, "  my printer is on fire  ")
		require.NoError(t, err)

		assert.Equal(t, domain.SenderUser, res.Message.Sender)
		assert.Equal(t, "my printer is on fire", res.Message.Content)
		assert.Nil(t, res.Session.AssignedTo)

		rec := publish(res.Events)
		assert.ElementsMatch(t, []string{broadcast.OperatorTopic, broadcast.UserTopic(f.user.ID)}, rec.topics())
		assert.NotContains(t, rec.topics(), broadcast.UserTopic(f.stranger.ID))
	})

	t.Run("other users cannot see the session", func(t *testing.T) {
		_, err := f.chat.Reply(ctx, f.stranger, session.ID, "hello")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("empty content", func(t *testing.T) {
		_, err := f.chat.Reply(ctx, f.user, session.ID, "   ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("length is counted in characters", func(t *testing.T) {
		res, err := f.chat.Reply(ctx, f.user, session.ID, strings.Repeat("é", 4000))
		require.NoError(t, err)
		assert.Equal(t, 4000, utf8.RuneCountInString(res.Message.Content))

		_, err = f.chat.Reply(ctx, f.user, session.ID, strings.Repeat("é", 4001))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("operator reply claims an unassigned session", func(t *testing.T) {
		res, err := f.chat.Reply(ctx, f.operator, session.ID, "on it")
		require.NoError(t, err)

		assert.Equal(t, domain.SenderSupport, res.Message.Sender)
		assert.True(t, res.Session.IsAssignedTo(f.operator.ID))
		assert.Equal(t, 0, f.systemMessages(session.ID))
	})

	t.Run("another operator's reply takes over", func(t *testing.T) {
		res, err := f.chat.Reply(ctx, f.operator2, session.ID, "adding a note")
		require.NoError(t, err)
		assert.True(t, res.Session.IsAssignedTo(f.operator2.ID))
		assert.Equal(t, 0, f.systemMessages(session.ID))
	})

	t.Run("user reply leaves the holder", func(t *testing.T) {
		res, err := f.chat.Reply(ctx, f.user, session.ID, "thanks")
		require.NoError(t, err)
		assert.True(t, res.Session.IsAssignedTo(f.operator2.ID))
	})
}

func TestChatService_Transfer(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	session := f.open(t)

	_, err := f.chat.Assign(ctx, f.operator, session.ID)
	require.NoError(t, err)

	t.Run("to another operator", func(t *testing.T) {
		res, err := f.chat.Transfer(ctx, f.operator, session.ID, f.operator2.ID)
		require.NoError(t, err)

		assert.True(t, res.Session.IsAssignedTo(f.operator2.ID))
		assert.Equal(t, domain.SenderSystem, res.Message.Sender)
		assert.Equal(t, "Conversation transferred from Olivia to Oscar by Olivia", res.Message.Content)

		rec := publish(res.Events)
		assert.ElementsMatch(t, []string{broadcast.OperatorTopic, broadcast.UserTopic(f.user.ID)}, rec.topics())
	})

	t.Run("to a non operator", func(t *testing.T) {
		_, err := f.chat.Transfer(ctx, f.operator2, session.ID, f.stranger.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	})

	t.Run("to an unknown user", func(t *testing.T) {
		_, err := f.chat.Transfer(ctx, f.operator2, session.ID, uuid.New())
		assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	})

	t.Run("by a user", func(t *testing.T) {
		_, err := f.chat.Transfer(ctx, f.user, session.ID, f.operator.ID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	// Failed transfers leave no trace
	assert.Equal(t, 2, f.systemMessages(session.ID))
}

func TestChatService_TransferTakeover(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	session := f.open(t)

	_, err := f.chat.Assign(ctx, f.operator, session.ID)
	require.NoError(t, err)

	// Oscar pulls the session away from Olivia
	res, err := f.chat.Transfer(ctx, f.operator2, session.ID, f.operator2.ID)
	require.NoError(t, err)

	assert.True(t, res.Session.IsAssignedTo(f.operator2.ID))
	assert.Equal(t, domain.SenderSystem, res.Message.Sender)
	assert.Equal(t, "Conversation transferred from Olivia to Oscar by Oscar", res.Message.Content)

	rec := publish(res.Events)
	assert.ElementsMatch(t, []string{broadcast.OperatorTopic, broadcast.UserTopic(f.user.ID)}, rec.topics())
}

func TestChatService_TransferUnassigned(t *testing.T) {
	f := newChatFixture(t)
	session := f.open(t)

	res, err := f.chat.Transfer(context.Background(), f.operator, session.ID, f.operator2.ID)
	require.NoError(t, err)
	assert.Equal(t, "Conversation transferred to Oscar by Olivia", res.Message.Content)
}

func TestChatService_Close(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	session := f.open(t)

	_, err := f.chat.Assign(ctx, f.operator, session.ID)
	require.NoError(t, err)

	first, err := f.chat.Close(ctx, f.operator, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, first.Session.Status)
	require.NotNil(t, first.Session.EndedAt)
	require.NotNil(t, first.Message)
	assert.Equal(t, domain.SenderSystem, first.Message.Sender)
	assert.Equal(t,
		[]broadcast.Kind{broadcast.KindMessage, broadcast.KindSessionClosed, broadcast.KindSessionUpdated},
		kinds(first.Events))

	rec := publish(first.Events)
	assert.Len(t, rec.frames[broadcast.UserTopic(f.user.ID)], 3)

	t.Run("is idempotent", func(t *testing.T) {
		second, err := f.chat.Close(ctx, f.operator2, session.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Session, second.Session)
		assert.Nil(t, second.Message)
		assert.Empty(t, second.Events)
		assert.Equal(t, 2, f.systemMessages(session.ID))
	})

	t.Run("rejects later mutations", func(t *testing.T) {
		_, err := f.chat.Reply(ctx, f.user, session.ID, "are you there?")
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		_, err = f.chat.Reply(ctx, f.operator, session.ID, "late answer")
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		_, err = f.chat.Assign(ctx, f.operator2, session.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		_, err = f.chat.Transfer(ctx, f.operator, session.ID, f.operator2.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		history, err := f.chat.History(ctx, f.operator, session.ID)
		require.NoError(t, err)
		last := history[len(history)-1]
		assert.Equal(t, domain.SenderSystem, last.Sender)
		assert.Equal(t, first.Message.ID, last.ID)

		var status string
		require.NoError(t, f.store.DB().QueryRow(`SELECT status FROM chat_sessions WHERE id = ?`, session.ID.String()).Scan(&status))
		assert.Equal(t, string(domain.SessionClosed), status)
	})

	t.Run("user cannot close", func(t *testing.T) {
		_, err := f.chat.Close(ctx, f.user, session.ID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.chat.Close(ctx, f.operator, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestChatService_MessageOrdering(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	session := f.open(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.chat.Reply(ctx, f.user, session.ID, fmt.Sprintf("user %d", i))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.chat.Reply(ctx, f.operator, session.ID, fmt.Sprintf("operator %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, err := f.chat.Close(ctx, f.operator, session.ID)
	require.NoError(t, err)

	history, err := f.chat.History(ctx, f.user, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 21)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].SentAt.Before(history[i-1].SentAt), "message %d goes back in time", i)
	}
	assert.Equal(t, domain.SenderSystem, history[len(history)-1].Sender)
}

func TestChatService_History(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	session := f.open(t)

	_, err := f.chat.Reply(ctx, f.user, session.ID, "hello")
	require.NoError(t, err)

	mine, err := f.chat.History(ctx, f.user, session.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = f.chat.History(ctx, f.stranger, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := f.chat.History(ctx, f.operator, session.ID)
	require.NoError(t, err)
	assert.Equal(t, mine, all)

	empty, err := f.chat.History(ctx, f.operator, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChatService_ActiveSession(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, _, err := f.chat.ActiveSession(ctx, f.user)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	session := f.open(t)
	_, err = f.chat.Reply(ctx, f.user, session.ID, "hello")
	require.NoError(t, err)

	got, messages, err := f.chat.ActiveSession(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Len(t, messages, 1)
}

func TestChatService_ListSessions(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	older := f.open(t)
	other, err := f.chat.OpenSession(ctx, f.stranger)
	require.NoError(t, err)
	_, err = f.chat.Reply(ctx, f.stranger, other.Session.ID, "first")
	require.NoError(t, err)
	_, err = f.chat.Reply(ctx, f.stranger, other.Session.ID, "second")
	require.NoError(t, err)

	active, err := f.chat.ListSessions(ctx, f.operator, "")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, other.Session.ID, active[0].ID)
	assert.Equal(t, "Mallory", active[0].UserName)
	assert.Equal(t, 2, active[0].MessageCount)
	assert.Equal(t, older.ID, active[1].ID)

	_, err = f.chat.Close(ctx, f.operator, older.ID)
	require.NoError(t, err)

	closed, err := f.chat.ListSessions(ctx, f.operator, domain.SessionClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, older.ID, closed[0].ID)

	_, err = f.chat.ListSessions(ctx, f.operator, "WAITING")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.chat.ListSessions(ctx, f.user, domain.SessionActive)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestChatService_StoreUnavailable(t *testing.T) {
	f := newChatFixture(t)
	require.NoError(t, f.store.Close())

	_, err := f.chat.OpenSession(context.Background(), f.user)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, domain.CodeTransient, domain.Code(err))
}
