package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/livedesk/internal/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{frames: make(map[string][][]byte)}
}

func (p *recordingPublisher) Publish(topic string, frame []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[topic] = append(p.frames[topic], frame)
	return 1
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for topic := range p.frames {
		out = append(out, topic)
	}
	return out
}

type fakeRelay struct {
	mu       sync.Mutex
	sent     [][]string
	incoming chan relayed
}

type relayed struct {
	topics []string
	frame  []byte
}

func (f *fakeRelay) Send(_ context.Context, topics []string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, topics)
	return nil
}

func (f *fakeRelay) Listen(ctx context.Context, deliver func(topics []string, frame []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-f.incoming:
			deliver(m.topics, m.frame)
		}
	}
}

func TestTopics(t *testing.T) {
	owner := uuid.New()
	session := domain.Session{ID: uuid.New(), UserID: owner, Status: domain.SessionActive}

	tests := []struct {
		name string
		evt  Event
		want []string
	}{
		{"message", MessageCreated(owner, domain.Message{SessionID: session.ID}), []string{UserTopic(owner), OperatorTopic}},
		{"session updated", SessionUpdated(session), []string{OperatorTopic, UserTopic(owner)}},
		{"session closed", SessionClosed(session), []string{OperatorTopic, UserTopic(owner)}},
		{"notification", NotificationCreated(domain.Notification{UserID: owner}), []string{UserTopic(owner)}},
		{"unknown", Event{Kind: "typing", Audience: owner}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Topics(tt.evt))
		})
	}
}

func TestParseTopic(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		topic     string
		wantScope string
		wantID    uuid.UUID
		wantOK    bool
	}{
		{OperatorTopic, ScopeOperator, uuid.Nil, true},
		{UserTopic(id), ScopeUser, id, true},
		{ProjectTopic(id), ScopeProject, id, true},
		{"user_", "", uuid.Nil, false},
		{"user_not-a-uuid", "", uuid.Nil, false},
		{"room_" + id.String(), "", uuid.Nil, false},
		{"", "", uuid.Nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			scope, got, ok := ParseTopic(tt.topic)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantScope, scope)
			assert.Equal(t, tt.wantID, got)
		})
	}
}

func TestRouter_Publish(t *testing.T) {
	pub := newRecordingPublisher()
	router := New(pub)

	owner := uuid.New()
	msg := domain.Message{ID: uuid.New(), SessionID: uuid.New(), Content: "hello", Sender: domain.SenderUser}
	router.Publish(context.Background(), MessageCreated(owner, msg))

	assert.ElementsMatch(t, []string{UserTopic(owner), OperatorTopic}, pub.topics())

	frames := pub.frames[OperatorTopic]
	require.Len(t, frames, 1)

	var decoded struct {
		Kind    Kind           `json:"kind"`
		Payload domain.Message `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &decoded))
	assert.Equal(t, KindMessage, decoded.Kind)
	assert.Equal(t, msg.ID, decoded.Payload.ID)
	assert.NotContains(t, string(frames[0]), "audience")
}

func TestRouter_PublishKeepsOrder(t *testing.T) {
	pub := newRecordingPublisher()
	router := New(pub)

	session := domain.Session{ID: uuid.New(), UserID: uuid.New(), Status: domain.SessionClosed}
	router.Publish(context.Background(),
		MessageCreated(session.UserID, domain.Message{SessionID: session.ID, Sender: domain.SenderSystem}),
		SessionClosed(session),
		SessionUpdated(session),
	)

	frames := pub.frames[UserTopic(session.UserID)]
	require.Len(t, frames, 3)
	for i, want := range []Kind{KindMessage, KindSessionClosed, KindSessionUpdated} {
		var decoded struct {
			Kind Kind `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(frames[i], &decoded))
		assert.Equal(t, want, decoded.Kind)
	}
}

func TestRouter_Relay(t *testing.T) {
	pub := newRecordingPublisher()
	relay := &fakeRelay{incoming: make(chan relayed, 1)}
	router := New(pub, WithRelay(relay))

	recipient := uuid.New()
	router.Publish(context.Background(), NotificationCreated(domain.Notification{UserID: recipient}))

	relay.mu.Lock()
	assert.Equal(t, [][]string{{UserTopic(recipient)}}, relay.sent)
	relay.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- router.Run(context.Background()) }()

	remote := UserTopic(uuid.New())
	relay.incoming <- relayed{topics: []string{remote}, frame: []byte(`{"kind":"notification"}`)}

	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.frames[remote]) == 1
	}, time.Second, 10*time.Millisecond)

	router.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRouter_CloseStopsPublishing(t *testing.T) {
	pub := newRecordingPublisher()
	router := New(pub)

	router.Close()
	router.Close()
	router.Publish(context.Background(), NotificationCreated(domain.Notification{UserID: uuid.New()}))

	assert.Empty(t, pub.topics())
}

func TestRouter_RunWithoutRelay(t *testing.T) {
	router := New(newRecordingPublisher())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, router.Run(ctx), context.Canceled)
}
