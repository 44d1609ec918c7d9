package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/config"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/repository/sqlite"
	"github.com/Rrens/livedesk/internal/service"
)

type frame struct {
	Kind      string          `json:"kind"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Payload   json.RawMessage `json:"payload"`
	Error     *ErrorBody      `json:"error"`
}

type testEnv struct {
	server  *httptest.Server
	gateway *Gateway
	users   map[string]domain.Principal
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		SendBuffer:     64,
		MaxMessageSize: 64 * 1024,
		PingInterval:   50 * time.Millisecond,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		ActionTimeout:  5 * time.Second,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(db))
	store := sqlite.NewStore(db)
	t.Cleanup(func() { store.Close() })

	users := map[string]domain.Principal{
		"alice": {ID: uuid.New(), DisplayName: "Alice", Role: domain.RoleUser},
		"bob":   {ID: uuid.New(), DisplayName: "Bob", Role: domain.RoleUser},
		"olga":  {ID: uuid.New(), DisplayName: "Olga", Role: domain.RoleModerator},
		"ada":   {ID: uuid.New(), DisplayName: "Ada", Role: domain.RoleAdmin},
	}
	verifier := stubVerifier{}
	for token, p := range users {
		_, err := db.Exec(`INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)`,
			p.ID.String(), p.DisplayName, token+"@example.com", string(p.Role))
		require.NoError(t, err)
		verifier[token] = p
	}

	cfg := testGatewayConfig()
	gw := New(verifier, cfg.SendBuffer)
	router := broadcast.New(gw.Registry())
	chat := service.NewChatService(store)

	srv := httptest.NewServer(NewServer(gw, chat, router, cfg, []string{"*"}))
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
	})

	return &testEnv{server: srv, gateway: gw, users: users}
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "?token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })

	welcome := readFrame(t, ws)
	require.Equal(t, KindConnected, welcome.Kind)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// readUntil skips frames until match accepts one
func readUntil(t *testing.T, ws *websocket.Conn, match func(frame) bool) frame {
	t.Helper()

	for i := 0; i < 20; i++ {
		f := readFrame(t, ws)
		if match(f) {
			return f
		}
	}
	t.Fatal("expected frame not received")
	return frame{}
}

func readKind(t *testing.T, ws *websocket.Conn, kind string) frame {
	t.Helper()
	return readUntil(t, ws, func(f frame) bool { return f.Kind == kind })
}

func readMessage(t *testing.T, ws *websocket.Conn, contains string) domain.Message {
	t.Helper()

	var m domain.Message
	readUntil(t, ws, func(f frame) bool {
		if f.Kind != string(broadcast.KindMessage) {
			return false
		}
		require.NoError(t, json.Unmarshal(f.Payload, &m))
		return strings.Contains(m.Content, contains)
	})
	return m
}

// assertSilent checks that nothing arrives within a short window. A timed out
// websocket cannot be read again, so this must be the last read on ws.
func assertSilent(t *testing.T, ws *websocket.Conn) {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var f frame
	err := ws.ReadJSON(&f)
	assert.Error(t, err, "unexpected frame %+v", f)
}

func request(t *testing.T, ws *websocket.Conn, req Request) frame {
	t.Helper()

	require.NoError(t, ws.WriteJSON(req))
	for i := 0; i < 20; i++ {
		f := readFrame(t, ws)
		if (f.Kind == KindAck || f.Kind == KindError) && f.RequestID == req.RequestID {
			return f
		}
	}
	t.Fatalf("no answer to %s", req.RequestID)
	return frame{}
}

func TestServer_RejectsBadCredential(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "?token=forged"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.gateway.Connections())
}

func TestServer_BearerHeader(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http")

	ws, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer alice"}})
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()

	welcome := readFrame(t, ws)
	assert.Equal(t, KindConnected, welcome.Kind)

	var w Welcome
	require.NoError(t, json.Unmarshal(welcome.Data, &w))
	assert.Equal(t, env.users["alice"].ID, w.UserID)
	assert.Equal(t, []string{broadcast.UserTopic(env.users["alice"].ID)}, w.Topics)
}

func TestServer_SupportConversation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	olga := env.dial(t, "olga")
	ada := env.dial(t, "ada")

	// Scenario A
	ack := request(t, alice, Request{Type: TypeOpenSession, RequestID: "open-1"})
	require.Equal(t, KindAck, ack.Kind)
	var opened service.ChatResult
	require.NoError(t, json.Unmarshal(ack.Data, &opened))
	assert.True(t, opened.Created)
	assert.Nil(t, opened.Session.AssignedTo)
	sessionID := opened.Session.ID

	readKind(t, olga, string(broadcast.KindSessionUpdated))
	readKind(t, ada, string(broadcast.KindSessionUpdated))
	readKind(t, alice, string(broadcast.KindSessionUpdated))

	again := request(t, alice, Request{Type: TypeOpenSession, RequestID: "open-2"})
	var reopened service.ChatResult
	require.NoError(t, json.Unmarshal(again.Data, &reopened))
	assert.Equal(t, sessionID, reopened.Session.ID)

	// Role gating answers only the caller
	denied := request(t, bob, Request{Type: TypeClose, RequestID: "c0", SessionID: sessionID})
	require.Equal(t, KindError, denied.Kind)
	assert.Equal(t, domain.CodeUnauthorized, denied.Error.Code)

	// A user reply reaches the owner and the operators
	ack = request(t, alice, Request{Type: TypeReply, RequestID: "r1", SessionID: sessionID, Content: "help"})
	require.Equal(t, KindAck, ack.Kind)
	for _, ws := range []*websocket.Conn{alice, olga, ada} {
		m := readMessage(t, ws, "help")
		assert.Equal(t, domain.SenderUser, m.Sender)
	}

	// Scenario B
	ack = request(t, olga, Request{Type: TypeAssign, RequestID: "a1", SessionID: sessionID})
	require.Equal(t, KindAck, ack.Kind)
	readUntil(t, ada, func(f frame) bool {
		if f.Kind != string(broadcast.KindSessionUpdated) {
			return false
		}
		var s domain.Session
		require.NoError(t, json.Unmarshal(f.Payload, &s))
		return s.IsAssignedTo(env.users["olga"].ID)
	})
	assert.Equal(t, domain.SenderSystem, readMessage(t, alice, "Olga").Sender)

	// Scenario C
	ack = request(t, olga, Request{Type: TypeTransfer, RequestID: "t1", SessionID: sessionID, TargetUserID: env.users["ada"].ID})
	require.Equal(t, KindAck, ack.Kind)
	for _, ws := range []*websocket.Conn{alice, ada} {
		m := readMessage(t, ws, "transferred")
		assert.Contains(t, m.Content, "Ada")
		assert.Contains(t, m.Content, "Olga")
	}

	// Scenario D
	ack = request(t, ada, Request{Type: TypeClose, RequestID: "c1", SessionID: sessionID})
	require.Equal(t, KindAck, ack.Kind)
	readKind(t, alice, string(broadcast.KindSessionClosed))

	late := request(t, alice, Request{Type: TypeReply, RequestID: "r2", SessionID: sessionID, Content: "thanks"})
	require.Equal(t, KindError, late.Kind)
	assert.Equal(t, domain.CodeInvalidState, late.Error.Code)

	// Closing again is a quiet no-op
	ack = request(t, olga, Request{Type: TypeClose, RequestID: "c2", SessionID: sessionID})
	require.Equal(t, KindAck, ack.Kind)

	// Bob's personal topic saw none of it
	assertSilent(t, bob)
}

func TestServer_Subscriptions(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")

	project := broadcast.ProjectTopic(uuid.New())
	ack := request(t, alice, Request{Type: TypeSubscribe, RequestID: "s1", Topic: project})
	require.Equal(t, KindAck, ack.Kind)

	denied := request(t, alice, Request{Type: TypeSubscribe, RequestID: "s2", Topic: broadcast.OperatorTopic})
	require.Equal(t, KindError, denied.Kind)
	assert.Equal(t, domain.CodeUnauthorized, denied.Error.Code)

	denied = request(t, alice, Request{Type: TypeSubscribe, RequestID: "s3", Topic: broadcast.UserTopic(env.users["bob"].ID)})
	assert.Equal(t, domain.CodeUnauthorized, denied.Error.Code)

	assert.Equal(t, 1, env.gateway.Registry().Publish(project, []byte(`{"kind":"project_event"}`)))
	assert.Equal(t, "project_event", readFrame(t, alice).Kind)
	assertSilent(t, bob)

	ack = request(t, alice, Request{Type: TypeUnsubscribe, RequestID: "u1", Topic: project})
	require.Equal(t, KindAck, ack.Kind)
	assert.Zero(t, env.gateway.Registry().Publish(project, []byte(`{"kind":"project_event"}`)))
}

func TestServer_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readKind(t, alice, KindError)
	assert.Equal(t, domain.CodeInvalidInput, f.Error.Code)

	f = request(t, alice, Request{Type: "dance", RequestID: "x"})
	assert.Equal(t, domain.CodeInvalidInput, f.Error.Code)

	f = request(t, alice, Request{Type: TypeReply, RequestID: "y", Content: "no session"})
	assert.Equal(t, domain.CodeInvalidInput, f.Error.Code)

	f = request(t, alice, Request{Type: TypeReply, RequestID: "z", SessionID: uuid.New(), Content: "hi"})
	assert.Equal(t, domain.CodeNotFound, f.Error.Code)
}

func TestServer_DisconnectCleansUp(t *testing.T) {
	env := newTestEnv(t)
	olga := env.dial(t, "olga")
	require.Equal(t, 1, env.gateway.Connections())

	require.NoError(t, olga.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	olga.Close()

	assert.Eventually(t, func() bool {
		return env.gateway.Connections() == 0 &&
			env.gateway.Registry().Subscribers(broadcast.OperatorTopic) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_HeartbeatTimeout(t *testing.T) {
	env := newTestEnv(t)
	ada := env.dial(t, "ada")

	// A client that never reads cannot answer pings
	ada.SetPingHandler(func(string) error { return nil })

	assert.Eventually(t, func() bool {
		return env.gateway.Connections() == 0
	}, 5*time.Second, 20*time.Millisecond)
}
