package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/livedesk/internal/api/response"
	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/config"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/security"
	"github.com/Rrens/livedesk/internal/service"
)

// ChatActions is the session state machine as seen by a connection
type ChatActions interface {
	OpenSession(ctx context.Context, p domain.Principal) (*service.ChatResult, error)
	Reply(ctx context.Context, p domain.Principal, sessionID uuid.UUID, content string) (*service.ChatResult, error)
	Assign(ctx context.Context, p domain.Principal, sessionID uuid.UUID) (*service.ChatResult, error)
	Transfer(ctx context.Context, p domain.Principal, sessionID, targetID uuid.UUID) (*service.ChatResult, error)
	Close(ctx context.Context, p domain.Principal, sessionID uuid.UUID) (*service.ChatResult, error)
}

// EventPublisher hands committed events to the broadcast router
type EventPublisher interface {
	Publish(ctx context.Context, evts ...broadcast.Event)
}

// Server upgrades HTTP requests to WebSocket connections and runs their pumps
type Server struct {
	gateway  *Gateway
	chat     ChatActions
	events   EventPublisher
	cfg      config.GatewayConfig
	upgrader websocket.Upgrader
}

// NewServer creates a WebSocket server
func NewServer(gw *Gateway, chat ChatActions, events EventPublisher, cfg config.GatewayConfig, allowedOrigins []string) *Server {
	return &Server{
		gateway: gw,
		chat:    chat,
		events:  events,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// ServeHTTP authenticates the request once and starts the connection pumps.
// The credential comes from the token query parameter or a bearer header,
// browsers cannot set headers on WebSocket requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := r.URL.Query().Get("token")
	if credential == "" {
		credential, _ = security.BearerToken(r.Header.Get("Authorization"))
	}

	conn, err := s.gateway.Connect(r.Context(), credential)
	if err != nil {
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket authentication failed")
		response.Unauthorized(w, "invalid or missing credential")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		log.Warn().Err(err).Msg("Failed to upgrade WebSocket")
		s.gateway.Disconnect(conn, ReasonUpgradeFailed)
		return
	}

	s.send(conn, Response{
		Kind: KindConnected,
		Data: Welcome{
			ConnectionID: conn.ID,
			UserID:       conn.Principal.ID,
			Role:         string(conn.Principal.Role),
			Topics:       conn.Topics(),
		},
	})

	go s.writePump(ws, conn)
	go s.readPump(ws, conn)
}

// readPump reads client frames until the connection fails. Its deferred
// cleanup is the one place every connection gets disconnected.
func (s *Server) readPump(ws *websocket.Conn, conn *Connection) {
	reason := ReasonClientClosed
	defer func() {
		s.gateway.Disconnect(conn, reason)
		ws.Close()
	}()

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			reason = readFailure(err)
			if reason == ReasonReadError {
				log.Debug().Err(err).Str("connection_id", conn.ID.String()).Msg("WebSocket read failed")
			}
			return
		}
		s.handle(conn, data)
	}
}

func readFailure(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonClientClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonHeartbeatTimeout
	}
	return ReasonReadError
}

// writePump is the only writer of ws
func (s *Server) writePump(ws *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-conn.Outbound():
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.gateway.Disconnect(conn, ReasonWriteError)
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.gateway.Disconnect(conn, ReasonWriteError)
				return
			}

		case <-conn.Done():
			code := websocket.CloseNormalClosure
			switch conn.Reason() {
			case ReasonShutdown:
				code = websocket.CloseGoingAway
			case ReasonSlowConsumer:
				code = websocket.ClosePolicyViolation
			}
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, conn.Reason()),
				time.Now().Add(s.cfg.WriteWait))
			return
		}
	}
}

// handle runs one request to completion and answers the caller. Events are
// published after the answer has been queued.
func (s *Server) handle(conn *Connection, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail(conn, "", fmt.Errorf("malformed frame: %w", domain.ErrInvalidInput))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ActionTimeout)
	defer cancel()

	result, evts, err := s.dispatch(ctx, conn, req)
	if err != nil {
		s.fail(conn, req.RequestID, err)
		return
	}

	s.send(conn, Response{Kind: KindAck, RequestID: req.RequestID, Data: result})
	if len(evts) > 0 {
		s.events.Publish(ctx, evts...)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *Connection, req Request) (any, []broadcast.Event, error) {
	p := conn.Principal

	switch req.Type {
	case TypeSubscribe:
		if err := s.gateway.Subscribe(conn, req.Topic); err != nil {
			return nil, nil, err
		}
		return map[string]string{"topic": req.Topic}, nil, nil

	case TypeUnsubscribe:
		if err := s.gateway.Unsubscribe(conn, req.Topic); err != nil {
			return nil, nil, err
		}
		return map[string]string{"topic": req.Topic}, nil, nil

	case TypeOpenSession:
		return chatResult(s.chat.OpenSession(ctx, p))

	case TypeReply:
		if err := requireSession(req); err != nil {
			return nil, nil, err
		}
		return chatResult(s.chat.Reply(ctx, p, req.SessionID, req.Content))

	case TypeAssign:
		if err := requireSession(req); err != nil {
			return nil, nil, err
		}
		return chatResult(s.chat.Assign(ctx, p, req.SessionID))

	case TypeTransfer:
		if err := requireSession(req); err != nil {
			return nil, nil, err
		}
		if req.TargetUserID == uuid.Nil {
			return nil, nil, fmt.Errorf("target_user_id is required: %w", domain.ErrInvalidInput)
		}
		return chatResult(s.chat.Transfer(ctx, p, req.SessionID, req.TargetUserID))

	case TypeClose:
		if err := requireSession(req); err != nil {
			return nil, nil, err
		}
		return chatResult(s.chat.Close(ctx, p, req.SessionID))

	default:
		return nil, nil, fmt.Errorf("unknown request type %q: %w", req.Type, domain.ErrInvalidInput)
	}
}

func chatResult(res *service.ChatResult, err error) (any, []broadcast.Event, error) {
	if err != nil {
		return nil, nil, err
	}
	return res, res.Events, nil
}

func requireSession(req Request) error {
	if req.SessionID == uuid.Nil {
		return fmt.Errorf("session_id is required: %w", domain.ErrInvalidInput)
	}
	return nil
}

func (s *Server) fail(conn *Connection, requestID string, err error) {
	code := domain.Code(err)
	event := log.Debug()
	if code == domain.CodeTransient {
		event = log.Warn()
	}
	event.Err(err).
		Str("connection_id", conn.ID.String()).
		Str("request_id", requestID).
		Str("code", code).
		Msg("Request rejected")

	s.send(conn, Response{
		Kind:      KindError,
		RequestID: requestID,
		Error:     &ErrorBody{Code: code, Message: domain.ErrorMessage(err)},
	})
}

func (s *Server) send(conn *Connection, resp Response) {
	frame, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		return
	}
	s.gateway.Send(conn, frame)
}
