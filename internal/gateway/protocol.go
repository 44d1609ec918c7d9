package gateway

import (
	"github.com/google/uuid"
)

// Inbound request types
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeOpenSession = "open_session"
	TypeReply       = "reply"
	TypeAssign      = "assign"
	TypeTransfer    = "transfer"
	TypeClose       = "close"
)

// Frame kinds sent only to the requesting connection. Broadcast events use
// the broadcast kinds.
const (
	KindConnected = "connected"
	KindAck       = "ack"
	KindError     = "error"
)

// Request is a client frame
type Request struct {
	Type         string    `json:"type"`
	RequestID    string    `json:"request_id,omitempty"`
	Topic        string    `json:"topic,omitempty"`
	SessionID    uuid.UUID `json:"session_id"`
	TargetUserID uuid.UUID `json:"target_user_id"`
	Content      string    `json:"content,omitempty"`
}

// Response answers a single request
type Response struct {
	Kind      string     `json:"kind"`
	RequestID string     `json:"request_id,omitempty"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the error code of a rejected request
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Welcome is the data of the connected frame
type Welcome struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	UserID       uuid.UUID `json:"user_id"`
	Role         string    `json:"role"`
	Topics       []string  `json:"topics"`
}
