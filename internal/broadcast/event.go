// Package broadcast routes domain events to topics and hands them to the room
// registry, and to peer instances when a relay is configured.
package broadcast

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/domain"
)

// Kind tags an outbound event
type Kind string

const (
	KindMessage        Kind = "message"
	KindSessionUpdated Kind = "session_updated"
	KindSessionClosed  Kind = "session_closed"
	KindNotification   Kind = "notification"
)

// OperatorTopic is joined by every connected operator
const OperatorTopic = "admin_chat"

const (
	userTopicPrefix    = "user_"
	projectTopicPrefix = "project_"
)

// UserTopic is the personal topic of a user
func UserTopic(id uuid.UUID) string {
	return userTopicPrefix + id.String()
}

// ProjectTopic is the topic of a project room
func ProjectTopic(id uuid.UUID) string {
	return projectTopicPrefix + id.String()
}

// Topic scopes returned by ParseTopic
const (
	ScopeOperator = "operator"
	ScopeUser     = "user"
	ScopeProject  = "project"
)

// ParseTopic splits a topic into its scope and id. ok is false for anything
// other than OperatorTopic, a user topic or a project topic.
func ParseTopic(topic string) (scope string, id uuid.UUID, ok bool) {
	if topic == OperatorTopic {
		return ScopeOperator, uuid.Nil, true
	}
	if rest, found := strings.CutPrefix(topic, userTopicPrefix); found {
		scope = ScopeUser
		topic = rest
	} else if rest, found := strings.CutPrefix(topic, projectTopicPrefix); found {
		scope = ScopeProject
		topic = rest
	} else {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(topic)
	if err != nil {
		return "", uuid.Nil, false
	}
	return scope, id, true
}

// Event is a domain event ready for routing. Audience is the user whose
// personal topic receives it and is never serialized.
type Event struct {
	Kind     Kind      `json:"kind"`
	Payload  any       `json:"payload"`
	Audience uuid.UUID `json:"-"`
}

// MessageCreated announces a message appended to a session owned by owner
func MessageCreated(owner uuid.UUID, m domain.Message) Event {
	return Event{Kind: KindMessage, Payload: m, Audience: owner}
}

// SessionUpdated carries the full session
func SessionUpdated(s domain.Session) Event {
	return Event{Kind: KindSessionUpdated, Payload: s, Audience: s.UserID}
}

// SessionClosed carries only the session id
func SessionClosed(s domain.Session) Event {
	return Event{Kind: KindSessionClosed, Payload: s.ID, Audience: s.UserID}
}

// NotificationCreated is delivered to the recipient only
func NotificationCreated(n domain.Notification) Event {
	return Event{Kind: KindNotification, Payload: n, Audience: n.UserID}
}

// Topics returns the topics an event is published to. It has no side effects.
func Topics(evt Event) []string {
	switch evt.Kind {
	case KindMessage:
		return []string{UserTopic(evt.Audience), OperatorTopic}
	case KindSessionUpdated, KindSessionClosed:
		return []string{OperatorTopic, UserTopic(evt.Audience)}
	case KindNotification:
		return []string{UserTopic(evt.Audience)}
	default:
		return nil
	}
}
