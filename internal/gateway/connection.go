package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rrens/livedesk/internal/domain"
)

// Connection is one authenticated client. Frames queued for it are written by
// a single writer that drains Outbound until Done is closed.
type Connection struct {
	ID          uuid.UUID
	Principal   domain.Principal
	ConnectedAt time.Time

	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	topics map[string]struct{}
	reason string
}

func newConnection(p domain.Principal, buffer int) *Connection {
	return &Connection{
		ID:          uuid.New(),
		Principal:   p,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
		topics:      make(map[string]struct{}),
	}
}

// Outbound yields frames to write to the client
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection has been disconnected
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether the connection has been disconnected
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Reason returns why the connection was disconnected
func (c *Connection) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Topics returns the current subscriptions
func (c *Connection) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	return topics
}

// Subscribed reports whether the connection is in topic
func (c *Connection) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

// enqueue queues a frame without blocking. It reports false when the buffer
// is full or the connection is gone.
func (c *Connection) enqueue(frame []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
