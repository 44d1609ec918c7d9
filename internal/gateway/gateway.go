// Package gateway accepts authenticated client connections, tracks their topic
// subscriptions and writes broadcast frames to them over WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/metrics"
)

// Disconnect reasons
const (
	ReasonClientClosed     = "client_closed"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonReadError        = "read_error"
	ReasonWriteError       = "write_error"
	ReasonSlowConsumer     = "slow_consumer"
	ReasonUpgradeFailed    = "upgrade_failed"
	ReasonShutdown         = "shutdown"
)

// Gateway owns the live connections and their subscriptions
type Gateway struct {
	verifier   domain.IdentityVerifier
	registry   *Registry
	sendBuffer int
	conns      sync.Map // uuid.UUID -> *Connection
}

// New creates a gateway. sendBuffer bounds the frames queued per connection
// before it is treated as a slow consumer.
func New(verifier domain.IdentityVerifier, sendBuffer int) *Gateway {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	g := &Gateway{
		verifier:   verifier,
		sendBuffer: sendBuffer,
	}
	g.registry = NewRegistry(func(c *Connection) {
		g.Disconnect(c, ReasonSlowConsumer)
	})
	return g
}

// Registry returns the room registry, the local publisher of the broadcast router
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Connect verifies credential and registers a connection subscribed to the
// principal's personal topic, plus the operator topic for operators
func (g *Gateway) Connect(ctx context.Context, credential string) (*Connection, error) {
	if credential == "" {
		return nil, fmt.Errorf("missing credential: %w", domain.ErrUnauthenticated)
	}

	p, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	// Registered before joining so a concurrent Shutdown always finds it
	c := newConnection(*p, g.sendBuffer)
	g.conns.Store(c.ID, c)
	metrics.Connections.Inc()

	topics := []string{broadcast.UserTopic(p.ID)}
	if p.Role.IsOperator() {
		topics = append(topics, broadcast.OperatorTopic)
	}
	for _, topic := range topics {
		if err := g.join(c, topic); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("connection_id", c.ID.String()).
		Str("user_id", p.ID.String()).
		Str("role", string(p.Role)).
		Msg("Client connected")
	return c, nil
}

// Subscribe joins topic after checking the principal may read it. Joining a
// topic twice is a no-op.
func (g *Gateway) Subscribe(c *Connection, topic string) error {
	if err := authorize(c.Principal, topic); err != nil {
		return err
	}
	return g.join(c, topic)
}

// Unsubscribe leaves topic. Leaving a topic not joined is a no-op.
func (g *Gateway) Unsubscribe(c *Connection, topic string) error {
	if _, _, ok := broadcast.ParseTopic(topic); !ok {
		return fmt.Errorf("unknown topic %q: %w", topic, domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[topic]; !ok {
		return nil
	}
	delete(c.topics, topic)
	g.registry.Remove(topic, c)
	metrics.Subscriptions.WithLabelValues("unsubscribe").Inc()
	return nil
}

func (g *Gateway) join(c *Connection, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Closed() {
		return fmt.Errorf("connection %s is closed: %w", c.ID, domain.ErrInvalidState)
	}
	if _, ok := c.topics[topic]; ok {
		return nil
	}
	c.topics[topic] = struct{}{}
	g.registry.Add(topic, c)
	metrics.Subscriptions.WithLabelValues("subscribe").Inc()
	return nil
}

// Disconnect removes every subscription of c and closes it. Only the first
// call has an effect.
func (g *Gateway) Disconnect(c *Connection, reason string) {
	c.mu.Lock()
	if c.Closed() {
		c.mu.Unlock()
		return
	}
	c.reason = reason
	topics := c.topics
	c.topics = make(map[string]struct{})
	close(c.done)
	c.mu.Unlock()

	for topic := range topics {
		g.registry.Remove(topic, c)
	}

	g.conns.Delete(c.ID)
	metrics.Connections.Dec()

	log.Info().
		Str("connection_id", c.ID.String()).
		Str("user_id", c.Principal.ID.String()).
		Str("reason", reason).
		Dur("duration", time.Since(c.ConnectedAt)).
		Msg("Client disconnected")
}

// Send queues a frame for c alone. A full buffer disconnects c.
func (g *Gateway) Send(c *Connection, frame []byte) bool {
	if c.enqueue(frame) {
		return true
	}
	if !c.Closed() {
		metrics.DeliveriesDropped.Inc()
		g.Disconnect(c, ReasonSlowConsumer)
	}
	return false
}

// Connection returns a live connection by id
func (g *Gateway) Connection(id uuid.UUID) (*Connection, bool) {
	v, ok := g.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Connections returns the number of live connections
func (g *Gateway) Connections() int {
	n := 0
	g.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown disconnects every live connection
func (g *Gateway) Shutdown() {
	g.conns.Range(func(_, v any) bool {
		g.Disconnect(v.(*Connection), ReasonShutdown)
		return true
	})
}

// authorize decides who may join a topic: a user topic only by its user, the
// operator topic only by operators, project topics by anyone
func authorize(p domain.Principal, topic string) error {
	scope, id, ok := broadcast.ParseTopic(topic)
	if !ok {
		return fmt.Errorf("unknown topic %q: %w", topic, domain.ErrInvalidInput)
	}

	switch scope {
	case broadcast.ScopeOperator:
		if !p.Role.IsOperator() {
			return fmt.Errorf("topic %s is for operators: %w", topic, domain.ErrUnauthorized)
		}
	case broadcast.ScopeUser:
		if id != p.ID {
			return fmt.Errorf("topic %s belongs to another user: %w", topic, domain.ErrUnauthorized)
		}
	}
	return nil
}
