package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/livedesk/internal/metrics"
)

// ErrClosed is returned by Run after Close
var ErrClosed = errors.New("broadcast router closed")

// Publisher delivers an encoded frame to the local subscribers of a topic and
// returns how many connections it was queued for. It must not block.
type Publisher interface {
	Publish(topic string, frame []byte) int
}

// Relay forwards frames between gateway instances
type Relay interface {
	// Send hands a frame to every other instance
	Send(ctx context.Context, topics []string, frame []byte) error
	// Listen calls deliver for frames sent by other instances until ctx is done
	Listen(ctx context.Context, deliver func(topics []string, frame []byte)) error
}

// Option configures a Router
type Option func(*Router)

// WithRelay enables cross-instance fan-out
func WithRelay(relay Relay) Option {
	return func(r *Router) {
		r.relay = relay
	}
}

// Router maps events to topics and publishes them
type Router struct {
	local Publisher
	relay Relay

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New creates a router publishing to local
func New(local Publisher, opts ...Option) *Router {
	r := &Router{
		local: local,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish encodes and routes events in order. Delivery is best effort: an
// event nobody is subscribed to is simply dropped, and relay failures are
// logged rather than returned.
func (r *Router) Publish(ctx context.Context, evts ...Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	for _, evt := range evts {
		topics := Topics(evt)
		if len(topics) == 0 {
			log.Warn().Str("kind", string(evt.Kind)).Msg("Dropping event without route")
			continue
		}

		frame, err := json.Marshal(evt)
		if err != nil {
			log.Error().Err(err).Str("kind", string(evt.Kind)).Msg("Failed to encode event")
			continue
		}

		delivered := r.deliver(topics, frame)
		metrics.EventsPublished.WithLabelValues(string(evt.Kind)).Inc()
		log.Debug().
			Str("kind", string(evt.Kind)).
			Strs("topics", topics).
			Int("delivered", delivered).
			Msg("Event published")

		if r.relay != nil {
			if err := r.relay.Send(ctx, topics, frame); err != nil {
				log.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("Failed to relay event")
			}
		}
	}
}

func (r *Router) deliver(topics []string, frame []byte) int {
	delivered := 0
	for _, topic := range topics {
		delivered += r.local.Publish(topic, frame)
	}
	return delivered
}

// Run delivers frames received from the relay until ctx is done or the router
// is closed. Without a relay it only waits.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if r.relay == nil {
		<-ctx.Done()
	} else if err := r.relay.Listen(ctx, func(topics []string, frame []byte) {
		r.deliver(topics, frame)
	}); err != nil && ctx.Err() == nil {
		return err
	}

	select {
	case <-r.done:
		return ErrClosed
	default:
		return ctx.Err()
	}
}

// Close stops publishing and ends Run. It is safe to call more than once.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}
