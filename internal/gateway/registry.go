package gateway

import (
	"sync"

	"github.com/Rrens/livedesk/internal/metrics"
)

// room is the subscriber set of one topic. A retired room has been removed
// from the registry and must not gain members.
type room struct {
	mu      sync.RWMutex
	members map[*Connection]struct{}
	retired bool
}

// Registry indexes live connections by topic. Each topic is guarded by its own
// lock so fan-out on one topic never waits on another.
type Registry struct {
	rooms  sync.Map // topic -> *room
	onSlow func(*Connection)
}

// NewRegistry creates an empty registry. onSlow is called, outside any lock,
// for a subscriber whose buffer was full during Publish.
func NewRegistry(onSlow func(*Connection)) *Registry {
	return &Registry{onSlow: onSlow}
}

// Add subscribes c to topic and reports whether it was not subscribed before
func (r *Registry) Add(topic string, c *Connection) bool {
	for {
		v, _ := r.rooms.LoadOrStore(topic, &room{members: make(map[*Connection]struct{})})
		rm := v.(*room)

		rm.mu.Lock()
		if rm.retired {
			// Lost a race with the last Remove; retry on a fresh room
			rm.mu.Unlock()
			continue
		}
		_, exists := rm.members[c]
		rm.members[c] = struct{}{}
		rm.mu.Unlock()
		return !exists
	}
}

// Remove unsubscribes c from topic and reports whether it was subscribed
func (r *Registry) Remove(topic string, c *Connection) bool {
	v, ok := r.rooms.Load(topic)
	if !ok {
		return false
	}
	rm := v.(*room)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, exists := rm.members[c]; !exists {
		return false
	}
	delete(rm.members, c)
	if len(rm.members) == 0 {
		rm.retired = true
		r.rooms.CompareAndDelete(topic, rm)
	}
	return true
}

// Publish queues frame for every subscriber of topic and returns how many
// accepted it. It never blocks on a subscriber.
func (r *Registry) Publish(topic string, frame []byte) int {
	v, ok := r.rooms.Load(topic)
	if !ok {
		return 0
	}
	rm := v.(*room)

	var slow []*Connection
	delivered := 0

	rm.mu.RLock()
	for c := range rm.members {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		metrics.DeliveriesDropped.Inc()
		if !c.Closed() {
			slow = append(slow, c)
		}
	}
	rm.mu.RUnlock()

	if r.onSlow != nil {
		for _, c := range slow {
			r.onSlow(c)
		}
	}
	return delivered
}

// Subscribers returns the number of connections in topic
func (r *Registry) Subscribers(topic string) int {
	v, ok := r.rooms.Load(topic)
	if !ok {
		return 0
	}
	rm := v.(*room)
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// Len returns the number of topics with at least one subscriber
func (r *Registry) Len() int {
	n := 0
	r.rooms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
