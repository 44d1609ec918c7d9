// Package metrics holds the Prometheus collectors of the gateway and the
// session state machine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections is the number of live gateway connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "livedesk",
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Live gateway connections.",
	})

	// Subscriptions counts topic joins and leaves.
	// Labels: action (subscribe|unsubscribe)
	Subscriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livedesk",
		Subsystem: "gateway",
		Name:      "subscriptions_total",
		Help:      "Topic subscription changes.",
	}, []string{"action"})

	// DeliveriesDropped counts frames not queued because a subscriber was too slow.
	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livedesk",
		Subsystem: "gateway",
		Name:      "deliveries_dropped_total",
		Help:      "Frames dropped for slow or closed subscribers.",
	})

	// EventsPublished counts routed domain events.
	// Labels: kind (message|session_updated|session_closed|notification)
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livedesk",
		Name:      "events_published_total",
		Help:      "Domain events handed to the room registry.",
	}, []string{"kind"})

	// SessionOps counts state machine operations.
	// Labels: op, result (ok|<error code>)
	SessionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livedesk",
		Name:      "session_ops_total",
		Help:      "Support session operations by outcome.",
	}, []string{"op", "result"})
)
