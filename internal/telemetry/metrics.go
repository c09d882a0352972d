package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BroadcastsPublished counts envelopes published to session channels,
	// labeled by event name.
	BroadcastsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Subsystem: "broadcast",
		Name:      "published_total",
		Help:      "Envelopes published to session pubsub channels.",
	}, []string{"event"})

	// BroadcastFailures counts publish attempts that errored; delivery is
	// best-effort, so this is the only place failures are visible.
	BroadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Subsystem: "broadcast",
		Name:      "failures_total",
		Help:      "Failed envelope publishes.",
	}, []string{"event"})

	// WSConnections tracks currently open websocket connections on this
	// instance.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Open websocket connections.",
	})
)
