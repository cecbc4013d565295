package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Low-cardinality counters for the sync core. Everything is registered on
// the default registry and served by Handler.
var (
	SendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convsync_sends_total",
		Help: "Outbound message send attempts.",
	})
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convsync_send_failures_total",
		Help: "Send attempts whose persistence write failed.",
	})
	Reconciles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convsync_reconciles_total",
		Help: "Optimistic entries reconciled against authoritative echoes.",
	})
	DuplicateDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convsync_duplicate_drops_total",
		Help: "Inbound events discarded as already applied.",
	})
	StaleDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convsync_stale_drops_total",
		Help: "Inbound events discarded as older than known state.",
	})
	DegradedTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convsync_degraded_transitions_total",
		Help: "Transitions from live to degraded mode.",
	})
	BrokerDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convsync_broker_drops_total",
		Help: "Envelopes dropped due to subscriber queue overrun.",
	})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convsync_sessions_active",
		Help: "Conversation sessions currently open.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }
