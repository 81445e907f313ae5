package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks inbound protocol messages by kind and result.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_messages_total",
			Help: "Total number of protocol messages processed by the venue.",
		},
		[]string{"kind", "result"}, // result = "ok" | "rejected" | "dropped"
	)

	// Tracks RFQ lifecycles by final outcome.
	RFQOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_rfq_outcomes_total",
			Help: "Count of RFQs reaching a terminal state, by outcome.",
		},
		[]string{"outcome"}, // traded | declined | timed_out | no_quotes
	)

	// Measures full RFQ lifetime from start to terminal state.
	RFQDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "venue_rfq_duration_seconds",
			Help:    "Time from RFQ_START to the terminal transition.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms -> ~200s
		},
	)

	// Gauges the number of in-flight RFQs.
	ActiveRFQs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "venue_active_rfqs",
			Help: "Number of RFQs currently soliciting or awaiting acceptance.",
		},
	)

	// Gauges the number of assets with a live composite.
	CompositeAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "venue_composite_assets",
			Help: "Number of assets with at least one live provider indication.",
		},
	)

	// Gauges registered participants.
	Participants = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "venue_participants",
			Help: "Registered participants by role.",
		},
		[]string{"role"}, // provider | taker
	)
)

// MarkMessage records one processed message.
func MarkMessage(kind, result string) {
	MessagesTotal.WithLabelValues(kind, result).Inc()
}
