package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts inbound clearing messages by kind and result.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearing_messages_total",
		Help: "Inbound clearing protocol messages by kind and result.",
	}, []string{"kind", "result"})

	// TradesRecorded counts trade reports accepted into the ledger.
	TradesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clearing_trades_recorded_total",
		Help: "Trade reports accepted into the ledger.",
	})

	// ActiveSessions tracks logged-in agents.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clearing_active_sessions",
		Help: "Agents holding a valid session token.",
	})

	// DirectoryEntries tracks registered directory entries.
	DirectoryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clearing_directory_entries",
		Help: "Entries currently registered in the directory.",
	})
)

// MarkMessage records one handled message.
func MarkMessage(kind, result string) {
	MessagesTotal.WithLabelValues(kind, result).Inc()
}
