package venue

import (
	"time"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// Domain events published on the in-process bus. Observers (the snapshot
// store, logging, dashboards) subscribe to these instead of holding a
// reference into the facade's state.

// CompositeUpdated fires when an asset's composite changes.
type CompositeUpdated struct {
	Asset string
	Quote model.CompositeQuote
}

// CompositeRemoved fires when the last indication for an asset is withdrawn.
type CompositeRemoved struct {
	Asset string
}

// RfqStarted fires when an RFQ enters Soliciting.
type RfqStarted struct {
	ID        uint64
	Taker     string
	Asset     string
	Size      float64
	Providers []string
}

// RfqQuotesClosed fires when an RFQ's quote collection closes.
type RfqQuotesClosed struct {
	ID     uint64
	Quotes int
}

// RfqSettled fires when an RFQ reaches a terminal state.
type RfqSettled struct {
	ID       uint64
	Outcome  string // traded | declined | timed_out | no_quotes
	Winner   string
	Price    float64
	Duration time.Duration
}
