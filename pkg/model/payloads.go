package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ack is the generic boolean reply for registration-style requests.
type Ack struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// RegisterRequest registers a provider or taker under a name. The sender's
// inbox on the envelope becomes the participant's notification address.
type RegisterRequest struct {
	Name string `json:"name"`
}

// PeerNotice announces a provider joining or leaving the venue.
type PeerNotice struct {
	Provider string `json:"provider"`
}

// ProvidersReply answers GET_PROVIDERS with a snapshot of registered names.
type ProvidersReply struct {
	Providers []string `json:"providers"`
}

// Indication is a provider's two-sided indicative price for one asset.
// Both sides are mandatory; one-sided quotes are not accepted.
type Indication struct {
	Asset string  `json:"asset"`
	Bid   float64 `json:"bid"`
	Ask   float64 `json:"ask"`
}

// SubmitIndications carries a batch of indications from one provider.
type SubmitIndications struct {
	Indications []Indication `json:"indications"`
}

// CompositeQuote is the arithmetic mean across all providers currently
// quoting an asset.
type CompositeQuote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// CompositesReply answers GET_COMPOSITES.
type CompositesReply struct {
	ByAsset map[string]CompositeQuote `json:"by_asset"`
}

// RfqStartRequest opens an RFQ for a signed size against a fixed provider
// subset. Every named provider must already hold an indication for the asset.
type RfqStartRequest struct {
	Asset     string   `json:"asset"`
	Size      float64  `json:"size"`
	Side      string   `json:"side"`
	Providers []string `json:"providers"`
}

// RfqStartReply acknowledges RFQ creation, or rejects it.
type RfqStartReply struct {
	OK     bool   `json:"ok"`
	RfqID  uint64 `json:"rfq_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RfqQuoteRequest asks a solicited provider for a firm quote.
type RfqQuoteRequest struct {
	RfqID uint64  `json:"rfq_id"`
	Asset string  `json:"asset"`
	Size  float64 `json:"size"`
	Side  string  `json:"side"`
}

// FirmQuote is a provider's binding price for one RFQ.
type FirmQuote struct {
	RfqID uint64  `json:"rfq_id"`
	Price float64 `json:"price"`
}

// RankedQuote is one entry of the ranking shown to the taker,
// best-to-worst for the taker's side.
type RankedQuote struct {
	Provider string  `json:"provider"`
	Price    float64 `json:"price"`
}

// RfqQuotesNotice delivers the collected ranking once quotes close.
type RfqQuotesNotice struct {
	RfqID  uint64        `json:"rfq_id"`
	Asset  string        `json:"asset"`
	Size   float64       `json:"size"`
	Side   string        `json:"side"`
	Quotes []RankedQuote `json:"quotes"`
}

// RfqAcceptRequest accepts the named provider's quote. Only the currently
// best-ranked provider may be accepted.
type RfqAcceptRequest struct {
	RfqID    uint64 `json:"rfq_id"`
	Provider string `json:"provider"`
}

// RfqDeclineRequest declines to trade on an RFQ.
type RfqDeclineRequest struct {
	RfqID uint64 `json:"rfq_id"`
}

// TradeConfirm tells the taker the trade is done. Both counterparties are
// responsible for reporting it to clearing; the venue keeps no record.
type TradeConfirm struct {
	OK       bool    `json:"ok"`
	Reason   string  `json:"reason,omitempty"`
	RfqID    uint64  `json:"rfq_id,omitempty"`
	Provider string  `json:"provider,omitempty"`
	Taker    string  `json:"taker,omitempty"`
	Asset    string  `json:"asset,omitempty"`
	Size     float64 `json:"size,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Side     string  `json:"side,omitempty"`
}

// RfqOutcome notifies a provider (or, on timeout, the taker) of an RFQ's
// resolution. Trade fields are only set on RFQ_ACCEPTED.
type RfqOutcome struct {
	RfqID uint64  `json:"rfq_id"`
	Asset string  `json:"asset"`
	Size  float64 `json:"size,omitempty"`
	Price float64 `json:"price,omitempty"`
	Side  string  `json:"side,omitempty"`
	With  string  `json:"with,omitempty"`
}

// LoginRequest trades credentials for a session token.
type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// LoginReply carries the token on LOGIN_TOKEN; empty on LOGIN_INVALID.
type LoginReply struct {
	Token int64 `json:"token,omitempty"`
}

// TradeReport is a counterparty's report of a completed trade to clearing.
// Money amounts are decimal at the ledger boundary.
type TradeReport struct {
	Token    int64           `json:"token"`
	RfqID    uint64          `json:"rfq_id"`
	Venue    string          `json:"venue"`
	Reporter string          `json:"reporter"`
	Taker    string          `json:"taker"`
	Provider string          `json:"provider"`
	Asset    string          `json:"asset"`
	Side     string          `json:"side"`
	Size     decimal.Decimal `json:"size"`
	Price    decimal.Decimal `json:"price"`
	TradedAt time.Time       `json:"traded_at"`
}

// RiskRequest asks clearing for an agent's aggregated positions.
type RiskRequest struct {
	Token int64  `json:"token"`
	Agent string `json:"agent"`
}

// RiskPosition is one line of a risk reply.
type RiskPosition struct {
	Asset    string          `json:"asset"`
	Position decimal.Decimal `json:"position"`
	Notional decimal.Decimal `json:"notional"`
}

// RiskReply answers GET_RISK.
type RiskReply struct {
	Agent     string         `json:"agent"`
	Positions []RiskPosition `json:"positions"`
}

// DirectoryEntry is one registration in the directory service.
type DirectoryEntry struct {
	EntryType string   `json:"entry_type"`
	Name      string   `json:"name"`
	Subject   string   `json:"subject"`
	Details   string   `json:"details,omitempty"`
	VNets     []string `json:"vnets,omitempty"`
}

// FindEntriesRequest looks up directory entries by type.
type FindEntriesRequest struct {
	EntryType string `json:"entry_type"`
}

// FindEntriesReply lists matching directory entries.
type FindEntriesReply struct {
	Entries []DirectoryEntry `json:"entries"`
}

// NotUnderstood signals protocol misuse back to the caller.
type NotUnderstood struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}
