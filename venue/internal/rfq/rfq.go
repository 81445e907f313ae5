package rfq

import (
	"sort"
	"time"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// State is an RFQ lifecycle state.
type State int

const (
	// Soliciting: quote requests are out, replies are being collected
	// under the solicitation deadline.
	Soliciting State = iota
	// QuotesClosed: the ranking went to the taker, who must accept or
	// decline within the acceptance window.
	QuotesClosed
	// Resolved: the taker accepted or declined. Terminal.
	Resolved
	// TimedOut: a window elapsed without the required response. Terminal,
	// indistinguishable from a decline as far as providers can tell.
	TimedOut
)

func (s State) String() string {
	switch s {
	case Soliciting:
		return "soliciting"
	case QuotesClosed:
		return "quotes_closed"
	case Resolved:
		return "resolved"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == Resolved || s == TimedOut
}

// Quote is one provider's recorded firm price. The slice position is the
// arrival order, which is the ranking tie-break for equal prices.
type Quote struct {
	Provider string
	Price    float64
}

// Rfq is a single negotiation instance. Ids are unique for the venue's
// lifetime and never reused; the instance is dropped from the active set
// once terminal, so a late quote or accept referencing it simply finds
// nothing.
type Rfq struct {
	ID            uint64
	Taker         model.Identity
	Asset         string
	Size          float64
	StartedAt     time.Time
	QuoteDeadline time.Time

	state     State
	solicited []string
	quotes    []Quote
	quoteIdx  map[string]int // provider -> position in quotes
}

// New creates an RFQ in Soliciting against a fixed provider subset. The
// subset is closed from here on: no late joiners.
func New(id uint64, taker model.Identity, asset string, size float64, solicited []string, startedAt time.Time, deadline time.Time) *Rfq {
	fixed := make([]string, len(solicited))
	copy(fixed, solicited)
	return &Rfq{
		ID:            id,
		Taker:         taker,
		Asset:         asset,
		Size:          size,
		StartedAt:     startedAt,
		QuoteDeadline: deadline,
		state:         Soliciting,
		solicited:     fixed,
		quoteIdx:      make(map[string]int, len(fixed)),
	}
}

// State returns the current lifecycle state.
func (r *Rfq) State() State { return r.state }

// Side is the taker's side derived from the signed size.
func (r *Rfq) Side() string { return model.SideOf(r.Size) }

// Solicited returns the fixed provider subset, in solicitation order.
func (r *Rfq) Solicited() []string { return r.solicited }

// IsSolicited reports whether a provider is in the fixed subset.
func (r *Rfq) IsSolicited(provider string) bool {
	for _, p := range r.solicited {
		if p == provider {
			return true
		}
	}
	return false
}

// RecordQuote stores a provider's firm price. A later quote from the same
// provider overwrites the price but keeps the first arrival slot, so the
// tie-break stays deterministic.
func (r *Rfq) RecordQuote(provider string, price float64) {
	if i, ok := r.quoteIdx[provider]; ok {
		r.quotes[i].Price = price
		return
	}
	r.quoteIdx[provider] = len(r.quotes)
	r.quotes = append(r.quotes, Quote{Provider: provider, Price: price})
}

// QuoteCount returns how many providers have answered.
func (r *Rfq) QuoteCount() int { return len(r.quotes) }

// FullCoverage reports whether every solicited provider has answered.
func (r *Rfq) FullCoverage() bool { return len(r.quotes) >= len(r.solicited) }

// CloseQuotes transitions Soliciting -> QuotesClosed.
func (r *Rfq) CloseQuotes() { r.state = QuotesClosed }

// Resolve marks the RFQ resolved (accept or decline).
func (r *Rfq) Resolve() { r.state = Resolved }

// TimeOut marks the RFQ timed out.
func (r *Rfq) TimeOut() { r.state = TimedOut }

// Ranking returns the collected quotes best-to-worst for the taker's side:
// lowest price first for a buy, highest first for a sell. Providers who
// never answered are absent, not treated as a worst-case price. The ranking
// is computed fresh on every call; equal prices keep arrival order.
func (r *Rfq) Ranking() []model.RankedQuote {
	ranked := make([]Quote, len(r.quotes))
	copy(ranked, r.quotes)

	buy := r.Size >= 0
	sort.SliceStable(ranked, func(i, j int) bool {
		if buy {
			return ranked[i].Price < ranked[j].Price
		}
		return ranked[i].Price > ranked[j].Price
	})

	out := make([]model.RankedQuote, len(ranked))
	for i, q := range ranked {
		out[i] = model.RankedQuote{Provider: q.Provider, Price: q.Price}
	}
	return out
}

// Best returns the top-ranked quote, if any.
func (r *Rfq) Best() (model.RankedQuote, bool) {
	ranking := r.Ranking()
	if len(ranking) == 0 {
		return model.RankedQuote{}, false
	}
	return ranking[0], true
}

// SecondBest returns the near-miss quote, if any.
func (r *Rfq) SecondBest() (model.RankedQuote, bool) {
	ranking := r.Ranking()
	if len(ranking) < 2 {
		return model.RankedQuote{}, false
	}
	return ranking[1], true
}
