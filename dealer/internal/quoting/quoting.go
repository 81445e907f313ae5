package quoting

import (
	"math"
	"sync"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// Params tune how a dealer prices around its view of the mid.
type Params struct {
	HalfSpread  float64 // half the indicative bid/ask spread, in price points
	FirmImprove float64 // firm quotes tighten by this fraction of the half spread
	SkewFactor  float64 // mid shift at full inventory, in price points
	MaxPosition float64 // inventory magnitude that counts as "full"
}

// DefaultParams is a sleepy rates desk: 40 ticks wide, firm quotes a
// quarter-spread inside the indication.
var DefaultParams = Params{
	HalfSpread:  0.20,
	FirmImprove: 0.25,
	SkewFactor:  0.10,
	MaxPosition: 50_000_000,
}

// Quoter derives indicative and firm prices from a per-asset mid, the
// configured spread and the dealer's current inventory. A long book shifts
// both sides down to attract buyers; a short book shifts them up.
type Quoter struct {
	params Params

	mu   sync.RWMutex
	mids map[string]float64
}

// New creates a quoter with no mids; assets become quotable as mids arrive.
func New(params Params) *Quoter {
	return &Quoter{
		params: params,
		mids:   make(map[string]float64),
	}
}

// SetMid updates the dealer's view of an asset's mid price.
func (q *Quoter) SetMid(asset string, mid float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mids[asset] = mid
}

// Mid returns the current mid for an asset.
func (q *Quoter) Mid(asset string) (float64, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	mid, ok := q.mids[asset]
	return mid, ok
}

// Assets returns every asset the quoter holds a mid for.
func (q *Quoter) Assets() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.mids))
	for asset := range q.mids {
		out = append(out, asset)
	}
	return out
}

// skew is the signed mid shift for the current inventory, negative when long.
func (q *Quoter) skew(position float64) float64 {
	if q.params.MaxPosition <= 0 {
		return 0
	}
	normalized := position / q.params.MaxPosition
	normalized = math.Max(-1, math.Min(1, normalized))
	return -normalized * q.params.SkewFactor
}

// Indication prices a two-sided indicative quote for the asset given the
// dealer's current position.
func (q *Quoter) Indication(asset string, position float64) (model.Indication, bool) {
	mid, ok := q.Mid(asset)
	if !ok {
		return model.Indication{}, false
	}
	center := mid + q.skew(position)
	return model.Indication{
		Asset: asset,
		Bid:   center - q.params.HalfSpread,
		Ask:   center + q.params.HalfSpread,
	}, true
}

// FirmQuote prices a binding response to an RFQ. The side is the taker's:
// on a taker buy the dealer sells at an improved ask, on a taker sell the
// dealer bids an improved bid.
func (q *Quoter) FirmQuote(asset, takerSide string, position float64) (float64, bool) {
	ind, ok := q.Indication(asset, position)
	if !ok {
		return 0, false
	}
	improve := q.params.FirmImprove * q.params.HalfSpread
	if takerSide == model.SideSell {
		return ind.Bid + improve, true
	}
	return ind.Ask - improve, true
}
