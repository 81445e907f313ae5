package strategy

import (
	"math/rand"
	"sync"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// Params tune the taker's appetite.
type Params struct {
	// Tolerance is how far through the composite the taker will still
	// trade, in price points. Zero accepts only at or inside composite.
	Tolerance float64
	// MinSize and MaxSize bound the absolute size of generated RFQs.
	MinSize float64
	MaxSize float64
	// MaxProviders caps how many providers one RFQ solicits.
	MaxProviders int
}

// DefaultParams trades up to a tick through composite, ten lots max.
var DefaultParams = Params{
	Tolerance:    0.10,
	MinSize:      1_000_000,
	MaxSize:      10_000_000,
	MaxProviders: 4,
}

// Strategy decides what to ask for and whether a ranking is worth trading.
// Randomness is seeded at construction so simulations can be replayed.
type Strategy struct {
	params Params

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a strategy from a seed.
func New(params Params, seed int64) *Strategy {
	return &Strategy{
		params: params,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Accept reports whether the best-ranked quote should be lifted given the
// current composite. Without a composite there is no reference price, so
// the taker declines rather than trade blind.
func (s *Strategy) Accept(side string, best model.RankedQuote, composite model.CompositeQuote, hasComposite bool) bool {
	if !hasComposite {
		return false
	}
	if side == model.SideSell {
		// Selling: the quote is a bid, acceptable down to tolerance below
		// the composite bid.
		return best.Price >= composite.Bid-s.params.Tolerance
	}
	return best.Price <= composite.Ask+s.params.Tolerance
}

// NextOrder draws a signed size for the next RFQ: uniform magnitude within
// bounds, rounded to the nearest million, either direction equally likely.
func (s *Strategy) NextOrder() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	span := s.params.MaxSize - s.params.MinSize
	size := s.params.MinSize + s.rng.Float64()*span
	const lot = 1_000_000
	if size = float64(int64(size/lot+0.5)) * lot; size < s.params.MinSize {
		size = s.params.MinSize
	}
	if s.rng.Intn(2) == 0 {
		return -size
	}
	return size
}

// PickAsset chooses an asset uniformly from the quotable universe.
func (s *Strategy) PickAsset(assets []string) (string, bool) {
	if len(assets) == 0 {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return assets[s.rng.Intn(len(assets))], true
}

// PickProviders chooses a random subset of at most MaxProviders, preserving
// no particular order. The input slice is not modified.
func (s *Strategy) PickProviders(providers []string) []string {
	if len(providers) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	shuffled := make([]string, len(providers))
	copy(shuffled, providers)
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := s.params.MaxProviders
	if n <= 0 || n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}
