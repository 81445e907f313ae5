package pricing

import (
	"sort"
	"time"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// Entry is one provider's stored two-sided indication for an asset.
type Entry struct {
	Bid       float64
	Ask       float64
	UpdatedAt time.Time
}

// Engine maintains the latest indication per (provider, asset) and the
// cross-provider composite per asset. The composite is always the plain
// arithmetic mean of the live indication set: it is recomputed from scratch
// whenever an asset's indications change, never cached incrementally, so
// correctness does not depend on the order earlier submissions are
// withdrawn in. Owned by the venue facade's serial loop; no locking.
type Engine struct {
	byProviderByAsset map[string]map[string]Entry
	composites        map[string]model.CompositeQuote
	now               func() time.Time
}

// New creates an engine on the wall clock.
func New() *Engine {
	return NewWithClock(time.Now)
}

// NewWithClock creates an engine with an injectable clock, for staleness
// tests.
func NewWithClock(now func() time.Time) *Engine {
	return &Engine{
		byProviderByAsset: make(map[string]map[string]Entry),
		composites:        make(map[string]model.CompositeQuote),
		now:               now,
	}
}

// Submit overwrites the provider's indication for every asset in the batch
// and recomputes the touched composites. Returns the touched asset names,
// sorted. The caller has already authenticated the provider; unknown-sender
// drops happen at the facade.
func (e *Engine) Submit(provider string, indications []model.Indication) []string {
	changed := make(map[string]struct{}, len(indications))
	now := e.now()

	for _, ind := range indications {
		byProvider := e.byProviderByAsset[ind.Asset]
		if byProvider == nil {
			byProvider = make(map[string]Entry)
			e.byProviderByAsset[ind.Asset] = byProvider
		}
		byProvider[provider] = Entry{Bid: ind.Bid, Ask: ind.Ask, UpdatedAt: now}
		changed[ind.Asset] = struct{}{}
	}

	return e.recomputeAll(changed)
}

// RemoveProvider withdraws every indication a provider has on file, e.g. on
// unregistration churn, and recomputes the assets it was quoting. Composites
// left with zero providers are removed rather than left stale.
func (e *Engine) RemoveProvider(provider string) []string {
	changed := make(map[string]struct{})
	for asset, byProvider := range e.byProviderByAsset {
		if _, ok := byProvider[provider]; ok {
			delete(byProvider, provider)
			changed[asset] = struct{}{}
		}
	}
	return e.recomputeAll(changed)
}

// ExpireOlderThan withdraws indications last updated before the cutoff and
// recomputes the touched composites. Used by the optional staleness sweep.
func (e *Engine) ExpireOlderThan(cutoff time.Time) []string {
	changed := make(map[string]struct{})
	for asset, byProvider := range e.byProviderByAsset {
		for provider, entry := range byProvider {
			if entry.UpdatedAt.Before(cutoff) {
				delete(byProvider, provider)
				changed[asset] = struct{}{}
			}
		}
	}
	return e.recomputeAll(changed)
}

func (e *Engine) recomputeAll(changed map[string]struct{}) []string {
	assets := make([]string, 0, len(changed))
	for asset := range changed {
		e.recompute(asset)
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// recompute rebuilds one asset's composite as the mean of the live set.
func (e *Engine) recompute(asset string) {
	byProvider := e.byProviderByAsset[asset]

	var bidSum, askSum float64
	n := 0
	for _, entry := range byProvider {
		bidSum += entry.Bid
		askSum += entry.Ask
		n++
	}

	if n == 0 {
		delete(e.composites, asset)
		delete(e.byProviderByAsset, asset)
		return
	}
	e.composites[asset] = model.CompositeQuote{
		Bid: bidSum / float64(n),
		Ask: askSum / float64(n),
	}
}

// CompositeFor returns the asset's composite, absent when no provider
// currently quotes it.
func (e *Engine) CompositeFor(asset string) (model.CompositeQuote, bool) {
	q, ok := e.composites[asset]
	return q, ok
}

// Composites returns a copy of every live composite.
func (e *Engine) Composites() map[string]model.CompositeQuote {
	out := make(map[string]model.CompositeQuote, len(e.composites))
	for asset, q := range e.composites {
		out[asset] = q
	}
	return out
}

// HasIndication reports whether a provider has an indication on file for an
// asset. RFQ creation uses this: providers may only be asked to firm-quote
// assets they have already shown interest in.
func (e *Engine) HasIndication(provider, asset string) bool {
	byProvider, ok := e.byProviderByAsset[asset]
	if !ok {
		return false
	}
	_, ok = byProvider[provider]
	return ok
}

// AssetCount returns the number of assets with a live composite.
func (e *Engine) AssetCount() int {
	return len(e.composites)
}
