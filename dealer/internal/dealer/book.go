package dealer

import "sync"

// book tracks the dealer's signed inventory per asset. Positive is long.
type book struct {
	mu        sync.RWMutex
	positions map[string]float64
}

func newBook() *book {
	return &book{positions: make(map[string]float64)}
}

// apply adds a signed fill to the asset's position and returns the new total.
func (b *book) apply(asset string, size float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[asset] += size
	return b.positions[asset]
}

// position returns the current signed inventory for an asset.
func (b *book) position(asset string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.positions[asset]
}
