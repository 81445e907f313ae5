package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

func newStrategy() *Strategy {
	return New(Params{
		Tolerance:    0.10,
		MinSize:      1_000_000,
		MaxSize:      10_000_000,
		MaxProviders: 2,
	}, 42)
}

func TestAccept_BuySide(t *testing.T) {
	s := newStrategy()
	composite := model.CompositeQuote{Bid: 99.80, Ask: 100.20}

	assert.True(t, s.Accept(model.SideBuy, model.RankedQuote{Price: 100.15}, composite, true),
		"inside the composite ask")
	assert.True(t, s.Accept(model.SideBuy, model.RankedQuote{Price: 100.30}, composite, true),
		"within tolerance through the ask")
	assert.False(t, s.Accept(model.SideBuy, model.RankedQuote{Price: 100.31}, composite, true))
}

func TestAccept_SellSide(t *testing.T) {
	s := newStrategy()
	composite := model.CompositeQuote{Bid: 99.80, Ask: 100.20}

	assert.True(t, s.Accept(model.SideSell, model.RankedQuote{Price: 99.85}, composite, true))
	assert.True(t, s.Accept(model.SideSell, model.RankedQuote{Price: 99.70}, composite, true))
	assert.False(t, s.Accept(model.SideSell, model.RankedQuote{Price: 99.69}, composite, true))
}

func TestAccept_NoCompositeDeclines(t *testing.T) {
	s := newStrategy()
	assert.False(t, s.Accept(model.SideBuy, model.RankedQuote{Price: 1.0}, model.CompositeQuote{}, false),
		"a bargain with no reference price is not a bargain")
}

func TestNextOrder_BoundedAndLotSized(t *testing.T) {
	s := newStrategy()
	sawBuy, sawSell := false, false
	for i := 0; i < 200; i++ {
		size := s.NextOrder()
		mag := size
		if mag < 0 {
			mag = -mag
			sawSell = true
		} else {
			sawBuy = true
		}
		assert.GreaterOrEqual(t, mag, 1_000_000.0)
		assert.LessOrEqual(t, mag, 10_000_000.0)
		assert.Zero(t, int64(mag)%1_000_000, "sizes are whole lots")
	}
	assert.True(t, sawBuy && sawSell, "both directions show up over 200 draws")
}

func TestPickProviders_SubsetWithoutMutation(t *testing.T) {
	s := newStrategy()
	providers := []string{"A", "B", "C", "D"}

	picked := s.PickProviders(providers)
	require.Len(t, picked, 2)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, providers, "input untouched")
	for _, p := range picked {
		assert.Contains(t, providers, p)
	}

	assert.Nil(t, s.PickProviders(nil))

	one := s.PickProviders([]string{"A"})
	assert.Equal(t, []string{"A"}, one)
}

func TestPickAsset(t *testing.T) {
	s := newStrategy()
	_, ok := s.PickAsset(nil)
	assert.False(t, ok)

	asset, ok := s.PickAsset([]string{"DBR 2.5 08/46"})
	require.True(t, ok)
	assert.Equal(t, "DBR 2.5 08/46", asset)
}
