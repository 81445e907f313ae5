package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

const bond = "DBR 2.5 08/46"

func TestComposite_MeanAcrossProviders(t *testing.T) {
	e := New()

	e.Submit("A", []model.Indication{{Asset: bond, Bid: 100.0, Ask: 100.4}})
	e.Submit("B", []model.Indication{{Asset: bond, Bid: 100.2, Ask: 100.6}})
	e.Submit("C", []model.Indication{{Asset: bond, Bid: 100.4, Ask: 100.8}})

	q, ok := e.CompositeFor(bond)
	require.True(t, ok)
	assert.InDelta(t, 100.2, q.Bid, 1e-9)
	assert.InDelta(t, 100.6, q.Ask, 1e-9)
}

func TestComposite_SingleProvider(t *testing.T) {
	e := New()
	e.Submit("A", []model.Indication{{Asset: bond, Bid: 99.5, Ask: 99.9}})

	q, ok := e.CompositeFor(bond)
	require.True(t, ok)
	assert.InDelta(t, 99.5, q.Bid, 1e-9)
	assert.InDelta(t, 99.9, q.Ask, 1e-9)
}

func TestComposite_AbsentWhenNobodyQuotes(t *testing.T) {
	e := New()
	_, ok := e.CompositeFor(bond)
	assert.False(t, ok)
}

func TestSubmit_OverwriteIsIdempotent(t *testing.T) {
	e := New()
	ind := []model.Indication{{Asset: bond, Bid: 100.0, Ask: 100.4}}
	e.Submit("A", ind)
	first, _ := e.CompositeFor(bond)

	changed := e.Submit("A", ind)
	second, ok := e.CompositeFor(bond)

	require.True(t, ok)
	assert.Equal(t, []string{bond}, changed)
	assert.Equal(t, first, second)
}

func TestSubmit_OverwriteMovesComposite(t *testing.T) {
	e := New()
	e.Submit("A", []model.Indication{{Asset: bond, Bid: 100.0, Ask: 100.4}})
	e.Submit("B", []model.Indication{{Asset: bond, Bid: 101.0, Ask: 101.4}})

	e.Submit("A", []model.Indication{{Asset: bond, Bid: 102.0, Ask: 102.4}})

	q, _ := e.CompositeFor(bond)
	assert.InDelta(t, 101.5, q.Bid, 1e-9)
	assert.InDelta(t, 101.9, q.Ask, 1e-9)
}

func TestSubmit_TouchedAssetsSorted(t *testing.T) {
	e := New()
	changed := e.Submit("A", []model.Indication{
		{Asset: "OBL 0 10/27", Bid: 98, Ask: 98.2},
		{Asset: "BKO 2.2 12/26", Bid: 99, Ask: 99.1},
	})
	assert.Equal(t, []string{"BKO 2.2 12/26", "OBL 0 10/27"}, changed)
}

func TestRemoveProvider_SoleQuoterRemovesComposite(t *testing.T) {
	e := New()
	e.Submit("A", []model.Indication{{Asset: bond, Bid: 100.0, Ask: 100.4}})

	changed := e.RemoveProvider("A")

	assert.Equal(t, []string{bond}, changed)
	_, ok := e.CompositeFor(bond)
	assert.False(t, ok, "composite must be removed, not left stale")
	assert.Zero(t, e.AssetCount())
}

func TestRemoveProvider_RecomputesRemainder(t *testing.T) {
	e := New()
	e.Submit("A", []model.Indication{{Asset: bond, Bid: 100.0, Ask: 100.4}})
	e.Submit("B", []model.Indication{{Asset: bond, Bid: 102.0, Ask: 102.4}})

	e.RemoveProvider("A")

	q, ok := e.CompositeFor(bond)
	require.True(t, ok)
	assert.InDelta(t, 102.0, q.Bid, 1e-9)
}

func TestHasIndication(t *testing.T) {
	e := New()
	e.Submit("A", []model.Indication{{Asset: bond, Bid: 100, Ask: 100.4}})

	assert.True(t, e.HasIndication("A", bond))
	assert.False(t, e.HasIndication("B", bond))
	assert.False(t, e.HasIndication("A", "OBL 0 10/27"))
}

func TestExpireOlderThan(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	e := NewWithClock(func() time.Time { return clock })

	e.Submit("A", []model.Indication{{Asset: bond, Bid: 100, Ask: 100.4}})
	clock = clock.Add(15 * time.Second)
	e.Submit("B", []model.Indication{{Asset: bond, Bid: 102, Ask: 102.4}})

	// A's indication is now 15s old, B's is fresh.
	changed := e.ExpireOlderThan(clock.Add(-10 * time.Second))

	assert.Equal(t, []string{bond}, changed)
	q, ok := e.CompositeFor(bond)
	require.True(t, ok)
	assert.InDelta(t, 102.0, q.Bid, 1e-9)
	assert.False(t, e.HasIndication("A", bond))
}

func TestComposites_Snapshot(t *testing.T) {
	e := New()
	e.Submit("A", []model.Indication{{Asset: bond, Bid: 100, Ask: 100.4}})

	snap := e.Composites()
	snap[bond] = model.CompositeQuote{Bid: 0, Ask: 0}

	q, _ := e.CompositeFor(bond)
	assert.InDelta(t, 100.0, q.Bid, 1e-9, "snapshot must be a copy")
}
