package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterProvider_LastWriterWins(t *testing.T) {
	r := New()
	r.RegisterProvider("Squirrel Lench", "inbox.a")
	r.RegisterProvider("Squirrel Lench", "inbox.b")

	inbox, ok := r.ProviderInbox("Squirrel Lench")
	assert.True(t, ok)
	assert.Equal(t, "inbox.b", inbox)

	// Stale reverse mapping must be gone.
	_, ok = r.ProviderByInbox("inbox.a")
	assert.False(t, ok)

	name, ok := r.ProviderByInbox("inbox.b")
	assert.True(t, ok)
	assert.Equal(t, "Squirrel Lench", name)
}

func TestUnregisterProvider(t *testing.T) {
	r := New()
	r.RegisterProvider("A", "inbox.a")

	assert.True(t, r.UnregisterProvider("A"))
	assert.False(t, r.UnregisterProvider("A"), "second unregister is a noop")
	assert.False(t, r.HasProvider("A"))
	_, ok := r.ProviderByInbox("inbox.a")
	assert.False(t, ok)
}

func TestProviders_OrderedSnapshot(t *testing.T) {
	r := New()
	r.RegisterProvider("Sack Jon", "inbox.sj")
	r.RegisterProvider("Blackman Sucks", "inbox.bs")
	r.RegisterProvider("Coloring In Book Co", "inbox.cibc")

	assert.Equal(t, []string{"Blackman Sucks", "Coloring In Book Co", "Sack Jon"}, r.Providers())
}

func TestProviderPeers_ExcludesSelf(t *testing.T) {
	r := New()
	r.RegisterProvider("A", "inbox.a")
	r.RegisterProvider("B", "inbox.b")
	r.RegisterProvider("C", "inbox.c")

	peers := r.ProviderPeers("B")
	assert.Len(t, peers, 2)
	for _, p := range peers {
		assert.NotEqual(t, "B", p.Name)
	}
}

func TestTakers(t *testing.T) {
	r := New()
	r.RegisterTaker("Brown Block", "inbox.bb")

	takers := r.Takers()
	assert.Len(t, takers, 1)
	assert.Equal(t, "Brown Block", takers[0].Name)

	name, ok := r.TakerByInbox("inbox.bb")
	assert.True(t, ok)
	assert.Equal(t, "Brown Block", name)

	assert.True(t, r.UnregisterTaker("Brown Block"))
	assert.False(t, r.UnregisterTaker("Brown Block"))
	assert.Empty(t, r.Takers())
}
