package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type compositeUpdated struct {
	Asset string
	Bid   float64
	Ask   float64
}

type tradeRecorded struct {
	RfqID uint64
}

func TestPublishSync_DeliversToAllSubscribers(t *testing.T) {
	bus := New()

	var got []compositeUpdated
	bus.Subscribe(compositeUpdated{}, func(ev interface{}) {
		got = append(got, ev.(compositeUpdated))
	})
	bus.Subscribe(compositeUpdated{}, func(ev interface{}) {
		got = append(got, ev.(compositeUpdated))
	})

	bus.PublishSync(compositeUpdated{Asset: "DBR 2.5 08/46", Bid: 101.2, Ask: 101.4})

	assert.Len(t, got, 2)
	assert.Equal(t, "DBR 2.5 08/46", got[0].Asset)
}

func TestPublish_Async(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var count int
	done := make(chan struct{})
	bus.Subscribe(tradeRecorded{}, func(ev interface{}) {
		mu.Lock()
		count++
		mu.Unlock()
		close(done)
	})

	bus.Publish(tradeRecorded{RfqID: 7})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestPublishSync_NoSubscribersIsNoop(t *testing.T) {
	bus := New()
	bus.PublishSync(tradeRecorded{RfqID: 1}) // must not panic
	assert.False(t, bus.HasSubscribers(tradeRecorded{}))
	assert.Equal(t, 0, bus.SubscriberCount(tradeRecorded{}))
}

func TestSubscriberCount_PerType(t *testing.T) {
	bus := New()
	bus.Subscribe(tradeRecorded{}, func(interface{}) {})
	bus.Subscribe(compositeUpdated{}, func(interface{}) {})
	bus.Subscribe(compositeUpdated{}, func(interface{}) {})

	assert.Equal(t, 1, bus.SubscriberCount(tradeRecorded{}))
	assert.Equal(t, 2, bus.SubscriberCount(compositeUpdated{}))
}
