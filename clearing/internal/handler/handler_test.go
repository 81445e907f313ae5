package handler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/clearing/internal/auth"
	"github.com/Checker-Finance/bond-venue/clearing/internal/directory"
	"github.com/Checker-Finance/bond-venue/clearing/internal/ledger"
	"github.com/Checker-Finance/bond-venue/pkg/eventbus"
	"github.com/Checker-Finance/bond-venue/pkg/model"
)

type fixture struct {
	h      *Handler
	auth   *auth.Manager
	ledger *ledger.MemoryLedger
	bus    *eventbus.EventBus
}

func newFixture() *fixture {
	f := &fixture{
		auth:   auth.NewManager(zap.NewNop(), map[string]string{"abn": "hunter2"}),
		ledger: ledger.NewMemory(),
		bus:    eventbus.New(),
	}
	f.h = New(zap.NewNop(), nil, model.Identity{Name: "GAME_KEEPER"}, "fitg.clearing.cmd",
		f.auth, directory.New(zap.NewNop()), f.ledger, f.bus)
	return f
}

// deliver feeds one fire-and-forget message through the dispatch path.
func (f *fixture) deliver(t *testing.T, kind string, payload any) {
	t.Helper()
	env, err := model.NewEnvelope(kind, model.Identity{Name: "abn", Inbox: "inbox.abn"}, payload)
	require.NoError(t, err)
	data, err := env.Marshal()
	require.NoError(t, err)
	f.h.handleMessage(&nats.Msg{Data: data})
}

func tradeReport(token int64) model.TradeReport {
	return model.TradeReport{
		Token:    token,
		RfqID:    1,
		Venue:    "TWEB",
		Reporter: "abn",
		Taker:    "soros",
		Provider: "abn",
		Asset:    "DBR 2.5 08/46",
		Side:     model.SideBuy,
		Size:     decimal.RequireFromString("-10000000"),
		Price:    decimal.RequireFromString("100.75"),
		TradedAt: time.Now().UTC(),
	}
}

func TestRecordTrade_RequiresValidToken(t *testing.T) {
	f := newFixture()

	f.deliver(t, model.KindRecordTrade, tradeReport(999))

	n, err := f.ledger.TradeCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "unauthenticated report must not reach the ledger")
}

func TestRecordTrade_RecordsAndPublishes(t *testing.T) {
	f := newFixture()
	token, ok := f.auth.Login("abn", "hunter2")
	require.True(t, ok)

	events := make(chan ledger.TradeRecordedEvent, 1)
	f.bus.Subscribe(ledger.TradeRecordedEvent{}, func(event interface{}) {
		events <- event.(ledger.TradeRecordedEvent)
	})

	f.deliver(t, model.KindRecordTrade, tradeReport(token))

	n, err := f.ledger.TradeCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case e := <-events:
		assert.Equal(t, uint64(1), e.Report.RfqID)
	case <-time.After(time.Second):
		t.Fatal("expected TradeRecordedEvent on the bus")
	}
}

func TestRecordTrade_ReporterMustMatchSession(t *testing.T) {
	f := newFixture()
	token, _ := f.auth.Login("abn", "hunter2")

	report := tradeReport(token)
	report.Reporter = "soros"
	f.deliver(t, model.KindRecordTrade, report)

	n, _ := f.ledger.TradeCount(context.Background())
	assert.Zero(t, n, "an agent cannot report on another agent's behalf")
}

func TestRecordTrade_DuplicateDoesNotRepublish(t *testing.T) {
	f := newFixture()
	token, _ := f.auth.Login("abn", "hunter2")

	var published atomic.Int32
	f.bus.Subscribe(ledger.TradeRecordedEvent{}, func(interface{}) { published.Add(1) })

	f.deliver(t, model.KindRecordTrade, tradeReport(token))
	f.deliver(t, model.KindRecordTrade, tradeReport(token))
	time.Sleep(50 * time.Millisecond) // bus handlers run async

	n, _ := f.ledger.TradeCount(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), published.Load())
}
