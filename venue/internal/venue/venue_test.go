package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/pkg/eventbus"
	"github.com/Checker-Finance/bond-venue/pkg/model"
)

const bond = "DBR 2.5 08/46"

// fakeScheduler records armed deadlines so tests can fire them manually.
type fakeScheduler struct {
	timers []*fakeTimer
}

type fakeTimer struct {
	d         time.Duration
	task      func() []Outbound
	cancelled bool
}

func (s *fakeScheduler) Schedule(d time.Duration, task func() []Outbound) func() {
	t := &fakeTimer{d: d, task: task}
	s.timers = append(s.timers, t)
	return func() { t.cancelled = true }
}

// fire runs the i-th armed timer the way the event loop would.
func (s *fakeScheduler) fire(i int) []Outbound {
	t := s.timers[i]
	if t.cancelled {
		return nil
	}
	return t.task()
}

type fixture struct {
	v     *Venue
	sched *fakeScheduler
	bus   *eventbus.EventBus
	clock time.Time
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		sched: &fakeScheduler{},
		bus:   eventbus.New(),
		clock: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	cfg := Config{
		Name:          "TWEB",
		SolicitWindow: 5 * time.Second,
		AcceptWindow:  5 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.v = NewWithClock(cfg, zap.NewNop(), f.bus, f.sched, func() time.Time { return f.clock })
	return f
}

func ident(name string) model.Identity {
	return model.Identity{Name: name, Inbox: "inbox." + name}
}

func (f *fixture) send(t *testing.T, kind string, sender model.Identity, payload any, replyTo string) []Outbound {
	t.Helper()
	env, err := model.NewEnvelope(kind, sender, payload)
	require.NoError(t, err)
	return f.v.HandleEnvelope(env, replyTo)
}

func (f *fixture) registerProvider(t *testing.T, name string) []Outbound {
	return f.send(t, model.KindRegisterProvider, ident(name), model.RegisterRequest{Name: name}, "reply."+name)
}

func (f *fixture) registerTaker(t *testing.T, name string) []Outbound {
	return f.send(t, model.KindRegisterTaker, ident(name), model.RegisterRequest{Name: name}, "reply."+name)
}

func (f *fixture) submit(t *testing.T, provider string, bid, ask float64) []Outbound {
	return f.send(t, model.KindSubmitIndic, ident(provider), model.SubmitIndications{
		Indications: []model.Indication{{Asset: bond, Bid: bid, Ask: ask}},
	}, "reply."+provider)
}

func (f *fixture) startRfq(t *testing.T, taker string, size float64, providers ...string) []Outbound {
	return f.send(t, model.KindRfqStart, ident(taker), model.RfqStartRequest{
		Asset:     bond,
		Size:      size,
		Side:      model.SideOf(size),
		Providers: providers,
	}, "reply."+taker)
}

func (f *fixture) quote(t *testing.T, provider string, rfqID uint64, price float64) []Outbound {
	return f.send(t, model.KindRfqQuote, ident(provider), model.FirmQuote{RfqID: rfqID, Price: price}, "")
}

func byKind(outs []Outbound, kind string) []Outbound {
	var matched []Outbound
	for _, o := range outs {
		if o.Kind == kind {
			matched = append(matched, o)
		}
	}
	return matched
}

func subjects(outs []Outbound) []string {
	subs := make([]string, len(outs))
	for i, o := range outs {
		subs[i] = o.Subject
	}
	return subs
}

// --- Registry fan-out ---

func TestRegisterProvider_BroadcastFanOut(t *testing.T) {
	f := newFixture(t)
	f.registerProvider(t, "A")
	f.registerProvider(t, "B")
	f.registerTaker(t, "T")

	outs := f.registerProvider(t, "P")

	acks := byKind(outs, model.KindRegisterProvider)
	require.Len(t, acks, 1)
	assert.Equal(t, "reply.P", acks[0].Subject)
	assert.True(t, acks[0].Payload.(model.Ack).OK)

	joined := byKind(outs, model.KindProviderJoined)
	assert.ElementsMatch(t, []string{"inbox.A", "inbox.B", "inbox.T"}, subjects(joined),
		"exactly A, B and T are notified; P gets only the ack")
}

func TestUnregisterProvider_UnknownIsSilentNoop(t *testing.T) {
	f := newFixture(t)
	f.registerProvider(t, "A")

	outs := f.send(t, model.KindUnregisterProvider, ident("ghost"), model.RegisterRequest{Name: "ghost"}, "reply.ghost")
	assert.Empty(t, outs)
}

func TestUnregisterProvider_BroadcastsAndDropsComposite(t *testing.T) {
	f := newFixture(t)
	f.registerProvider(t, "A")
	f.registerProvider(t, "B")
	f.registerTaker(t, "T")
	f.submit(t, "A", 100.0, 100.4)

	outs := f.send(t, model.KindUnregisterProvider, ident("A"), model.RegisterRequest{Name: "A"}, "reply.A")

	left := byKind(outs, model.KindProviderLeft)
	assert.ElementsMatch(t, []string{"inbox.B", "inbox.T"}, subjects(left))

	comps := f.send(t, model.KindGetComposites, ident("T"), nil, "reply.T")
	reply := comps[0].Payload.(model.CompositesReply)
	assert.Empty(t, reply.ByAsset, "sole quoter left, composite must be gone")
}

// --- Composite protocol ---

func TestSubmitIndic_UnknownSenderSilentlyDropped(t *testing.T) {
	f := newFixture(t)
	outs := f.submit(t, "stranger", 100, 100.4)
	assert.Empty(t, outs, "unknown senders must not be rewarded with a reply")
}

func TestComposites_MeanAcrossProviders(t *testing.T) {
	f := newFixture(t)
	f.registerProvider(t, "A")
	f.registerProvider(t, "B")
	f.submit(t, "A", 100.0, 100.4)
	f.submit(t, "B", 100.2, 100.6)

	outs := f.send(t, model.KindGetComposites, ident("anyone"), nil, "reply.x")
	reply := outs[0].Payload.(model.CompositesReply)
	require.Contains(t, reply.ByAsset, bond)
	assert.InDelta(t, 100.1, reply.ByAsset[bond].Bid, 1e-9)
	assert.InDelta(t, 100.5, reply.ByAsset[bond].Ask, 1e-9)
}

func TestGetProviders_Snapshot(t *testing.T) {
	f := newFixture(t)
	f.registerProvider(t, "B")
	f.registerProvider(t, "A")

	outs := f.send(t, model.KindGetProviders, ident("x"), nil, "reply.x")
	assert.Equal(t, []string{"A", "B"}, outs[0].Payload.(model.ProvidersReply).Providers)
}

// --- RFQ creation ---

func rfqFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := newFixture(t, mutate...)
	for _, p := range []string{"A", "B", "C"} {
		f.registerProvider(t, p)
		f.submit(t, p, 100.0, 100.5)
	}
	f.registerTaker(t, "T")
	return f
}

func TestRfqStart_SolicitsAndReplies(t *testing.T) {
	f := rfqFixture(t)

	outs := f.startRfq(t, "T", 10_000_000, "A", "B", "C")

	quoteFors := byKind(outs, model.KindRfqQuoteFor)
	assert.ElementsMatch(t, []string{"inbox.A", "inbox.B", "inbox.C"}, subjects(quoteFors))
	for _, o := range quoteFors {
		req := o.Payload.(model.RfqQuoteRequest)
		assert.Equal(t, uint64(1), req.RfqID)
		assert.Equal(t, model.SideBuy, req.Side)
	}

	replies := byKind(outs, model.KindRfqStart)
	require.Len(t, replies, 1)
	reply := replies[0].Payload.(model.RfqStartReply)
	assert.True(t, reply.OK)
	assert.Equal(t, uint64(1), reply.RfqID)

	require.Len(t, f.sched.timers, 1, "solicitation deadline armed")
	assert.Equal(t, 5*time.Second, f.sched.timers[0].d)
}

func TestRfqStart_IdsAreMonotonic(t *testing.T) {
	f := rfqFixture(t)
	first := byKind(f.startRfq(t, "T", 1_000_000, "A"), model.KindRfqStart)[0].Payload.(model.RfqStartReply)
	second := byKind(f.startRfq(t, "T", 1_000_000, "B"), model.KindRfqStart)[0].Payload.(model.RfqStartReply)
	assert.Equal(t, uint64(1), first.RfqID)
	assert.Equal(t, uint64(2), second.RfqID)
}

func TestRfqStart_Rejections(t *testing.T) {
	f := rfqFixture(t)
	f.registerProvider(t, "D") // registered but never indicated

	cases := []struct {
		name      string
		providers []string
	}{
		{"empty provider set", nil},
		{"unknown provider", []string{"Z"}},
		{"provider without indication", []string{"A", "D"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outs := f.startRfq(t, "T", 1_000_000, tc.providers...)
			require.Len(t, outs, 1, "rejection only, no quote requests")
			reply := outs[0].Payload.(model.RfqStartReply)
			assert.False(t, reply.OK)
			assert.NotEmpty(t, reply.Reason)
		})
	}
	assert.Zero(t, f.v.ActiveRfqCount(), "rejected RFQs are never created")
}

func TestRfqStart_UnregisteredTakerDropped(t *testing.T) {
	f := rfqFixture(t)
	outs := f.startRfq(t, "nobody", 1_000_000, "A")
	assert.Empty(t, outs)
}

// --- Quote collection and ranking ---

func TestRfq_FullCoverageClosesEarly(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B", "C")

	assert.Empty(t, f.quote(t, "A", 1, 101.00))
	assert.Empty(t, f.quote(t, "B", 1, 101.00))
	outs := f.quote(t, "C", 1, 100.75)

	quotesOut := byKind(outs, model.KindRfqQuotes)
	require.Len(t, quotesOut, 1)
	assert.Equal(t, "inbox.T", quotesOut[0].Subject)

	notice := quotesOut[0].Payload.(model.RfqQuotesNotice)
	require.Len(t, notice.Quotes, 3)
	assert.Equal(t, "C", notice.Quotes[0].Provider, "lowest price wins a buy")
	assert.Equal(t, "A", notice.Quotes[1].Provider, "A beats B on the tie: answered first")
	assert.Equal(t, "B", notice.Quotes[2].Provider)

	assert.True(t, f.sched.timers[0].cancelled, "solicitation timer cancelled on early close")
	require.Len(t, f.sched.timers, 2, "acceptance deadline armed")
}

func TestRfq_DeadlineClosesWithPartialCoverage(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B")
	f.quote(t, "A", 1, 100.9)

	outs := f.sched.fire(0)

	notice := byKind(outs, model.KindRfqQuotes)[0].Payload.(model.RfqQuotesNotice)
	require.Len(t, notice.Quotes, 1, "non-responders are absent from the ranking")
	assert.Equal(t, "A", notice.Quotes[0].Provider)
}

func TestRfq_LateQuoteIgnored(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B")
	f.quote(t, "A", 1, 100.9)
	f.sched.fire(0) // quotes now closed

	assert.Empty(t, f.quote(t, "B", 1, 100.1), "quote after close has no effect")

	// The ranking the taker can act on is unchanged: accepting B fails.
	outs := f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "B"}, "reply.T")
	assert.False(t, outs[0].Payload.(model.TradeConfirm).OK)
}

// --- Acceptance ---

func TestRfqAccept_GatingAndSettlementFanOut(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B", "C")
	f.quote(t, "A", 1, 100.75)
	f.quote(t, "B", 1, 101.00)
	f.quote(t, "C", 1, 101.50)

	// B is second-best: accepting it must be rejected with no state change.
	outs := f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "B"}, "reply.T")
	require.Len(t, outs, 1)
	confirm := outs[0].Payload.(model.TradeConfirm)
	assert.False(t, confirm.OK)
	assert.Equal(t, 1, f.v.ActiveRfqCount())

	// Accepting A resolves the RFQ.
	outs = f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "A"}, "reply.T")

	accepted := byKind(outs, model.KindRfqAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, "inbox.A", accepted[0].Subject)
	outcome := accepted[0].Payload.(model.RfqOutcome)
	assert.Equal(t, 100.75, outcome.Price)
	assert.Equal(t, "T", outcome.With)

	nearMiss := byKind(outs, model.KindRfqNearMiss)
	require.Len(t, nearMiss, 1)
	assert.Equal(t, "inbox.B", nearMiss[0].Subject)

	noTrade := byKind(outs, model.KindRfqNoTrade)
	require.Len(t, noTrade, 1)
	assert.Equal(t, "inbox.C", noTrade[0].Subject)

	confirm = byKind(outs, model.KindRfqAccept)[0].Payload.(model.TradeConfirm)
	assert.True(t, confirm.OK)
	assert.Equal(t, "A", confirm.Provider)
	assert.Equal(t, model.SideBuy, confirm.Side)
	assert.Equal(t, 10_000_000.0, confirm.Size)

	assert.Zero(t, f.v.ActiveRfqCount(), "terminal RFQ removed from the active set")
}

func TestRfqAccept_SellSideBestIsHighest(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", -10_000_000, "A", "B")
	f.quote(t, "A", 1, 100.10)
	f.quote(t, "B", 1, 100.30)

	outs := f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "A"}, "reply.T")
	assert.False(t, outs[0].Payload.(model.TradeConfirm).OK, "for a sell the highest bid is best")

	outs = f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "B"}, "reply.T")
	assert.True(t, byKind(outs, model.KindRfqAccept)[0].Payload.(model.TradeConfirm).OK)
}

func TestRfqAccept_WhileSolicitingRejected(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B")
	f.quote(t, "A", 1, 100.9)

	outs := f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "A"}, "reply.T")
	assert.False(t, outs[0].Payload.(model.TradeConfirm).OK)
	assert.Equal(t, 1, f.v.ActiveRfqCount())
}

func TestRfqAccept_TerminalIdempotence(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A")
	f.quote(t, "A", 1, 100.9)
	f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "A"}, "reply.T")

	// Second accept and a decline against the retired id: rejection only,
	// no duplicate notifications.
	outs := f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "A"}, "reply.T")
	require.Len(t, outs, 1)
	assert.False(t, outs[0].Payload.(model.TradeConfirm).OK)

	outs = f.send(t, model.KindRfqDecline, ident("T"), model.RfqDeclineRequest{RfqID: 1}, "reply.T")
	require.Len(t, outs, 1)
	assert.False(t, outs[0].Payload.(model.Ack).OK)
}

// --- Decline and timeouts ---

func TestRfqDecline_NoTradeFanOut(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B")
	f.quote(t, "A", 1, 100.9)
	f.quote(t, "B", 1, 100.8)

	outs := f.send(t, model.KindRfqDecline, ident("T"), model.RfqDeclineRequest{RfqID: 1}, "reply.T")

	noTrade := byKind(outs, model.KindRfqNoTrade)
	assert.ElementsMatch(t, []string{"inbox.A", "inbox.B"}, subjects(noTrade))
	assert.True(t, byKind(outs, model.KindRfqDecline)[0].Payload.(model.Ack).OK)
	assert.Zero(t, f.v.ActiveRfqCount())
}

func TestRfq_SolicitationTimeoutNobodyAnswered(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B")

	outs := f.sched.fire(0)

	notice := byKind(outs, model.KindRfqQuotes)[0].Payload.(model.RfqQuotesNotice)
	assert.Empty(t, notice.Quotes, "empty ranking goes to the taker")

	noTrade := byKind(outs, model.KindRfqNoTrade)
	assert.ElementsMatch(t, []string{"inbox.A", "inbox.B"}, subjects(noTrade))

	assert.Zero(t, f.v.ActiveRfqCount(), "no acceptance window when there is nothing to accept")
	assert.Empty(t, f.sched.fire(0), "stale timer re-fire is a no-op")
}

func TestRfq_AcceptanceTimeout(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B")
	f.quote(t, "A", 1, 100.9)
	f.quote(t, "B", 1, 100.8)

	outs := f.sched.fire(1) // acceptance deadline

	noTrade := byKind(outs, model.KindRfqNoTrade)
	assert.ElementsMatch(t, []string{"inbox.A", "inbox.B", "inbox.T"}, subjects(noTrade),
		"providers cannot tell a timeout from a decline; the taker is told no-trade")
	assert.Zero(t, f.v.ActiveRfqCount())

	assert.Empty(t, f.sched.fire(1), "stale acceptance timer is a no-op")
}

func TestRfq_AcceptCancelsAcceptanceTimer(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A")
	f.quote(t, "A", 1, 100.9)
	f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 1, Provider: "A"}, "reply.T")

	assert.True(t, f.sched.timers[1].cancelled)
	assert.Empty(t, f.sched.fire(1), "no duplicate notifications after resolution")
}

// --- Concurrent RFQs ---

func TestRfqs_IndependentLifecycles(t *testing.T) {
	f := rfqFixture(t)
	f.startRfq(t, "T", 10_000_000, "A", "B")
	f.startRfq(t, "T", -5_000_000, "B", "C")

	f.quote(t, "B", 2, 100.2)

	// Timing out RFQ 1 must not touch RFQ 2.
	f.sched.fire(0)
	assert.Equal(t, 1, f.v.ActiveRfqCount())

	f.quote(t, "C", 2, 100.4)
	outs := f.send(t, model.KindRfqAccept, ident("T"), model.RfqAcceptRequest{RfqID: 2, Provider: "C"}, "reply.T")
	assert.True(t, byKind(outs, model.KindRfqAccept)[0].Payload.(model.TradeConfirm).OK)
	assert.Zero(t, f.v.ActiveRfqCount())
}

// --- Strict validation ---

func TestStrict_UnsolicitedQuoteRejected(t *testing.T) {
	f := rfqFixture(t, func(c *Config) { c.Strict = true })
	f.startRfq(t, "T", 10_000_000, "A")

	assert.Empty(t, f.quote(t, "B", 1, 99.0))
	outs := f.quote(t, "A", 1, 100.9) // full coverage: only A was asked

	notice := byKind(outs, model.KindRfqQuotes)[0].Payload.(model.RfqQuotesNotice)
	require.Len(t, notice.Quotes, 1)
	assert.Equal(t, "A", notice.Quotes[0].Provider)
}

func TestStrict_ForeignTakerCannotAccept(t *testing.T) {
	f := rfqFixture(t, func(c *Config) { c.Strict = true })
	f.registerTaker(t, "T2")
	f.startRfq(t, "T", 10_000_000, "A")
	f.quote(t, "A", 1, 100.9)

	outs := f.send(t, model.KindRfqAccept, ident("T2"), model.RfqAcceptRequest{RfqID: 1, Provider: "A"}, "reply.T2")
	assert.False(t, outs[0].Payload.(model.TradeConfirm).OK)
	assert.Equal(t, 1, f.v.ActiveRfqCount())
}

// --- Staleness sweep ---

func TestSweep_ExpiresOldIndications(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IndicationTTL = 10 * time.Second })
	f.registerProvider(t, "A")
	f.submit(t, "A", 100, 100.4)

	f.clock = f.clock.Add(15 * time.Second)
	f.v.OnSweep()

	outs := f.send(t, model.KindGetComposites, ident("x"), nil, "reply.x")
	assert.Empty(t, outs[0].Payload.(model.CompositesReply).ByAsset)
}

func TestSweep_DisabledByDefault(t *testing.T) {
	f := newFixture(t)
	f.registerProvider(t, "A")
	f.submit(t, "A", 100, 100.4)

	f.clock = f.clock.Add(time.Hour)
	f.v.OnSweep()

	outs := f.send(t, model.KindGetComposites, ident("x"), nil, "reply.x")
	assert.Len(t, outs[0].Payload.(model.CompositesReply).ByAsset, 1,
		"no automatic expiry unless a TTL is configured")
}

// --- Protocol misuse ---

func TestUnknownKind_NotUnderstood(t *testing.T) {
	f := newFixture(t)
	outs := f.send(t, "MAKE_ME_RICH", ident("x"), nil, "reply.x")
	require.Len(t, outs, 1)
	assert.Equal(t, model.KindNotUnderstood, outs[0].Kind)
	assert.Equal(t, "MAKE_ME_RICH", outs[0].Payload.(model.NotUnderstood).Kind)
}

func TestUnknownKind_NoReplySubjectStaysSilent(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, f.send(t, "MAKE_ME_RICH", ident("x"), nil, ""))
}
