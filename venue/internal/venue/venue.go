package venue

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/pkg/eventbus"
	"github.com/Checker-Finance/bond-venue/pkg/model"
	"github.com/Checker-Finance/bond-venue/venue/internal/metrics"
	"github.com/Checker-Finance/bond-venue/venue/internal/pricing"
	"github.com/Checker-Finance/bond-venue/venue/internal/registry"
	"github.com/Checker-Finance/bond-venue/venue/internal/rfq"
)

// Outbound is one message the facade wants sent: a direct reply when
// Subject is the requester's reply subject, a notification otherwise.
// Sends are fire-and-forget; only replies close a request/reply round trip.
type Outbound struct {
	Subject string
	Kind    string
	Payload any
}

// Scheduler arms a deadline. The task runs on the venue's serial event loop
// and returns the outbounds the transition produced; cancel disarms it.
type Scheduler interface {
	Schedule(d time.Duration, task func() []Outbound) (cancel func())
}

// Config carries the venue's protocol timing and validation knobs.
type Config struct {
	Name          string
	SolicitWindow time.Duration // time allowed for providers to firm-quote
	AcceptWindow  time.Duration // time allowed for the taker to accept/decline
	IndicationTTL time.Duration // 0 disables automatic indication expiry
	Strict        bool          // reject out-of-protocol messages instead of trusting agents
}

type activeRfq struct {
	*rfq.Rfq
	cancelSolicit func()
	cancelAccept  func()
}

// Venue is the single entry point for inbound protocol messages. It owns
// the registry, the pricing engine and the in-flight RFQ table, and is only
// ever driven from one goroutine: every handler returns the outbound
// messages to send instead of blocking on the wire.
type Venue struct {
	cfg    Config
	logger *zap.Logger
	bus    *eventbus.EventBus
	sched  Scheduler
	now    func() time.Time

	reg     *registry.Registry
	pricing *pricing.Engine
	rfqs    map[uint64]*activeRfq
	lastID  uint64
}

// New creates a venue facade.
func New(cfg Config, logger *zap.Logger, bus *eventbus.EventBus, sched Scheduler) *Venue {
	return NewWithClock(cfg, logger, bus, sched, time.Now)
}

// NewWithClock creates a venue facade with an injectable clock.
func NewWithClock(cfg Config, logger *zap.Logger, bus *eventbus.EventBus, sched Scheduler, now func() time.Time) *Venue {
	return &Venue{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		sched:   sched,
		now:     now,
		reg:     registry.New(),
		pricing: pricing.NewWithClock(now),
		rfqs:    make(map[uint64]*activeRfq),
	}
}

// HandleEnvelope dispatches one inbound message and returns the outbounds
// it produced. One case per message kind; an unrecognized kind is answered
// NOT_UNDERSTOOD rather than silently ignored, except on the deliberate
// unknown-sender drop paths.
func (v *Venue) HandleEnvelope(env model.Envelope, replyTo string) []Outbound {
	switch env.Kind {
	case model.KindRegisterProvider:
		return v.registerProvider(env, replyTo)
	case model.KindUnregisterProvider:
		return v.unregisterProvider(env, replyTo)
	case model.KindGetProviders:
		return v.getProviders(replyTo)
	case model.KindRegisterTaker:
		return v.registerTaker(env, replyTo)
	case model.KindUnregisterTaker:
		return v.unregisterTaker(env, replyTo)
	case model.KindSubmitIndic:
		return v.submitIndications(env, replyTo)
	case model.KindGetComposites:
		return v.getComposites(replyTo)
	case model.KindRfqStart:
		return v.rfqStart(env, replyTo)
	case model.KindRfqQuote:
		return v.rfqQuote(env)
	case model.KindRfqAccept:
		return v.rfqAccept(env, replyTo)
	case model.KindRfqDecline:
		return v.rfqDecline(env, replyTo)
	default:
		metrics.MarkMessage(env.Kind, "rejected")
		if replyTo == "" {
			return nil
		}
		return []Outbound{{
			Subject: replyTo,
			Kind:    model.KindNotUnderstood,
			Payload: model.NotUnderstood{Kind: env.Kind},
		}}
	}
}

// LIFETIME PROTOCOL

func (v *Venue) registerProvider(env model.Envelope, replyTo string) []Outbound {
	var req model.RegisterRequest
	if err := env.Decode(&req); err != nil || req.Name == "" {
		req.Name = env.Sender.Name
	}

	v.reg.RegisterProvider(req.Name, env.Sender.Inbox)
	v.logger.Info("venue.provider_registered",
		zap.String("provider", req.Name),
		zap.String("inbox", env.Sender.Inbox),
	)
	metrics.MarkMessage(env.Kind, "ok")
	metrics.Participants.WithLabelValues("provider").Set(float64(len(v.reg.Providers())))

	outs := []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: true}}}
	notice := model.PeerNotice{Provider: req.Name}
	for _, peer := range v.reg.ProviderPeers(req.Name) {
		outs = append(outs, Outbound{Subject: peer.Inbox, Kind: model.KindProviderJoined, Payload: notice})
	}
	for _, taker := range v.reg.Takers() {
		outs = append(outs, Outbound{Subject: taker.Inbox, Kind: model.KindProviderJoined, Payload: notice})
	}
	return outs
}

func (v *Venue) unregisterProvider(env model.Envelope, replyTo string) []Outbound {
	var req model.RegisterRequest
	if err := env.Decode(&req); err != nil || req.Name == "" {
		req.Name = env.Sender.Name
	}

	if !v.reg.UnregisterProvider(req.Name) {
		// Unknown name: noop, no broadcast, no reply.
		metrics.MarkMessage(env.Kind, "dropped")
		return nil
	}

	v.logger.Info("venue.provider_unregistered", zap.String("provider", req.Name))
	metrics.MarkMessage(env.Kind, "ok")
	metrics.Participants.WithLabelValues("provider").Set(float64(len(v.reg.Providers())))

	outs := []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: true}}}
	notice := model.PeerNotice{Provider: req.Name}
	for _, peer := range v.reg.ProviderPeers(req.Name) {
		outs = append(outs, Outbound{Subject: peer.Inbox, Kind: model.KindProviderLeft, Payload: notice})
	}
	for _, taker := range v.reg.Takers() {
		outs = append(outs, Outbound{Subject: taker.Inbox, Kind: model.KindProviderLeft, Payload: notice})
	}

	// Withdraw the provider's indications so no composite goes stale.
	v.publishCompositeEvents(v.pricing.RemoveProvider(req.Name))
	return outs
}

func (v *Venue) getProviders(replyTo string) []Outbound {
	return []Outbound{{
		Subject: replyTo,
		Kind:    model.KindGetProviders,
		Payload: model.ProvidersReply{Providers: v.reg.Providers()},
	}}
}

func (v *Venue) registerTaker(env model.Envelope, replyTo string) []Outbound {
	var req model.RegisterRequest
	if err := env.Decode(&req); err != nil || req.Name == "" {
		req.Name = env.Sender.Name
	}
	v.reg.RegisterTaker(req.Name, env.Sender.Inbox)
	metrics.MarkMessage(env.Kind, "ok")
	metrics.Participants.WithLabelValues("taker").Set(float64(len(v.reg.Takers())))
	return []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: true}}}
}

func (v *Venue) unregisterTaker(env model.Envelope, replyTo string) []Outbound {
	var req model.RegisterRequest
	if err := env.Decode(&req); err != nil || req.Name == "" {
		req.Name = env.Sender.Name
	}
	v.reg.UnregisterTaker(req.Name)
	metrics.MarkMessage(env.Kind, "ok")
	metrics.Participants.WithLabelValues("taker").Set(float64(len(v.reg.Takers())))
	return []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: true}}}
}

// COMPOSITE PROTOCOL

func (v *Venue) submitIndications(env model.Envelope, replyTo string) []Outbound {
	provider, ok := v.reg.ProviderByInbox(env.Sender.Inbox)
	if !ok {
		// Don't reward unknown senders with a reply; that would leak
		// registry state to unauthenticated callers.
		metrics.MarkMessage(env.Kind, "dropped")
		return nil
	}

	var req model.SubmitIndications
	if err := env.Decode(&req); err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		return []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: false, Reason: "bad payload"}}}
	}

	v.publishCompositeEvents(v.pricing.Submit(provider, req.Indications))
	metrics.MarkMessage(env.Kind, "ok")
	metrics.CompositeAssets.Set(float64(v.pricing.AssetCount()))
	return []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: true}}}
}

func (v *Venue) getComposites(replyTo string) []Outbound {
	return []Outbound{{
		Subject: replyTo,
		Kind:    model.KindGetComposites,
		Payload: model.CompositesReply{ByAsset: v.pricing.Composites()},
	}}
}

func (v *Venue) publishCompositeEvents(assets []string) {
	for _, asset := range assets {
		if quote, ok := v.pricing.CompositeFor(asset); ok {
			v.bus.Publish(CompositeUpdated{Asset: asset, Quote: quote})
		} else {
			v.bus.Publish(CompositeRemoved{Asset: asset})
		}
	}
}

// RFQ PROTOCOL

func (v *Venue) rfqStart(env model.Envelope, replyTo string) []Outbound {
	taker, ok := v.reg.TakerByInbox(env.Sender.Inbox)
	if !ok {
		metrics.MarkMessage(env.Kind, "dropped")
		return nil
	}

	var req model.RfqStartRequest
	if err := env.Decode(&req); err != nil {
		return v.rejectRfqStart(replyTo, "bad payload")
	}
	if len(req.Providers) == 0 {
		return v.rejectRfqStart(replyTo, "empty provider set")
	}
	for _, p := range req.Providers {
		if !v.reg.HasProvider(p) {
			return v.rejectRfqStart(replyTo, fmt.Sprintf("unknown provider %q", p))
		}
		if !v.pricing.HasIndication(p, req.Asset) {
			// Providers may only firm-quote assets they have shown
			// interest in.
			return v.rejectRfqStart(replyTo, fmt.Sprintf("provider %q has no indication for %q", p, req.Asset))
		}
	}

	v.lastID++
	id := v.lastID
	started := v.now()
	active := &activeRfq{
		Rfq: rfq.New(id, model.Identity{Name: taker, Inbox: env.Sender.Inbox},
			req.Asset, req.Size, req.Providers, started, started.Add(v.cfg.SolicitWindow)),
	}
	active.cancelSolicit = v.sched.Schedule(v.cfg.SolicitWindow, func() []Outbound {
		return v.onSolicitDeadline(id)
	})
	v.rfqs[id] = active

	v.logger.Info("venue.rfq.started",
		zap.Uint64("rfq_id", id),
		zap.String("taker", taker),
		zap.String("asset", req.Asset),
		zap.Float64("size", req.Size),
		zap.Strings("providers", req.Providers),
	)
	metrics.MarkMessage(env.Kind, "ok")
	metrics.ActiveRFQs.Set(float64(len(v.rfqs)))
	v.bus.Publish(RfqStarted{ID: id, Taker: taker, Asset: req.Asset, Size: req.Size, Providers: active.Solicited()})

	quoteReq := model.RfqQuoteRequest{RfqID: id, Asset: req.Asset, Size: req.Size, Side: active.Side()}
	outs := make([]Outbound, 0, len(req.Providers)+1)
	for _, p := range req.Providers {
		inbox, _ := v.reg.ProviderInbox(p)
		outs = append(outs, Outbound{Subject: inbox, Kind: model.KindRfqQuoteFor, Payload: quoteReq})
	}
	outs = append(outs, Outbound{Subject: replyTo, Kind: env.Kind, Payload: model.RfqStartReply{OK: true, RfqID: id}})
	return outs
}

func (v *Venue) rejectRfqStart(replyTo, reason string) []Outbound {
	metrics.MarkMessage(model.KindRfqStart, "rejected")
	return []Outbound{{
		Subject: replyTo,
		Kind:    model.KindRfqStart,
		Payload: model.RfqStartReply{OK: false, Reason: reason},
	}}
}

func (v *Venue) rfqQuote(env model.Envelope) []Outbound {
	provider, ok := v.reg.ProviderByInbox(env.Sender.Inbox)
	if !ok {
		metrics.MarkMessage(env.Kind, "dropped")
		return nil
	}

	var quote model.FirmQuote
	if err := env.Decode(&quote); err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		return nil
	}

	active, ok := v.rfqs[quote.RfqID]
	if !ok || active.State() != rfq.Soliciting {
		// Late or misdirected quote: no state change, no broadcast.
		v.logger.Debug("venue.rfq.late_quote",
			zap.Uint64("rfq_id", quote.RfqID),
			zap.String("provider", provider),
		)
		metrics.MarkMessage(env.Kind, "rejected")
		return nil
	}
	if v.cfg.Strict && !active.IsSolicited(provider) {
		metrics.MarkMessage(env.Kind, "rejected")
		return nil
	}

	active.RecordQuote(provider, quote.Price)
	metrics.MarkMessage(env.Kind, "ok")

	if active.FullCoverage() {
		return v.closeQuotes(active)
	}
	return nil
}

// closeQuotes transitions an RFQ out of Soliciting: the ranking goes to the
// taker and, unless there is nothing to accept, the acceptance window opens.
func (v *Venue) closeQuotes(active *activeRfq) []Outbound {
	if active.cancelSolicit != nil {
		active.cancelSolicit()
	}
	active.CloseQuotes()

	ranking := active.Ranking()
	v.logger.Info("venue.rfq.quotes_closed",
		zap.Uint64("rfq_id", active.ID),
		zap.Int("quotes", len(ranking)),
	)
	v.bus.Publish(RfqQuotesClosed{ID: active.ID, Quotes: len(ranking)})

	outs := []Outbound{{
		Subject: active.Taker.Inbox,
		Kind:    model.KindRfqQuotes,
		Payload: model.RfqQuotesNotice{
			RfqID:  active.ID,
			Asset:  active.Asset,
			Size:   active.Size,
			Side:   active.Side(),
			Quotes: ranking,
		},
	}}

	if len(ranking) == 0 {
		// Nobody answered: nothing to accept, straight to no-trade.
		active.TimeOut()
		outs = append(outs, v.noTradeNotices(active, nil)...)
		v.retire(active, "no_quotes", "", 0)
		return outs
	}

	id := active.ID
	active.cancelAccept = v.sched.Schedule(v.cfg.AcceptWindow, func() []Outbound {
		return v.onAcceptDeadline(id)
	})
	return outs
}

func (v *Venue) rfqAccept(env model.Envelope, replyTo string) []Outbound {
	taker, ok := v.reg.TakerByInbox(env.Sender.Inbox)
	if !ok {
		metrics.MarkMessage(env.Kind, "dropped")
		return nil
	}

	var req model.RfqAcceptRequest
	if err := env.Decode(&req); err != nil {
		return v.rejectAccept(replyTo, "bad payload")
	}

	active, ok := v.rfqs[req.RfqID]
	if !ok {
		return v.rejectAccept(replyTo, "unknown or completed rfq")
	}
	if active.State() != rfq.QuotesClosed {
		return v.rejectAccept(replyTo, "rfq not awaiting acceptance")
	}
	if v.cfg.Strict && taker != active.Taker.Name {
		return v.rejectAccept(replyTo, "not the initiating taker")
	}
	best, _ := active.Best()
	if req.Provider != best.Provider {
		// Only the top-ranked quote may be accepted.
		return v.rejectAccept(replyTo, fmt.Sprintf("%q is not the best-ranked quote", req.Provider))
	}

	if active.cancelAccept != nil {
		active.cancelAccept()
	}
	active.Resolve()

	outs := v.settlementNotices(active, best)
	outs = append(outs, Outbound{
		Subject: replyTo,
		Kind:    model.KindRfqAccept,
		Payload: model.TradeConfirm{
			OK:       true,
			RfqID:    active.ID,
			Provider: best.Provider,
			Taker:    active.Taker.Name,
			Asset:    active.Asset,
			Size:     active.Size,
			Price:    best.Price,
			Side:     active.Side(),
		},
	})

	v.logger.Info("venue.rfq.traded",
		zap.Uint64("rfq_id", active.ID),
		zap.String("winner", best.Provider),
		zap.Float64("price", best.Price),
	)
	metrics.MarkMessage(env.Kind, "ok")
	v.retire(active, "traded", best.Provider, best.Price)
	return outs
}

func (v *Venue) rejectAccept(replyTo, reason string) []Outbound {
	metrics.MarkMessage(model.KindRfqAccept, "rejected")
	return []Outbound{{
		Subject: replyTo,
		Kind:    model.KindRfqAccept,
		Payload: model.TradeConfirm{OK: false, Reason: reason},
	}}
}

func (v *Venue) rfqDecline(env model.Envelope, replyTo string) []Outbound {
	taker, ok := v.reg.TakerByInbox(env.Sender.Inbox)
	if !ok {
		metrics.MarkMessage(env.Kind, "dropped")
		return nil
	}

	var req model.RfqDeclineRequest
	if err := env.Decode(&req); err != nil {
		metrics.MarkMessage(env.Kind, "rejected")
		return []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: false, Reason: "bad payload"}}}
	}

	active, ok := v.rfqs[req.RfqID]
	if !ok || active.State() != rfq.QuotesClosed {
		metrics.MarkMessage(env.Kind, "rejected")
		return []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: false, Reason: "unknown or completed rfq"}}}
	}
	if v.cfg.Strict && taker != active.Taker.Name {
		metrics.MarkMessage(env.Kind, "rejected")
		return []Outbound{{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: false, Reason: "not the initiating taker"}}}
	}

	if active.cancelAccept != nil {
		active.cancelAccept()
	}
	active.Resolve()

	outs := v.noTradeNotices(active, nil)
	outs = append(outs, Outbound{Subject: replyTo, Kind: env.Kind, Payload: model.Ack{OK: true}})

	metrics.MarkMessage(env.Kind, "ok")
	v.retire(active, "declined", "", 0)
	return outs
}

// TIMERS

func (v *Venue) onSolicitDeadline(id uint64) []Outbound {
	active, ok := v.rfqs[id]
	if !ok || active.State() != rfq.Soliciting {
		// Stale timer against a retired or closed RFQ.
		return nil
	}
	v.logger.Info("venue.rfq.solicit_window_elapsed", zap.Uint64("rfq_id", id))
	return v.closeQuotes(active)
}

func (v *Venue) onAcceptDeadline(id uint64) []Outbound {
	active, ok := v.rfqs[id]
	if !ok || active.State() != rfq.QuotesClosed {
		return nil
	}
	active.TimeOut()
	v.logger.Info("venue.rfq.acceptance_window_elapsed", zap.Uint64("rfq_id", id))

	// Providers see exactly what a decline looks like; the taker is told
	// there was no trade but gets no confirmation payload.
	outs := v.noTradeNotices(active, nil)
	outs = append(outs, Outbound{
		Subject: active.Taker.Inbox,
		Kind:    model.KindRfqNoTrade,
		Payload: model.RfqOutcome{RfqID: active.ID, Asset: active.Asset},
	})
	v.retire(active, "timed_out", "", 0)
	return outs
}

// OnSweep expires stale indications when a TTL is configured. Driven by the
// serial loop's periodic sweep event, never concurrently with dispatch.
func (v *Venue) OnSweep() []Outbound {
	if v.cfg.IndicationTTL <= 0 {
		return nil
	}
	expired := v.pricing.ExpireOlderThan(v.now().Add(-v.cfg.IndicationTTL))
	if len(expired) > 0 {
		v.logger.Info("venue.indications_expired", zap.Strings("assets", expired))
		v.publishCompositeEvents(expired)
		metrics.CompositeAssets.Set(float64(v.pricing.AssetCount()))
	}
	return nil
}

// SETTLEMENT FAN-OUT

// settlementNotices builds the accepted/near-miss/no-trade fan-out: the
// winner trades, the second-best is told it was a near miss, everyone else
// solicited gets no-trade.
func (v *Venue) settlementNotices(active *activeRfq, best model.RankedQuote) []Outbound {
	second, hasSecond := active.SecondBest()

	outs := make([]Outbound, 0, len(active.Solicited()))
	winnerInbox, _ := v.reg.ProviderInbox(best.Provider)
	outs = append(outs, Outbound{
		Subject: winnerInbox,
		Kind:    model.KindRfqAccepted,
		Payload: model.RfqOutcome{
			RfqID: active.ID,
			Asset: active.Asset,
			Size:  active.Size,
			Price: best.Price,
			Side:  active.Side(),
			With:  active.Taker.Name,
		},
	})
	if hasSecond {
		inbox, _ := v.reg.ProviderInbox(second.Provider)
		outs = append(outs, Outbound{
			Subject: inbox,
			Kind:    model.KindRfqNearMiss,
			Payload: model.RfqOutcome{RfqID: active.ID, Asset: active.Asset},
		})
	}

	skip := map[string]bool{best.Provider: true}
	if hasSecond {
		skip[second.Provider] = true
	}
	outs = append(outs, v.noTradeNotices(active, skip)...)
	return outs
}

// noTradeNotices sends RFQ_NO_TRADE to every solicited provider not in skip.
func (v *Venue) noTradeNotices(active *activeRfq, skip map[string]bool) []Outbound {
	var outs []Outbound
	for _, p := range active.Solicited() {
		if skip[p] {
			continue
		}
		inbox, ok := v.reg.ProviderInbox(p)
		if !ok {
			// Provider unregistered mid-RFQ; nowhere to notify.
			continue
		}
		outs = append(outs, Outbound{
			Subject: inbox,
			Kind:    model.KindRfqNoTrade,
			Payload: model.RfqOutcome{RfqID: active.ID, Asset: active.Asset},
		})
	}
	return outs
}

// retire drops a terminal RFQ from the active set. Its id is never reused;
// any message referencing it from here on is an invalid-reference rejection.
func (v *Venue) retire(active *activeRfq, outcome, winner string, price float64) {
	if active.cancelSolicit != nil {
		active.cancelSolicit()
	}
	if active.cancelAccept != nil {
		active.cancelAccept()
	}
	delete(v.rfqs, active.ID)

	elapsed := v.now().Sub(active.StartedAt)
	metrics.RFQOutcomes.WithLabelValues(outcome).Inc()
	metrics.RFQDuration.Observe(elapsed.Seconds())
	metrics.ActiveRFQs.Set(float64(len(v.rfqs)))
	v.bus.Publish(RfqSettled{
		ID:       active.ID,
		Outcome:  outcome,
		Winner:   winner,
		Price:    price,
		Duration: elapsed,
	})
}

// ActiveRfqCount reports the number of in-flight RFQs, for health surfaces.
func (v *Venue) ActiveRfqCount() int { return len(v.rfqs) }
