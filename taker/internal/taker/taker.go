package taker

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/internal/agent"
	"github.com/Checker-Finance/bond-venue/internal/rate"
	"github.com/Checker-Finance/bond-venue/pkg/model"
	"github.com/Checker-Finance/bond-venue/taker/internal/strategy"
)

// Config carries the taker's trading knobs.
type Config struct {
	Name      string
	VenueName string
	// Pace bounds how often RFQs go out.
	Pace rate.Config
}

// pendingRfq is an RFQ we initiated and have not yet resolved.
type pendingRfq struct {
	asset string
	size  float64
	side  string
}

// Taker is a liquidity-taking agent: it watches the composite board, fires
// RFQs at a measured pace and lifts the best quote when it is close enough
// to composite.
type Taker struct {
	cfg      Config
	conn     *agent.Conn
	logger   *zap.Logger
	strategy *strategy.Strategy
	limiter  *rate.Limiter

	mu           sync.Mutex
	venueSubject string
	composites   map[string]model.CompositeQuote
	pending      map[uint64]pendingRfq
}

// New creates a taker over an established agent connection.
func New(cfg Config, conn *agent.Conn, strat *strategy.Strategy, logger *zap.Logger) *Taker {
	return &Taker{
		cfg:        cfg,
		conn:       conn,
		logger:     logger,
		strategy:   strat,
		limiter:    rate.New(cfg.Pace),
		composites: make(map[string]model.CompositeQuote),
		pending:    make(map[uint64]pendingRfq),
	}
}

// Start joins the venue and runs the trading loop until ctx is done.
func (t *Taker) Start(ctx context.Context) error {
	entry, err := t.conn.WaitForEntry(ctx, model.EntryTypeBondVenue, t.cfg.VenueName, 2*time.Second)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.venueSubject = entry.Subject
	t.mu.Unlock()

	if err := t.conn.Subscribe(t.handleEnvelope); err != nil {
		return err
	}

	registerCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := t.conn.Request(registerCtx, entry.Subject, model.KindRegisterTaker,
		model.RegisterRequest{Name: t.cfg.Name}); err != nil {
		return err
	}
	t.logger.Info("taker.joined_venue",
		zap.String("venue", t.cfg.VenueName),
		zap.String("subject", entry.Subject),
	)

	for {
		if err := t.limiter.Wait(ctx); err != nil {
			t.leave()
			return err
		}
		t.tryRfq(ctx)
	}
}

func (t *Taker) venue() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.venueSubject
}

// tryRfq runs one trading cycle: refresh the board, pick a target, fire.
func (t *Taker) tryRfq(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	providers, err := t.fetchProviders(cycleCtx)
	if err != nil {
		t.logger.Warn("taker.providers_fetch_failed", zap.Error(err))
		return
	}
	composites, err := t.fetchComposites(cycleCtx)
	if err != nil {
		t.logger.Warn("taker.composites_fetch_failed", zap.Error(err))
		return
	}
	if len(providers) == 0 || len(composites) == 0 {
		return
	}

	assets := make([]string, 0, len(composites))
	for asset := range composites {
		assets = append(assets, asset)
	}
	asset, ok := t.strategy.PickAsset(assets)
	if !ok {
		return
	}
	size := t.strategy.NextOrder()
	solicit := t.strategy.PickProviders(providers)

	reply, err := t.conn.Request(cycleCtx, t.venue(), model.KindRfqStart, model.RfqStartRequest{
		Asset:     asset,
		Size:      size,
		Side:      model.SideOf(size),
		Providers: solicit,
	})
	if err != nil {
		t.logger.Warn("taker.rfq_start_failed", zap.Error(err))
		return
	}
	var started model.RfqStartReply
	if err := reply.Decode(&started); err != nil {
		t.logger.Warn("taker.bad_rfq_start_reply", zap.Error(err))
		return
	}
	if !started.OK {
		// Usually a solicited provider without an indication yet.
		t.logger.Debug("taker.rfq_rejected", zap.String("reason", started.Reason))
		return
	}

	t.mu.Lock()
	t.pending[started.RfqID] = pendingRfq{asset: asset, size: size, side: model.SideOf(size)}
	t.mu.Unlock()

	t.logger.Info("taker.rfq_started",
		zap.Uint64("rfq_id", started.RfqID),
		zap.String("asset", asset),
		zap.Float64("size", size),
		zap.Strings("providers", solicit),
	)
}

func (t *Taker) fetchProviders(ctx context.Context) ([]string, error) {
	reply, err := t.conn.Request(ctx, t.venue(), model.KindGetProviders, nil)
	if err != nil {
		return nil, err
	}
	var pr model.ProvidersReply
	if err := reply.Decode(&pr); err != nil {
		return nil, err
	}
	return pr.Providers, nil
}

func (t *Taker) fetchComposites(ctx context.Context) (map[string]model.CompositeQuote, error) {
	reply, err := t.conn.Request(ctx, t.venue(), model.KindGetComposites, nil)
	if err != nil {
		return nil, err
	}
	var cr model.CompositesReply
	if err := reply.Decode(&cr); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.composites = cr.ByAsset
	t.mu.Unlock()
	return cr.ByAsset, nil
}

func (t *Taker) handleEnvelope(env model.Envelope, _ *nats.Msg) {
	switch env.Kind {
	case model.KindRfqQuotes:
		t.onQuotes(env)
	case model.KindRfqNoTrade:
		var outcome model.RfqOutcome
		if err := env.Decode(&outcome); err == nil {
			t.forget(outcome.RfqID)
			t.logger.Info("taker.rfq_no_trade", zap.Uint64("rfq_id", outcome.RfqID))
		}
	case model.KindProviderJoined, model.KindProviderLeft:
		// Provider churn; next cycle refetches the roster anyway.
	default:
		t.logger.Debug("taker.ignored_message", zap.String("kind", env.Kind))
	}
}

// onQuotes is the decision point: accept the best quote or decline.
func (t *Taker) onQuotes(env model.Envelope) {
	var notice model.RfqQuotesNotice
	if err := env.Decode(&notice); err != nil {
		t.logger.Warn("taker.bad_quotes_notice", zap.Error(err))
		return
	}

	t.mu.Lock()
	pending, known := t.pending[notice.RfqID]
	composite, hasComposite := t.composites[notice.Asset]
	t.mu.Unlock()
	if !known {
		t.logger.Warn("taker.quotes_for_unknown_rfq", zap.Uint64("rfq_id", notice.RfqID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if len(notice.Quotes) == 0 {
		// Nobody quoted; the venue has already closed the RFQ out.
		t.forget(notice.RfqID)
		t.logger.Info("taker.rfq_unquoted", zap.Uint64("rfq_id", notice.RfqID))
		return
	}

	best := notice.Quotes[0]
	if !t.strategy.Accept(pending.side, best, composite, hasComposite) {
		t.decline(ctx, notice.RfqID, best)
		return
	}

	reply, err := t.conn.Request(ctx, t.venue(), model.KindRfqAccept, model.RfqAcceptRequest{
		RfqID:    notice.RfqID,
		Provider: best.Provider,
	})
	if err != nil {
		t.logger.Warn("taker.accept_failed", zap.Uint64("rfq_id", notice.RfqID), zap.Error(err))
		return
	}
	var confirm model.TradeConfirm
	if err := reply.Decode(&confirm); err != nil || !confirm.OK {
		t.forget(notice.RfqID)
		t.logger.Warn("taker.accept_rejected",
			zap.Uint64("rfq_id", notice.RfqID),
			zap.String("reason", confirm.Reason),
		)
		return
	}

	t.forget(notice.RfqID)
	t.logger.Info("taker.traded",
		zap.Uint64("rfq_id", confirm.RfqID),
		zap.String("asset", confirm.Asset),
		zap.String("provider", confirm.Provider),
		zap.Float64("size", confirm.Size),
		zap.Float64("price", confirm.Price),
	)
	t.reportTrade(ctx, confirm)
}

func (t *Taker) decline(ctx context.Context, rfqID uint64, best model.RankedQuote) {
	if _, err := t.conn.Request(ctx, t.venue(), model.KindRfqDecline,
		model.RfqDeclineRequest{RfqID: rfqID}); err != nil {
		t.logger.Warn("taker.decline_failed", zap.Uint64("rfq_id", rfqID), zap.Error(err))
	}
	t.forget(rfqID)
	t.logger.Info("taker.declined",
		zap.Uint64("rfq_id", rfqID),
		zap.String("best_provider", best.Provider),
		zap.Float64("best_price", best.Price),
	)
}

// reportTrade sends the taker's side of the fill to clearing.
func (t *Taker) reportTrade(ctx context.Context, confirm model.TradeConfirm) {
	report := model.TradeReport{
		Token:    t.conn.Token(),
		RfqID:    confirm.RfqID,
		Venue:    t.cfg.VenueName,
		Reporter: t.cfg.Name,
		Taker:    t.cfg.Name,
		Provider: confirm.Provider,
		Asset:    confirm.Asset,
		Side:     confirm.Side,
		Size:     decimal.NewFromFloat(confirm.Size),
		Price:    decimal.NewFromFloat(confirm.Price),
		TradedAt: time.Now().UTC(),
	}
	if err := t.conn.RecordTrade(ctx, report); err != nil {
		t.logger.Error("taker.trade_report_failed",
			zap.Uint64("rfq_id", confirm.RfqID),
			zap.Error(err),
		)
	}
}

func (t *Taker) forget(rfqID uint64) {
	t.mu.Lock()
	delete(t.pending, rfqID)
	t.mu.Unlock()
}

// leave withdraws from the venue on shutdown. Best effort.
func (t *Taker) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := t.conn.Request(ctx, t.venue(), model.KindUnregisterTaker,
		model.RegisterRequest{Name: t.cfg.Name}); err != nil {
		t.logger.Warn("taker.venue_unregister_failed", zap.Error(err))
	}
}
