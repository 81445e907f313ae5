package dealer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/dealer/internal/feed"
	"github.com/Checker-Finance/bond-venue/dealer/internal/quoting"
	"github.com/Checker-Finance/bond-venue/internal/agent"
	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// Config carries the dealer's market-making knobs.
type Config struct {
	Name               string
	VenueName          string
	IndicationInterval time.Duration
	// WalkVol is the per-tick random walk step applied to mids when no
	// external feed is wired, in price points.
	WalkVol float64
}

// Dealer is a market-making agent: it keeps indicative prices flowing to the
// venue, answers RFQ solicitations with firm quotes and reports its fills to
// clearing.
type Dealer struct {
	cfg    Config
	conn   *agent.Conn
	logger *zap.Logger
	quoter *quoting.Quoter
	book   *book

	mu           sync.RWMutex
	venueSubject string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a dealer over an established agent connection.
func New(cfg Config, conn *agent.Conn, quoter *quoting.Quoter, logger *zap.Logger) *Dealer {
	return &Dealer{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		quoter: quoter,
		book:   newBook(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SeedMids initializes the quoter's view for the tradable universe.
func (d *Dealer) SeedMids(assets []string, mid float64) {
	for _, asset := range assets {
		d.quoter.SetMid(asset, mid)
	}
}

// OnTick feeds an external mid-price update into the quoter. Wired as a
// feed.Client handler when a feed URL is configured.
func (d *Dealer) OnTick(tick feed.Tick) {
	d.quoter.SetMid(tick.Asset, tick.Mid)
}

// Start joins the venue and runs the indication loop until ctx is done.
// The venue's command subject is discovered through the directory.
func (d *Dealer) Start(ctx context.Context) error {
	entry, err := d.conn.WaitForEntry(ctx, model.EntryTypeBondVenue, d.cfg.VenueName, 2*time.Second)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.venueSubject = entry.Subject
	d.mu.Unlock()

	if err := d.conn.Subscribe(d.handleEnvelope); err != nil {
		return err
	}

	registerCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	reply, err := d.conn.Request(registerCtx, entry.Subject, model.KindRegisterProvider,
		model.RegisterRequest{Name: d.cfg.Name})
	if err != nil {
		return err
	}
	var ack model.Ack
	if err := reply.Decode(&ack); err != nil || !ack.OK {
		d.logger.Warn("dealer.venue_registration_rejected", zap.String("venue", d.cfg.VenueName))
	}
	d.logger.Info("dealer.joined_venue",
		zap.String("venue", d.cfg.VenueName),
		zap.String("subject", entry.Subject),
	)

	ticker := time.NewTicker(d.cfg.IndicationInterval)
	defer ticker.Stop()
	d.submitIndications(ctx)

	for {
		select {
		case <-ctx.Done():
			d.leave()
			return ctx.Err()
		case <-ticker.C:
			d.driftMids()
			d.submitIndications(ctx)
		}
	}
}

// driftMids applies a small random walk so standalone runs still show moving
// composites. A wired feed overwrites these on every tick.
func (d *Dealer) driftMids() {
	if d.cfg.WalkVol <= 0 {
		return
	}
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	for _, asset := range d.quoter.Assets() {
		mid, _ := d.quoter.Mid(asset)
		d.quoter.SetMid(asset, mid+(d.rng.Float64()*2-1)*d.cfg.WalkVol)
	}
}

func (d *Dealer) submitIndications(ctx context.Context) {
	assets := d.quoter.Assets()
	indications := make([]model.Indication, 0, len(assets))
	for _, asset := range assets {
		if ind, ok := d.quoter.Indication(asset, d.book.position(asset)); ok {
			indications = append(indications, ind)
		}
	}
	if len(indications) == 0 {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := d.conn.Request(reqCtx, d.venue(), model.KindSubmitIndic,
		model.SubmitIndications{Indications: indications}); err != nil {
		d.logger.Warn("dealer.indications_failed", zap.Error(err))
	}
}

func (d *Dealer) venue() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.venueSubject
}

func (d *Dealer) handleEnvelope(env model.Envelope, _ *nats.Msg) {
	switch env.Kind {
	case model.KindRfqQuoteFor:
		d.onQuoteFor(env)
	case model.KindRfqAccepted:
		d.onAccepted(env)
	case model.KindRfqNearMiss:
		d.logger.Info("dealer.rfq_near_miss")
	case model.KindRfqNoTrade:
		d.logger.Debug("dealer.rfq_no_trade")
	case model.KindProviderJoined, model.KindProviderLeft:
		var notice model.PeerNotice
		_ = env.Decode(&notice)
		d.logger.Debug("dealer.peer_notice",
			zap.String("kind", env.Kind),
			zap.String("provider", notice.Provider),
		)
	default:
		d.logger.Debug("dealer.ignored_message", zap.String("kind", env.Kind))
	}
}

func (d *Dealer) onQuoteFor(env model.Envelope) {
	var req model.RfqQuoteRequest
	if err := env.Decode(&req); err != nil {
		d.logger.Warn("dealer.bad_quote_request", zap.Error(err))
		return
	}

	price, ok := d.quoter.FirmQuote(req.Asset, req.Side, d.book.position(req.Asset))
	if !ok {
		// Solicited on an asset the desk stopped pricing; let it time out.
		d.logger.Warn("dealer.no_price_for_solicitation", zap.String("asset", req.Asset))
		return
	}

	if err := d.conn.Publish(d.venue(), model.KindRfqQuote, model.FirmQuote{
		RfqID: req.RfqID,
		Price: price,
	}); err != nil {
		d.logger.Warn("dealer.quote_send_failed", zap.Uint64("rfq_id", req.RfqID), zap.Error(err))
		return
	}
	d.logger.Info("dealer.quoted",
		zap.Uint64("rfq_id", req.RfqID),
		zap.String("asset", req.Asset),
		zap.Float64("price", price),
	)
}

// onAccepted books the fill and reports the dealer's side of the trade to
// clearing. The outcome's size is signed from the taker's perspective, so
// the dealer's fill is its negation.
func (d *Dealer) onAccepted(env model.Envelope) {
	var outcome model.RfqOutcome
	if err := env.Decode(&outcome); err != nil {
		d.logger.Warn("dealer.bad_outcome", zap.Error(err))
		return
	}

	fill := -outcome.Size
	position := d.book.apply(outcome.Asset, fill)
	d.logger.Info("dealer.traded",
		zap.Uint64("rfq_id", outcome.RfqID),
		zap.String("asset", outcome.Asset),
		zap.Float64("size", fill),
		zap.Float64("price", outcome.Price),
		zap.Float64("position", position),
	)

	report := model.TradeReport{
		Token:    d.conn.Token(),
		RfqID:    outcome.RfqID,
		Venue:    d.cfg.VenueName,
		Reporter: d.cfg.Name,
		Taker:    outcome.With,
		Provider: d.cfg.Name,
		Asset:    outcome.Asset,
		Side:     outcome.Side,
		Size:     decimal.NewFromFloat(fill),
		Price:    decimal.NewFromFloat(outcome.Price),
		TradedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.conn.RecordTrade(ctx, report); err != nil {
		d.logger.Error("dealer.trade_report_failed",
			zap.Uint64("rfq_id", outcome.RfqID),
			zap.Error(err),
		)
	}
}

// leave withdraws from the venue on shutdown. Best effort.
func (d *Dealer) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.conn.Request(ctx, d.venue(), model.KindUnregisterProvider,
		model.RegisterRequest{Name: d.cfg.Name}); err != nil {
		d.logger.Warn("dealer.venue_unregister_failed", zap.Error(err))
	}
}
