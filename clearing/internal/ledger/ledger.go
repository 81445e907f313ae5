package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// TradeRecordedEvent fires on the event bus when a report is accepted into
// the ledger. Duplicate reports do not fire it.
type TradeRecordedEvent struct {
	Report model.TradeReport
}

// Ledger persists counterparty trade reports and aggregates them into risk
// positions. Both sides of a trade report independently; the ledger keys on
// (venue, rfq id, reporter) so a retransmitted report lands exactly once.
//
// TradeReport.Size is signed from the reporter's perspective: positive means
// the reporter bought, negative means it sold.
type Ledger interface {
	RecordTrade(ctx context.Context, report model.TradeReport) (bool, error)
	Risk(ctx context.Context, agent string) ([]model.RiskPosition, error)
	TradeCount(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

type tradeKey struct {
	venue    string
	rfqID    uint64
	reporter string
}

// MemoryLedger keeps the book in process memory. The default when no
// database is configured, and the implementation the tests run against.
type MemoryLedger struct {
	mu     sync.RWMutex
	trades map[tradeKey]model.TradeReport
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{trades: make(map[tradeKey]model.TradeReport)}
}

func (l *MemoryLedger) RecordTrade(_ context.Context, report model.TradeReport) (bool, error) {
	if err := validate(report); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := tradeKey{venue: report.Venue, rfqID: report.RfqID, reporter: report.Reporter}
	if _, dup := l.trades[key]; dup {
		return false, nil
	}
	l.trades[key] = report
	return true, nil
}

func (l *MemoryLedger) Risk(_ context.Context, agent string) ([]model.RiskPosition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	position := make(map[string]decimal.Decimal)
	notional := make(map[string]decimal.Decimal)
	for _, trade := range l.trades {
		if trade.Reporter != agent {
			continue
		}
		position[trade.Asset] = position[trade.Asset].Add(trade.Size)
		notional[trade.Asset] = notional[trade.Asset].Add(trade.Size.Mul(trade.Price))
	}

	out := make([]model.RiskPosition, 0, len(position))
	for asset, pos := range position {
		out = append(out, model.RiskPosition{
			Asset:    asset,
			Position: pos,
			Notional: notional[asset],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (l *MemoryLedger) TradeCount(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades), nil
}

func (l *MemoryLedger) HealthCheck(_ context.Context) error { return nil }

func (l *MemoryLedger) Close() error { return nil }

// validate rejects reports the ledger could never aggregate meaningfully.
func validate(report model.TradeReport) error {
	if report.Reporter == "" {
		return fmt.Errorf("trade report missing reporter")
	}
	if report.Asset == "" {
		return fmt.Errorf("trade report missing asset")
	}
	if report.Size.IsZero() {
		return fmt.Errorf("trade report has zero size")
	}
	return nil
}
