package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bond-venue/pkg/model"
)

// PostgresLedger persists the book in Postgres so positions survive a
// clearing restart. Schema lives under the clearing schema:
//
//	clearing.trade (venue, rfq_id, reporter) primary key
type PostgresLedger struct {
	pg     *pgxpool.Pool
	logger *zap.Logger
}

// PoolConfig tunes the pgx pool; zero fields keep pgx defaults.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewPostgres connects a ledger to Postgres.
func NewPostgres(ctx context.Context, url string, poolCfg PoolConfig, logger *zap.Logger) (*PostgresLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresLedger{pg: pool, logger: logger}, nil
}

// Pool exposes the underlying pool for background jobs sharing the database.
func (l *PostgresLedger) Pool() *pgxpool.Pool { return l.pg }

func (l *PostgresLedger) RecordTrade(ctx context.Context, report model.TradeReport) (bool, error) {
	if err := validate(report); err != nil {
		return false, err
	}

	tag, err := l.pg.Exec(ctx, `
		INSERT INTO clearing.trade (
			venue, rfq_id, reporter, taker, provider,
			asset, side, size, price, traded_at, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (venue, rfq_id, reporter) DO NOTHING;
	`, report.Venue, report.RfqID, report.Reporter, report.Taker, report.Provider,
		report.Asset, report.Side, report.Size, report.Price, report.TradedAt)
	if err != nil {
		l.logger.Error("ledger.pg.insert_trade_failed", zap.Error(err))
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (l *PostgresLedger) Risk(ctx context.Context, agent string) ([]model.RiskPosition, error) {
	rows, err := l.pg.Query(ctx, `
		SELECT asset, SUM(size)::text, SUM(size * price)::text
		FROM clearing.trade
		WHERE reporter = $1
		GROUP BY asset
		ORDER BY asset;
	`, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RiskPosition
	for rows.Next() {
		var asset, position, notional string
		if err := rows.Scan(&asset, &position, &notional); err != nil {
			return nil, err
		}
		pos, err := decimal.NewFromString(position)
		if err != nil {
			return nil, fmt.Errorf("corrupt position for %q: %w", asset, err)
		}
		ntl, err := decimal.NewFromString(notional)
		if err != nil {
			return nil, fmt.Errorf("corrupt notional for %q: %w", asset, err)
		}
		out = append(out, model.RiskPosition{Asset: asset, Position: pos, Notional: ntl})
	}
	return out, rows.Err()
}

func (l *PostgresLedger) TradeCount(ctx context.Context) (int, error) {
	var n int
	if err := l.pg.QueryRow(ctx, `SELECT COUNT(*) FROM clearing.trade;`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *PostgresLedger) HealthCheck(ctx context.Context) error {
	if err := l.pg.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Close() error {
	l.pg.Close()
	return nil
}
