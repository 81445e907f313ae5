package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectRiskRefreshed announces a completed risk summary rebuild.
const SubjectRiskRefreshed = "evt.clearing.risk_summary.refreshed.v1"

// DBExecutor is the minimal subset of pgxpool.Pool the refresher needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RiskRefresher periodically rebuilds the clearing.risk_summary materialized
// view, so risk dashboards query a pre-aggregated table rather than scanning
// the trade log. GET_RISK itself always reads the live trades; the summary
// is for reporting only.
type RiskRefresher struct {
	logger   *zap.Logger
	nc       *nats.Conn
	db       DBExecutor
	interval time.Duration
	stopCh   chan struct{}
}

// NewRiskRefresher constructs the background job.
func NewRiskRefresher(logger *zap.Logger, nc *nats.Conn, db DBExecutor, interval time.Duration) *RiskRefresher {
	return &RiskRefresher{
		logger:   logger,
		nc:       nc,
		db:       db,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the refresh loop until stopped.
func (r *RiskRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("risk_refresher.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("risk_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("risk_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the refresher.
func (r *RiskRefresher) Stop() {
	close(r.stopCh)
}

// runOnce executes one refresh cycle.
func (r *RiskRefresher) runOnce(ctx context.Context) {
	start := time.Now()

	_, err := r.db.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY clearing.risk_summary;`)
	if err != nil {
		r.logger.Error("risk_refresher.refresh_failed", zap.Error(err))
		return
	}

	event, err := json.Marshal(map[string]any{
		"event":       SubjectRiskRefreshed,
		"timestamp":   time.Now().UTC(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err == nil {
		if err := r.nc.Publish(SubjectRiskRefreshed, event); err != nil {
			r.logger.Warn("risk_refresher.nats_publish_failed", zap.Error(err))
		}
	}

	r.logger.Info("risk_refresher.success", zap.Duration("duration", time.Since(start)))
}
