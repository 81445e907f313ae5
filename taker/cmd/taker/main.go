package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/bond-venue/internal/agent"
	"github.com/Checker-Finance/bond-venue/internal/rate"
	"github.com/Checker-Finance/bond-venue/pkg/logger"
	"github.com/Checker-Finance/bond-venue/pkg/model"
	"github.com/Checker-Finance/bond-venue/taker/internal/strategy"
	"github.com/Checker-Finance/bond-venue/taker/internal/taker"
	"github.com/Checker-Finance/bond-venue/taker/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Infof("starting [taker] as %s...", cfg.TakerName)

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.ServiceName+"-"+cfg.TakerName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Clearing session + directory registration ---
	conn := agent.New(nc, logger.L(), cfg.TakerName, cfg.ClearingUser, cfg.ClearingPass, cfg.ClearingSubject)
	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := conn.Login(startupCtx); err != nil {
		cancel()
		logg.Fatalw("clearing login failed", "error", err)
	}
	if err := conn.RegisterWithDirectory(startupCtx, model.EntryTypeTaker,
		conn.Identity().Inbox, "liquidity taker", nil); err != nil {
		cancel()
		logg.Fatalw("directory registration failed", "error", err)
	}
	cancel()

	// --- Strategy + taker ---
	strat := strategy.New(strategy.Params{
		Tolerance:    cfg.Tolerance,
		MinSize:      cfg.MinSize,
		MaxSize:      cfg.MaxSize,
		MaxProviders: cfg.MaxProviders,
	}, time.Now().UnixNano())
	t := taker.New(taker.Config{
		Name:      cfg.TakerName,
		VenueName: cfg.VenueName,
		Pace: rate.Config{
			RequestsPerSecond: cfg.RfqPerSecond,
			Burst:             cfg.RfqBurst,
			Cooldown:          cfg.RfqCooldown,
		},
	}, conn, strat, logger.L())

	// --- Periodic risk snapshot from clearing ---
	if cfg.RiskLogInterval > 0 {
		go logRisk(ctx, conn, cfg.RiskLogInterval)
	}

	logg.Infow("[taker] running",
		"taker", cfg.TakerName,
		"venue", cfg.VenueName,
		"nats", cfg.NATSURL,
	)

	if err := t.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Fatalw("taker stopped", "error", err)
	}

	logg.Info("shutting down [taker]...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	conn.UnregisterFromDirectory(shutdownCtx, model.EntryTypeTaker)
	conn.Drain()
}

func logRisk(ctx context.Context, conn *agent.Conn, interval time.Duration) {
	logg := logger.S()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			riskCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			positions, err := conn.Risk(riskCtx)
			cancel()
			if err != nil {
				logg.Warnw("risk fetch failed", "error", err)
				continue
			}
			for _, p := range positions {
				logg.Infow("risk position",
					"asset", p.Asset,
					"position", p.Position.String(),
					"notional", p.Notional.String(),
				)
			}
		}
	}
}
