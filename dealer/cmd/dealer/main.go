package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/bond-venue/dealer/internal/dealer"
	"github.com/Checker-Finance/bond-venue/dealer/internal/feed"
	"github.com/Checker-Finance/bond-venue/dealer/internal/quoting"
	"github.com/Checker-Finance/bond-venue/dealer/pkg/config"
	"github.com/Checker-Finance/bond-venue/internal/agent"
	"github.com/Checker-Finance/bond-venue/pkg/logger"
	"github.com/Checker-Finance/bond-venue/pkg/model"
	"github.com/Checker-Finance/bond-venue/pkg/refdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Infof("starting [dealer] as %s...", cfg.DealerName)

	// --- Tradable universe ---
	bonds, err := refdata.LoadBonds(cfg.BondsCSV)
	if err != nil {
		logg.Fatalw("failed to load bond universe", "error", err)
	}
	assets := make([]string, len(bonds))
	for i, b := range bonds {
		assets[i] = b.Alias
	}
	logg.Infow("bond universe loaded", "bonds", len(assets))

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.ServiceName+"-"+cfg.DealerName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Clearing session + directory registration ---
	conn := agent.New(nc, logger.L(), cfg.DealerName, cfg.ClearingUser, cfg.ClearingPass, cfg.ClearingSubject)
	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := conn.Login(startupCtx); err != nil {
		cancel()
		logg.Fatalw("clearing login failed", "error", err)
	}
	if err := conn.RegisterWithDirectory(startupCtx, model.EntryTypeDealer,
		conn.Identity().Inbox, "market-making dealer", nil); err != nil {
		cancel()
		logg.Fatalw("directory registration failed", "error", err)
	}
	cancel()

	// --- Quoter + dealer ---
	quoter := quoting.New(quoting.Params{
		HalfSpread:  cfg.HalfSpread,
		FirmImprove: cfg.FirmImprove,
		SkewFactor:  cfg.SkewFactor,
		MaxPosition: cfg.MaxPosition,
	})
	d := dealer.New(dealer.Config{
		Name:               cfg.DealerName,
		VenueName:          cfg.VenueName,
		IndicationInterval: cfg.IndicationInterval,
		WalkVol:            cfg.WalkVol,
	}, conn, quoter, logger.L())
	d.SeedMids(assets, cfg.InitialMid)

	// --- Optional market data feed ---
	var feedClient *feed.Client
	if cfg.FeedURL != "" {
		feedClient = feed.NewClient(cfg.FeedURL, logger.L())
		feedClient.AddHandler(d.OnTick)
		feedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := feedClient.Connect(feedCtx); err != nil {
			logg.Warnw("feed connect failed; falling back to random walk", "error", err)
		}
		cancel()
	}

	logg.Infow("[dealer] running",
		"dealer", cfg.DealerName,
		"venue", cfg.VenueName,
		"nats", cfg.NATSURL,
		"assets", len(assets),
	)

	if err := d.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Fatalw("dealer stopped", "error", err)
	}

	logg.Info("shutting down [dealer]...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	conn.UnregisterFromDirectory(shutdownCtx, model.EntryTypeDealer)
	if feedClient != nil {
		_ = feedClient.Close()
	}
	conn.Drain()
}
