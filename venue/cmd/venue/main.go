package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/bond-venue/internal/agent"
	"github.com/Checker-Finance/bond-venue/pkg/eventbus"
	"github.com/Checker-Finance/bond-venue/pkg/logger"
	"github.com/Checker-Finance/bond-venue/pkg/model"
	"github.com/Checker-Finance/bond-venue/venue/internal/api"
	"github.com/Checker-Finance/bond-venue/venue/internal/handler"
	"github.com/Checker-Finance/bond-venue/venue/internal/snapshot"
	"github.com/Checker-Finance/bond-venue/venue/internal/venue"
	"github.com/Checker-Finance/bond-venue/venue/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Infof("starting [venue] as %s...", cfg.VenueName)

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.ServiceName+"-"+cfg.VenueName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Clearing session + directory registration ---
	conn := agent.New(nc, logger.L(), cfg.VenueName, cfg.ClearingUser, cfg.ClearingPass, cfg.ClearingSubject)
	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := conn.Login(startupCtx); err != nil {
		cancel()
		logg.Fatalw("clearing login failed", "error", err)
	}
	cmdSubject := agent.VenueSubject(cfg.VenueName)
	if err := conn.RegisterWithDirectory(startupCtx, model.EntryTypeBondVenue, cmdSubject, "bond RFQ venue", nil); err != nil {
		cancel()
		logg.Fatalw("directory registration failed", "error", err)
	}
	cancel()

	// --- Snapshot store (Redis) ---
	st, err := snapshot.New(cfg.RedisAddr, cfg.RedisDB, logger.L())
	if err != nil {
		logg.Fatalw("failed to init snapshot store", "error", err)
	}

	// --- Venue core ---
	bus := eventbus.New()
	snapshot.Attach(bus, st, cfg.VenueName, logger.L())

	loop := handler.NewLoop(logger.L(), nc, conn.Identity(), cmdSubject)
	v := venue.New(venue.Config{
		Name:          cfg.VenueName,
		SolicitWindow: cfg.SolicitWindow,
		AcceptWindow:  cfg.AcceptWindow,
		IndicationTTL: cfg.IndicationTTL,
		Strict:        cfg.Strict,
	}, logger.L(), bus, loop.Scheduler())

	// --- Fiber HTTP server: /metrics and /health ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	})
	api.RegisterRoutes(app, nc, st, v.ActiveRfqCount)
	go func() {
		logg.Infof("HTTP listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[venue] running",
		"venue", cfg.VenueName,
		"subject", cmdSubject,
		"nats", cfg.NATSURL,
		"solicit_window", cfg.SolicitWindow,
		"accept_window", cfg.AcceptWindow,
	)

	// Blocks until the context is cancelled.
	if err := loop.Start(ctx, v); err != nil && ctx.Err() == nil {
		logg.Fatalw("venue.loop_failed", "error", err)
	}

	logg.Info("shutting down [venue]...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	conn.UnregisterFromDirectory(shutdownCtx, model.EntryTypeBondVenue)
	if err := loop.Drain(); err != nil {
		logg.Warnw("loop.drain_failed", "error", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
