package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/bond-venue/clearing/internal/auth"
	"github.com/Checker-Finance/bond-venue/clearing/internal/directory"
	"github.com/Checker-Finance/bond-venue/clearing/internal/handler"
	"github.com/Checker-Finance/bond-venue/clearing/internal/jobs"
	"github.com/Checker-Finance/bond-venue/clearing/internal/ledger"
	"github.com/Checker-Finance/bond-venue/clearing/internal/publisher"
	internalsecrets "github.com/Checker-Finance/bond-venue/clearing/internal/secrets"
	"github.com/Checker-Finance/bond-venue/clearing/pkg/config"
	"github.com/Checker-Finance/bond-venue/pkg/eventbus"
	"github.com/Checker-Finance/bond-venue/pkg/logger"
	"github.com/Checker-Finance/bond-venue/pkg/model"
	"github.com/Checker-Finance/bond-venue/pkg/secrets"
	"github.com/Checker-Finance/bond-venue/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Info("starting [clearing]...")

	// --- Agent credential table ---
	var source internalsecrets.CredentialSource
	if cfg.UseAWSSecrets {
		provider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		cache := secrets.NewCache[map[string]string](cfg.CacheTTL)
		stopCleaner := make(chan struct{})
		defer close(stopCleaner)
		go cache.StartCleaner(cfg.CleanupFreq, stopCleaner)
		source = internalsecrets.NewAWSSource(logger.L(), cfg.Env, provider, cache)
	} else {
		source = internalsecrets.NewStaticSource(cfg.AgentCredentials)
	}

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	creds, err := source.Credentials(startupCtx)
	cancel()
	if err != nil {
		logg.Fatalw("failed to resolve agent credentials", "error", err)
	}
	logg.Infow("agent credentials loaded", "agents", len(creds))

	// --- Trade ledger ---
	var book ledger.Ledger
	var pgLedger *ledger.PostgresLedger
	if cfg.DatabaseURL != "" {
		logg.Info("connecting to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pgLedger, err = ledger.NewPostgres(initCtx, cfg.DatabaseURL, ledger.PoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, logger.L())
		cancel()
		if err != nil {
			logg.Fatalw("failed to init postgres ledger", "error", err)
		}
		book = pgLedger
	} else {
		logg.Warn("DATABASE_URL not set; trade ledger is in-memory")
		book = ledger.NewMemory()
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.ServiceName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Downstream trade publisher (RabbitMQ) ---
	bus := eventbus.New()
	var pub *publisher.Publisher
	if cfg.RabbitURL != "" {
		pub, err = publisher.New(cfg.RabbitURL, bus, logger.L())
		if err != nil {
			logg.Fatalw("failed to init trade publisher", "error", err)
		}
	} else {
		logg.Warn("RABBITMQ_URL not set; downstream trade publishing disabled")
	}

	// --- Risk summary refresher (Postgres only) ---
	var refresher *jobs.RiskRefresher
	if pgLedger != nil {
		refresher = jobs.NewRiskRefresher(logger.L(), nc, pgLedger.Pool(), cfg.RiskRefreshInterval)
		go refresher.Start(ctx)
	}

	// --- Command handler ---
	authMgr := auth.NewManager(logger.L(), creds)
	dir := directory.New(logger.L())
	h := handler.New(logger.L(), nc, model.Identity{Name: "GAME_KEEPER"}, cfg.Subject,
		authMgr, dir, book, bus)
	if err := h.Start(); err != nil {
		logg.Fatalw("failed to start clearing handler", "error", err)
	}

	// --- Fiber HTTP server: /metrics and /health ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{"nats": "ok", "ledger": "ok"}
		status := "ok"
		code := fiber.StatusOK

		if !nc.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := book.HealthCheck(healthCtx); err != nil {
			checks["ledger"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":    status,
			"checks":    checks,
			"sessions":  authMgr.SessionCount(),
			"directory": dir.EntryCount(),
		})
	})
	go func() {
		logg.Infof("HTTP listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[clearing] running",
		"subject", cfg.Subject,
		"nats", cfg.NATSURL,
		"ledger", map[bool]string{true: "postgres", false: "memory"}[pgLedger != nil],
	)

	<-ctx.Done()
	logg.Info("shutting down [clearing]...")

	if refresher != nil {
		refresher.Stop()
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := h.Drain(); err != nil {
		logg.Warnw("handler.drain_failed", "error", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			logg.Warnw("publisher.close_failed", "error", err)
		}
	}
	if err := book.Close(); err != nil {
		logg.Warnw("ledger.close_failed", "error", err)
	}
}
