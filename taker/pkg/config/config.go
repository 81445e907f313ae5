package config

import (
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Checker-Finance/bond-venue/pkg/config"
)

// Config holds the runtime configuration for a taker instance.
type Config struct {
	ServiceName string
	Env         string
	TakerName   string
	LogLevel    string

	NATSURL         string
	ClearingSubject string
	ClearingUser    string
	ClearingPass    string

	VenueName string

	// RFQ pacing, token bucket.
	RfqPerSecond int
	RfqBurst     int
	RfqCooldown  time.Duration

	Tolerance    float64
	MinSize      float64
	MaxSize      float64
	MaxProviders int

	RiskLogInterval time.Duration
}

// Load reads configuration from the environment and .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "taker"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		TakerName:   pkgconfig.GetEnv("TAKER_NAME", "soros"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),

		NATSURL:         pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		ClearingSubject: pkgconfig.GetEnv("CLEARING_SUBJECT", "fitg.clearing.cmd"),
		ClearingUser:    pkgconfig.GetEnv("CLEARING_USER", ""),
		ClearingPass:    pkgconfig.GetEnv("CLEARING_PASS", ""),

		VenueName: pkgconfig.GetEnv("VENUE_NAME", "TWEB"),

		RfqPerSecond: pkgconfig.GetEnvInt("RFQ_PER_SECOND", 1),
		RfqBurst:     pkgconfig.GetEnvInt("RFQ_BURST", 1),
		RfqCooldown:  pkgconfig.GetEnvDuration("RFQ_COOLDOWN", 0),

		Tolerance:    pkgconfig.GetEnvFloat("TOLERANCE", 0.10),
		MinSize:      pkgconfig.GetEnvFloat("MIN_SIZE", 1_000_000),
		MaxSize:      pkgconfig.GetEnvFloat("MAX_SIZE", 10_000_000),
		MaxProviders: pkgconfig.GetEnvInt("MAX_PROVIDERS", 4),

		RiskLogInterval: pkgconfig.GetEnvDuration("RISK_LOG_INTERVAL", time.Minute),
	}
}
