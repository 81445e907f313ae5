package config

import (
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Checker-Finance/bond-venue/pkg/config"
)

// Config holds the runtime configuration for a venue instance. One process
// runs one venue; multiple venues are multiple processes with distinct names.
type Config struct {
	ServiceName string
	Env         string // "dev", "uat", "prod"
	VenueName   string // market identity, e.g. "TWEB"
	LogLevel    string

	NATSURL         string
	ClearingSubject string
	ClearingUser    string
	ClearingPass    string

	RedisAddr string
	RedisDB   int

	Port             int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	SolicitWindow time.Duration // window for providers to return firm quotes
	AcceptWindow  time.Duration // window for the taker to accept or decline
	IndicationTTL time.Duration // 0 disables indication expiry
	Strict        bool
}

// Load reads configuration from the environment and .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "venue"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		VenueName:   pkgconfig.GetEnv("VENUE_NAME", "TWEB"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),

		NATSURL:         pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		ClearingSubject: pkgconfig.GetEnv("CLEARING_SUBJECT", "fitg.clearing.cmd"),
		ClearingUser:    pkgconfig.GetEnv("CLEARING_USER", ""),
		ClearingPass:    pkgconfig.GetEnv("CLEARING_PASS", ""),

		RedisAddr: pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   pkgconfig.GetEnvInt("REDIS_DB", 0),

		Port:             pkgconfig.GetEnvInt("VENUE_PORT", 9020),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		SolicitWindow: pkgconfig.GetEnvDuration("SOLICIT_WINDOW", 5*time.Second),
		AcceptWindow:  pkgconfig.GetEnvDuration("ACCEPT_WINDOW", 5*time.Second),
		IndicationTTL: pkgconfig.GetEnvDuration("INDICATION_TTL", 0),
		Strict:        pkgconfig.GetEnvBool("STRICT_VALIDATION", false),
	}
}
