package config

import (
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Checker-Finance/bond-venue/pkg/config"
)

// Config holds the runtime configuration for the clearing service.
type Config struct {
	ServiceName string
	Env         string
	LogLevel    string

	NATSURL string
	Subject string

	// DatabaseURL empty keeps the ledger in memory (dev mode).
	DatabaseURL string
	// RabbitURL empty disables the downstream trade publisher.
	RabbitURL string

	AWSRegion string
	// AgentCredentials is the dev fallback credential table,
	// "user:pass,user2:pass2". Ignored when UseAWSSecrets is set.
	AgentCredentials string
	UseAWSSecrets    bool
	CacheTTL         time.Duration
	CleanupFreq      time.Duration

	RiskRefreshInterval time.Duration

	Port             int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration
}

// Load reads configuration from the environment and .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "clearing"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),

		NATSURL: pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		Subject: pkgconfig.GetEnv("CLEARING_SUBJECT", "fitg.clearing.cmd"),

		DatabaseURL: pkgconfig.GetEnv("DATABASE_URL", ""),
		RabbitURL:   pkgconfig.GetEnv("RABBITMQ_URL", ""),

		AWSRegion:        pkgconfig.GetEnv("AWS_REGION", "us-east-2"),
		AgentCredentials: pkgconfig.GetEnv("AGENT_CREDENTIALS", ""),
		UseAWSSecrets:    pkgconfig.GetEnvBool("USE_AWS_SECRETS", false),
		CacheTTL:         pkgconfig.GetEnvDuration("CACHE_TTL", 24*time.Hour),
		CleanupFreq:      pkgconfig.GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),

		RiskRefreshInterval: pkgconfig.GetEnvDuration("RISK_REFRESH_INTERVAL", 15*time.Minute),

		Port:             pkgconfig.GetEnvInt("CLEARING_PORT", 9030),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		PGMaxConns:          pkgconfig.GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          pkgconfig.GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: pkgconfig.GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}
