package config

import (
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Checker-Finance/bond-venue/pkg/config"
)

// Config holds the runtime configuration for a dealer instance.
type Config struct {
	ServiceName string
	Env         string
	DealerName  string
	LogLevel    string

	NATSURL         string
	ClearingSubject string
	ClearingUser    string
	ClearingPass    string

	VenueName string
	BondsCSV  string
	// FeedURL empty falls back to a random walk around the seeded mids.
	FeedURL string

	IndicationInterval time.Duration
	InitialMid         float64
	WalkVol            float64

	HalfSpread  float64
	FirmImprove float64
	SkewFactor  float64
	MaxPosition float64
}

// Load reads configuration from the environment and .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "dealer"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		DealerName:  pkgconfig.GetEnv("DEALER_NAME", "ABN"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),

		NATSURL:         pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		ClearingSubject: pkgconfig.GetEnv("CLEARING_SUBJECT", "fitg.clearing.cmd"),
		ClearingUser:    pkgconfig.GetEnv("CLEARING_USER", ""),
		ClearingPass:    pkgconfig.GetEnv("CLEARING_PASS", ""),

		VenueName: pkgconfig.GetEnv("VENUE_NAME", "TWEB"),
		BondsCSV:  pkgconfig.GetEnv("BONDS_CSV", "data/bonds.csv"),
		FeedURL:   pkgconfig.GetEnv("FEED_URL", ""),

		IndicationInterval: pkgconfig.GetEnvDuration("INDICATION_INTERVAL", 2*time.Second),
		InitialMid:         pkgconfig.GetEnvFloat("INITIAL_MID", 100.0),
		WalkVol:            pkgconfig.GetEnvFloat("WALK_VOL", 0.05),

		HalfSpread:  pkgconfig.GetEnvFloat("HALF_SPREAD", 0.20),
		FirmImprove: pkgconfig.GetEnvFloat("FIRM_IMPROVE", 0.25),
		SkewFactor:  pkgconfig.GetEnvFloat("SKEW_FACTOR", 0.10),
		MaxPosition: pkgconfig.GetEnvFloat("MAX_POSITION", 50_000_000),
	}
}
