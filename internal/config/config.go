package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries all runtime settings. Everything comes from environment
// variables with sensible defaults so the binary runs with no setup.
type Config struct {
	Port   string
	DBPath string

	// AttributionWindowDays is the maximum click age for an order to be
	// credited to that click.
	AttributionWindowDays int

	// ConversionGraceDays is how long a conversion may stay pending
	// before the sweeper cancels it.
	ConversionGraceDays int

	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration
}

func Load() *Config {
	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DBPath:                getEnv("DB_PATH", "settler.db"),
		AttributionWindowDays: getEnvAsInt("ATTRIBUTION_WINDOW_DAYS", 30),
		ConversionGraceDays:   getEnvAsInt("CONVERSION_GRACE_DAYS", 60),
		SweepInterval:         getEnvAsDuration("SWEEP_INTERVAL", time.Hour),
	}
}

// AttributionWindow returns the click window as a duration.
func (c *Config) AttributionWindow() time.Duration {
	return time.Duration(c.AttributionWindowDays) * 24 * time.Hour
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
