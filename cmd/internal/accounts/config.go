package accounts

import (
	"os"
	"time"
)

// Config defines all runtime configuration for the accounts subsystem.
//
// It controls the login-token lifetime, the sweep cadence and the
// connection-close grace delay. The lifetime is deliberately measured in a
// much larger unit than the sweep interval so each sweep catches
// newly-expired tokens promptly.
type Config struct {
	// LoginTokenLifetime is how long a stamped token stays valid after issue.
	LoginTokenLifetime time.Duration

	// SweepInterval is the cadence of the bulk expiry sweep.
	SweepInterval time.Duration

	// EvictionGrace is the delay between a token leaving its record and the
	// forced close of connections still authenticated with it. It gives a
	// client time to swap in a freshly issued token.
	EvictionGrace time.Duration
}

// DefaultConfig returns the default accounts configuration.
func DefaultConfig() Config {
	return Config{
		LoginTokenLifetime: 90 * 24 * time.Hour,
		SweepInterval:      10 * time.Minute,
		EvictionGrace:      10 * time.Second,
	}
}

// LoadConfigFromEnv loads accounts configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - QUAY_LOGIN_TOKEN_LIFETIME
//   - QUAY_SWEEP_INTERVAL
//   - QUAY_EVICTION_GRACE
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("QUAY_LOGIN_TOKEN_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LoginTokenLifetime = d
	}

	if v := os.Getenv("QUAY_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	if v := os.Getenv("QUAY_EVICTION_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.EvictionGrace = d
	}

	return cfg, nil
}
