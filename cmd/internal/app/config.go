package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Browser-origin allowlist for the HTTP surface. A trailing ":*"
	// matches any port on that scheme+host.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("QUAY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("QUAY_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("QUAY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("QUAY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("QUAY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("QUAY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("QUAY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("QUAY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("QUAY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("QUAY_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("QUAY_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("QUAY_CORS_ALLOWED_ORIGINS", "http://localhost:*,http://127.0.0.1:*"),
		CORSAllowCredentials: EnvBool("QUAY_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("QUAY_CORS_MAX_AGE_SECONDS", 600),
	}
}
