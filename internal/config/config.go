package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port string

	// Relational store configuration
	DBDriver  string // sqlite3, postgres or pgx
	DBDSN     string
	UseMockDB bool

	// Access tokens
	JWTSecret string
	TokenTTL  time.Duration

	// Administrator created on first start when no administrator exists
	AdminUsername string
	AdminPassword string

	// ClickHouse journal configuration, disabled when the host is empty
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel  string
	LogFormat string // json or console
}

// JournalEnabled reports whether transitions are written to ClickHouse
func (c *Config) JournalEnabled() bool {
	return c.ClickHouseHost != ""
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	config.Port = envOr("PORT", "8080")

	// JWT secret (required)
	config.JWTSecret = os.Getenv("JWT_SECRET")
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	ttl, err := time.ParseDuration(envOr("TOKEN_TTL", "24h"))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("invalid TOKEN_TTL: %q", os.Getenv("TOKEN_TTL"))
	}
	config.TokenTTL = ttl

	// Use Mock DB (default: false)
	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"

	// Relational store (required if not using mock)
	config.DBDriver = envOr("DB_DRIVER", "sqlite3")
	switch config.DBDriver {
	case "sqlite3", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s (expected sqlite3, postgres or pgx)", config.DBDriver)
	}
	if !config.UseMockDB {
		config.DBDSN = os.Getenv("DB_DSN")
		if config.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required when USE_MOCK_DB is not set")
		}
	}

	config.AdminUsername = os.Getenv("ADMIN_USERNAME")
	config.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	if (config.AdminUsername == "") != (config.AdminPassword == "") {
		return nil, fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}

	// ClickHouse journal (optional)
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.JournalEnabled() {
		portStr := os.Getenv("CLICKHOUSE_PORT")
		if portStr == "" {
			config.ClickHousePort = 9000 // Default ClickHouse native port
		} else {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
			}
			config.ClickHousePort = port
		}

		config.ClickHouseDatabase = envOr("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = envOr("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	}

	// Rate limiting, RATE_LIMIT_RPS=0 disables it
	rps, err := strconv.ParseFloat(envOr("RATE_LIMIT_RPS", "10"), 64)
	if err != nil || rps < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %q", os.Getenv("RATE_LIMIT_RPS"))
	}
	config.RateLimitRPS = rps

	burst, err := strconv.Atoi(envOr("RATE_LIMIT_BURST", "20"))
	if err != nil || burst < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %q", os.Getenv("RATE_LIMIT_BURST"))
	}
	config.RateLimitBurst = burst

	config.LogLevel = strings.ToLower(envOr("LOG_LEVEL", "info"))
	config.LogFormat = strings.ToLower(envOr("LOG_FORMAT", "json"))
	if config.LogFormat != "json" && config.LogFormat != "console" {
		return nil, fmt.Errorf("invalid LOG_FORMAT: %s (expected json or console)", config.LogFormat)
	}

	return config, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
