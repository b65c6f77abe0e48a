package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	// Secrets (from .env)
	AlphaVantageAPIKey  string
	AlphaVantageBaseURL string
	WebhookURL          string
	ServiceName         string
	CORSAllowOrigin     string

	// Database
	DBDriver   string
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	SQLitePath string

	// API
	APIPort int

	// Logging
	LogLevel   string
	LogFile    string
	LogConsole bool

	// Scheduling
	SchedulerEnabled   bool
	SchedulerTimezone  string
	LiveUpdatesEnabled bool
	LiveUpdateInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AlphaVantageAPIKey:  envStr("ALPHA_VANTAGE_API_KEY", ""),
		AlphaVantageBaseURL: envStr("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co/query"),
		WebhookURL:          envStr("WEBHOOK_URL", ""),
		ServiceName:         envStr("SERVICE_NAME", "StockPulse"),
		CORSAllowOrigin:     envStr("CORS_ALLOW_ORIGIN", "*"),

		DBDriver:   strings.ToLower(envStr("DB_DRIVER", DriverPostgres)),
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "stockpulse"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),
		SQLitePath: envStr("SQLITE_PATH", "stockpulse.db"),

		APIPort: envInt("API_PORT", 8080),

		LogLevel:   envStr("LOG_LEVEL", "info"),
		LogFile:    envStr("LOG_FILE", ""),
		LogConsole: envBool("LOG_CONSOLE", true),

		SchedulerEnabled:   envBool("SCHEDULER_ENABLED", true),
		SchedulerTimezone:  envStr("SCHEDULER_TIMEZONE", "America/New_York"),
		LiveUpdatesEnabled: envBool("LIVE_UPDATES_ENABLED", true),
		LiveUpdateInterval: envDuration("LIVE_UPDATE_INTERVAL", 5*time.Second),
	}

	return cfg, nil
}

// DemoMode is true when no real upstream credential is configured.
func (c *Config) DemoMode() bool {
	return c.AlphaVantageAPIKey == "" || c.AlphaVantageAPIKey == "demo"
}

func (c *Config) Validate(log zerolog.Logger) error {
	var errs []string

	switch c.DBDriver {
	case DriverPostgres:
		if c.DBUser == "" {
			errs = append(errs, "DB_USER is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("API_PORT out of range: %d", c.APIPort))
	}
	if _, err := time.LoadLocation(c.SchedulerTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("SCHEDULER_TIMEZONE invalid: %v", err))
	}
	if c.LiveUpdateInterval <= 0 {
		errs = append(errs, "LIVE_UPDATE_INTERVAL must be positive")
	}

	if c.DemoMode() {
		log.Warn().Msg("ALPHA_VANTAGE_API_KEY not set, running in demo mode (synthetic data only)")
	}
	if c.WebhookURL == "" {
		log.Warn().Msg("WEBHOOK_URL not set, scheduler job summaries go to the log only")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print(log zerolog.Logger) {
	log.Info().
		Str("mode", boolLabel(c.DemoMode(), "demo", "live")).
		Str("upstream", c.AlphaVantageBaseURL).
		Str("api_key", maskKey(c.AlphaVantageAPIKey)).
		Msg("upstream configuration")

	db := log.Info().Str("driver", c.DBDriver)
	if c.DBDriver == DriverSQLite {
		db = db.Str("path", c.SQLitePath)
	} else {
		db = db.Str("host", c.DBHost).Int("port", c.DBPort).Str("name", c.DBName)
	}
	db.Msg("database configuration")

	log.Info().
		Int("port", c.APIPort).
		Str("cors", c.CORSAllowOrigin).
		Bool("scheduler", c.SchedulerEnabled).
		Str("timezone", c.SchedulerTimezone).
		Bool("live_updates", c.LiveUpdatesEnabled).
		Dur("live_interval", c.LiveUpdateInterval).
		Str("webhook", boolLabel(c.WebhookURL != "", "configured", "not set")).
		Msg("service configuration")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

// envDuration accepts Go durations ("5s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func maskKey(key string) string {
	if len(key) > 6 {
		return key[:4] + "..."
	}
	if key == "" {
		return "(none)"
	}
	return key
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
