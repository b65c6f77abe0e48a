package config

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ALPHA_VANTAGE_API_KEY", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("API_PORT", "")
	t.Setenv("LIVE_UPDATE_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBDriver != DriverPostgres {
		t.Fatalf("driver: got %q", cfg.DBDriver)
	}
	if cfg.APIPort != 8080 {
		t.Fatalf("port: got %d", cfg.APIPort)
	}
	if cfg.LiveUpdateInterval != 5*time.Second {
		t.Fatalf("live interval: got %s", cfg.LiveUpdateInterval)
	}
	if !cfg.DemoMode() {
		t.Fatal("expected demo mode with no API key")
	}
}

func TestDemoMode(t *testing.T) {
	cases := map[string]bool{
		"":         true,
		"demo":     true,
		"ABCD1234": false,
	}
	for key, want := range cases {
		c := &Config{AlphaVantageAPIKey: key}
		if got := c.DemoMode(); got != want {
			t.Fatalf("DemoMode(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "250ms")
	if got := envDuration("TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("go duration: got %s", got)
	}
	t.Setenv("TEST_DUR", "7")
	if got := envDuration("TEST_DUR", time.Second); got != 7*time.Second {
		t.Fatalf("bare seconds: got %s", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := envDuration("TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("fallback: got %s", got)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		DBDriver:           DriverSQLite,
		SQLitePath:         ":memory:",
		APIPort:            8080,
		SchedulerTimezone:  "America/New_York",
		LiveUpdateInterval: 5 * time.Second,
	}

	ok := base
	if err := ok.Validate(zerolog.Nop()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := base
	bad.DBDriver = "mysql"
	bad.APIPort = 0
	bad.SchedulerTimezone = "Mars/Olympus"
	err := bad.Validate(zerolog.Nop())
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"DB_DRIVER", "API_PORT", "SCHEDULER_TIMEZONE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error should mention %s: %v", want, err)
		}
	}

	pg := base
	pg.DBDriver = DriverPostgres
	if err := pg.Validate(zerolog.Nop()); err == nil || !strings.Contains(err.Error(), "DB_USER") {
		t.Fatalf("expected DB_USER error, got %v", err)
	}
}

func TestDSN(t *testing.T) {
	c := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: 5433, DBName: "n"}
	want := "postgres://u:p@h:5433/n?sslmode=disable"
	if got := c.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}
