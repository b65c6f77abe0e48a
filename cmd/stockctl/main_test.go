package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/config"
	"github.com/kjannette/stockpulse-backend/internal/synthetic"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBDriver:           config.DriverSQLite,
		SQLitePath:         filepath.Join(t.TempDir(), "stockctl.db"),
		APIPort:            8080,
		SchedulerTimezone:  "America/New_York",
		LiveUpdateInterval: 5 * time.Second,
		ServiceName:        "StockPulse",
	}
}

func run(t *testing.T, cfg *config.Config, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(cfg, zerolog.Nop())
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("stockctl %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestStockctl_SeedInfoEvictClear(t *testing.T) {
	cfg := testConfig(t)

	out := run(t, cfg, "seed", "--pause", "0s")
	for _, sym := range synthetic.Symbols() {
		if !strings.Contains(out, sym) {
			t.Fatalf("seed output missing %s:\n%s", sym, out)
		}
	}

	out = run(t, cfg, "info")
	if !strings.Contains(out, "mode:    demo") || !strings.Contains(out, "stocks:  10") {
		t.Fatalf("unexpected info output:\n%s", out)
	}
	if !strings.Contains(out, "Walmart Inc.") {
		t.Fatalf("info should list stored stocks:\n%s", out)
	}

	out = run(t, cfg, "evict")
	if !strings.Contains(out, "evicted 0 expired entries") {
		t.Fatalf("fresh entries should survive eviction:\n%s", out)
	}

	out = run(t, cfg, "clear-cache")
	if !strings.HasPrefix(out, "cleared ") || strings.HasPrefix(out, "cleared 0 ") {
		t.Fatalf("seeded cache should be cleared:\n%s", out)
	}
	if out = run(t, cfg, "info"); !strings.Contains(out, "cache:   0") {
		t.Fatalf("cache should be empty after clear-cache:\n%s", out)
	}
}

func TestStockctl_RefreshSymbols(t *testing.T) {
	cfg := testConfig(t)

	out := run(t, cfg, "refresh", "aapl", "ZZZZ")
	if !strings.Contains(out, "AAPL") || !strings.Contains(out, "ZZZZ") || !strings.Contains(out, "latest ") {
		t.Fatalf("unexpected refresh output:\n%s", out)
	}
}

func TestStockctl_InvalidConfigFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBDriver = "mysql"

	root := newRootCmd(cfg, zerolog.Nop())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"info"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an unknown driver to be rejected")
	}
}
