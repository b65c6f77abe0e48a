package scheduler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/models"
	"github.com/kjannette/stockpulse-backend/internal/notifications"
)

type fakeRefresher struct {
	mu      sync.Mutex
	calls   []string
	stored  []string
	failing map[string]bool
	evicted int64
	panicOn string
}

func (f *fakeRefresher) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRefresher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeRefresher) PriceSeries(ctx context.Context, symbol string) (*models.PriceSeries, error) {
	if symbol == f.panicOn {
		panic("boom")
	}
	f.record("series:" + symbol)
	if f.failing[symbol] {
		return nil, errors.New("upstream unavailable")
	}
	return &models.PriceSeries{Symbol: symbol}, nil
}

func (f *fakeRefresher) Overview(ctx context.Context, symbol string) (*models.Overview, error) {
	f.record("overview:" + symbol)
	return &models.Overview{Symbol: symbol}, nil
}

func (f *fakeRefresher) InvalidatePriceSeries(ctx context.Context, symbol string) error {
	f.record("invalidate:" + symbol)
	return nil
}

func (f *fakeRefresher) EvictExpired(ctx context.Context) (int64, error) {
	f.record("evict")
	return f.evicted, nil
}

func (f *fakeRefresher) StoredSymbols(ctx context.Context) ([]string, error) {
	return f.stored, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	reports  []notifications.JobReport
}

func (n *fakeNotifier) Send(ctx context.Context, msg string) {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
}

func (n *fakeNotifier) JobSummary(ctx context.Context, r notifications.JobReport) {
	n.mu.Lock()
	n.reports = append(n.reports, r)
	n.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SymbolDelay = time.Millisecond
	cfg.InitialDelay = -1
	cfg.PopularSymbols = []string{"AAPL", "MSFT", "GOOGL"}
	cfg.Logger = zerolog.Nop()
	return cfg
}

func TestNew_RejectsBadSpec(t *testing.T) {
	cfg := testConfig()
	cfg.DailySpec = "every day at noon"
	if _, err := New(&fakeRefresher{}, nil, cfg); err == nil {
		t.Fatal("expected invalid cron spec to be rejected")
	}
}

func TestDailyRefresh_SkipsFailuresAndReports(t *testing.T) {
	f := &fakeRefresher{stored: []string{"AAPL", "IBM", "ZZZZ"}, failing: map[string]bool{"IBM": true}}
	n := &fakeNotifier{}
	s, err := New(f, n, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.RunNow(context.Background(), JobDailyRefresh); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	want := []string{"series:AAPL", "overview:AAPL", "series:IBM", "series:ZZZZ", "overview:ZZZZ"}
	if got := f.Calls(); !slices.Equal(got, want) {
		t.Fatalf("calls:\n got %v\nwant %v", got, want)
	}
	if len(n.reports) != 1 {
		t.Fatalf("expected one job summary, got %d", len(n.reports))
	}
	r := n.reports[0]
	if r.Total != 3 || r.Succeeded != 2 || !slices.Equal(r.Failed, []string{"IBM"}) {
		t.Fatalf("unexpected report: %+v", r)
	}
}

func TestPopularRefresh_InvalidatesBeforeResolving(t *testing.T) {
	f := &fakeRefresher{}
	s, _ := New(f, nil, testConfig())

	if err := s.RunNow(context.Background(), JobPopularRefresh); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	want := []string{
		"invalidate:AAPL", "series:AAPL",
		"invalidate:MSFT", "series:MSFT",
		"invalidate:GOOGL", "series:GOOGL",
	}
	if got := f.Calls(); !slices.Equal(got, want) {
		t.Fatalf("calls:\n got %v\nwant %v", got, want)
	}
}

func TestCacheEviction(t *testing.T) {
	f := &fakeRefresher{evicted: 4}
	s, _ := New(f, nil, testConfig())
	if err := s.RunNow(context.Background(), JobCacheEviction); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if got := f.Calls(); !slices.Equal(got, []string{"evict"}) {
		t.Fatalf("calls: %v", got)
	}
}

func TestRunNow_UnknownJobAndPanic(t *testing.T) {
	f := &fakeRefresher{panicOn: "MSFT"}
	s, _ := New(f, nil, testConfig())

	if err := s.RunNow(context.Background(), "weekly_report"); err == nil {
		t.Fatal("unknown job should error")
	}
	err := s.RunNow(context.Background(), JobPopularRefresh)
	if err == nil {
		t.Fatal("panic should surface as an error")
	}
	t.Logf("recovered: %v", err)
}

func TestRunJob_IsolatesPanics(t *testing.T) {
	f := &fakeRefresher{panicOn: "AAPL"}
	n := &fakeNotifier{}
	s, _ := New(f, n, testConfig())

	s.runJob(context.Background(), JobPopularRefresh)
	s.runJob(context.Background(), JobCacheEviction)

	if !slices.Contains(f.Calls(), "evict") {
		t.Fatal("a panicking job must not stop the next one")
	}
	if len(n.messages) != 1 {
		t.Fatalf("expected one failure notification, got %v", n.messages)
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	f := &fakeRefresher{}
	cfg := testConfig()
	cfg.InitialDelay = 10 * time.Millisecond
	s, _ := New(f, nil, cfg)

	s.Stop()
	s.Start()
	s.Start()
	if !s.Running() {
		t.Fatal("should be running")
	}
	if len(s.Entries()) != 3 {
		t.Fatalf("expected 3 scheduled jobs, got %d", len(s.Entries()))
	}

	deadline := time.Now().Add(2 * time.Second)
	for !slices.Contains(f.Calls(), "series:GOOGL") {
		if time.Now().After(deadline) {
			t.Fatalf("initial popular refresh did not run: %v", f.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("should be stopped")
	}
	if s.Entries() != nil {
		t.Fatal("stopped scheduler has no entries")
	}

	s.Start()
	if !s.Running() {
		t.Fatal("should restart")
	}
	s.Stop()
}

func TestStop_CancelsRunningJob(t *testing.T) {
	f := &fakeRefresher{}
	cfg := testConfig()
	cfg.SymbolDelay = time.Hour
	cfg.InitialDelay = 0
	s, _ := New(f, nil, cfg)

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for !slices.Contains(f.Calls(), "series:AAPL") {
		if time.Now().After(deadline) {
			t.Fatal("initial refresh never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the inter-symbol pause")
	}
	if slices.Contains(f.Calls(), "series:MSFT") {
		t.Fatal("job kept running after Stop")
	}
}
