package scheduler

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/models"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	watched  map[string]bool
	global   bool
	bySymbol []models.PriceUpdate
	toAll    []models.PriceUpdate
	panicked bool
}

func (f *fakeBroadcaster) HasSubscribers(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.global || f.watched[symbol]
}

func (f *fakeBroadcaster) BroadcastToSymbol(ctx context.Context, symbol string, msg any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicked {
		f.panicked = false
		panic("socket layer exploded")
	}
	f.bySymbol = append(f.bySymbol, msg.(models.PriceUpdate))
	return 1
}

func (f *fakeBroadcaster) BroadcastToAll(ctx context.Context, msg any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toAll = append(f.toAll, msg.(models.PriceUpdate))
	return 1
}

func (f *fakeBroadcaster) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bySymbol), len(f.toAll)
}

func newTestTicker(out Broadcaster) *LiveTicker {
	return NewLiveTicker(out, LiveConfig{
		Interval:    5 * time.Millisecond,
		SymbolPause: -1,
		Rand:        rand.New(rand.NewPCG(1, 2)),
		Now:         func() time.Time { return time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC) },
		Logger:      zerolog.Nop(),
	})
}

func TestLiveTicker_SkipsUnwatchedSymbols(t *testing.T) {
	out := &fakeBroadcaster{watched: map[string]bool{"MSFT": true}}
	lt := newTestTicker(out)

	lt.cycle(context.Background())

	if len(out.bySymbol) != 1 || out.bySymbol[0].Symbol != "MSFT" {
		t.Fatalf("only MSFT should be pushed, got %+v", out.bySymbol)
	}
	if len(out.toAll) != 1 {
		t.Fatalf("each pushed update also goes to the global scope, got %d", len(out.toAll))
	}
}

func TestLiveTicker_NoPauseBeforeFirstPush(t *testing.T) {
	out := &fakeBroadcaster{watched: map[string]bool{"MSFT": true}}
	lt := NewLiveTicker(out, LiveConfig{
		SymbolPause: 10 * time.Second,
		Rand:        rand.New(rand.NewPCG(1, 2)),
		Logger:      zerolog.Nop(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	lt.cycle(ctx)

	if n, _ := out.counts(); n != 1 {
		t.Fatalf("MSFT should be pushed without waiting, got %d updates", n)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("cycle paused before its first push: %v", elapsed)
	}
}

func TestLiveTicker_NoSubscribersNoWork(t *testing.T) {
	out := &fakeBroadcaster{}
	lt := newTestTicker(out)
	lt.cycle(context.Background())
	if s, a := out.counts(); s != 0 || a != 0 {
		t.Fatalf("expected no broadcasts, got %d/%d", s, a)
	}
}

func TestLiveTicker_UpdateValues(t *testing.T) {
	lt := newTestTicker(&fakeBroadcaster{})
	for range 500 {
		u := lt.Update(Baseline{"AAPL", 175.50})
		if u.Change < -1 || u.Change > 1 {
			t.Fatalf("change out of range: %v", u.Change)
		}
		if math.Abs(u.Price-(175.50+u.Change)) > 1e-9 {
			t.Fatalf("price %v != base + change %v", u.Price, u.Change)
		}
		if math.Abs(u.ChangePercent-u.Change/175.50*100) > 0.006 {
			t.Fatalf("changePercent %v inconsistent with change %v", u.ChangePercent, u.Change)
		}
		if u.Timestamp != "2026-10-15T15:00:00Z" {
			t.Fatalf("timestamp: %s", u.Timestamp)
		}
	}
}

func TestLiveTicker_SurvivesPanicAndStops(t *testing.T) {
	out := &fakeBroadcaster{global: true, panicked: true}
	lt := newTestTicker(out)

	lt.Stop()
	lt.Start(context.Background())
	lt.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if s, _ := out.counts(); s >= 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ticker did not keep running after a panic")
		}
		time.Sleep(5 * time.Millisecond)
	}

	lt.Stop()
	lt.Stop()
	if lt.Running() {
		t.Fatal("should be stopped")
	}
	s, a := out.counts()
	time.Sleep(30 * time.Millisecond)
	if s2, a2 := out.counts(); s2 != s || a2 != a {
		t.Fatal("updates continued after Stop")
	}
}

func TestLiveTicker_ParentContextEndsLoop(t *testing.T) {
	lt := newTestTicker(&fakeBroadcaster{global: true})
	ctx, cancel := context.WithCancel(context.Background())
	lt.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		lt.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop ignored context cancellation")
	}
}
