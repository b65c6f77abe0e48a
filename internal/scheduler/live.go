package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kjannette/stockpulse-backend/internal/logging"
	"github.com/kjannette/stockpulse-backend/internal/models"
)

// Broadcaster is the part of the broadcast manager the ticker pushes to.
type Broadcaster interface {
	HasSubscribers(symbol string) bool
	BroadcastToSymbol(ctx context.Context, symbol string, msg any) int
	BroadcastToAll(ctx context.Context, msg any) int
}

// Baseline is a live symbol and the price its deltas are drawn around.
type Baseline struct {
	Symbol string
	Price  float64
}

var DefaultBaselines = []Baseline{
	{"AAPL", 175.50},
	{"MSFT", 405.75},
	{"GOOGL", 152.30},
	{"AMZN", 183.20},
	{"TSLA", 172.40},
}

type LiveConfig struct {
	Baselines   []Baseline
	Interval    time.Duration // pause between cycles
	SymbolPause time.Duration // pause between symbols within a cycle
	Rand        *rand.Rand
	Now         func() time.Time
	Logger      zerolog.Logger
}

// LiveTicker pushes a simulated price update for each watched symbol every
// cycle. Symbols nobody listens to are skipped.
type LiveTicker struct {
	out Broadcaster
	cfg LiveConfig
	log zerolog.Logger

	rmu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewLiveTicker(out Broadcaster, cfg LiveConfig) *LiveTicker {
	if len(cfg.Baselines) == 0 {
		cfg.Baselines = DefaultBaselines
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.SymbolPause < 0 {
		cfg.SymbolPause = 0
	} else if cfg.SymbolPause == 0 {
		cfg.SymbolPause = 100 * time.Millisecond
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LiveTicker{out: out, cfg: cfg, log: logging.Component(cfg.Logger, "live")}
}

// Start launches the loop under ctx. It is a no-op while running.
func (t *LiveTicker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	go t.loop(ctx, t.done)
	t.log.Info().Dur("interval", t.cfg.Interval).Int("symbols", len(t.cfg.Baselines)).Msg("live updates started")
}

// Stop ends the loop and waits for it. It is a no-op when stopped.
func (t *LiveTicker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
	t.log.Info().Msg("live updates stopped")
}

func (t *LiveTicker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Wait blocks until the loop has exited.
func (t *LiveTicker) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (t *LiveTicker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		t.cycle(ctx)
		if sleepCtx(ctx, t.cfg.Interval) != nil {
			return
		}
	}
}

// cycle runs one pass over the baselines. A panic ends the pass, not the loop.
func (t *LiveTicker) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("live update cycle panicked")
		}
	}()

	pushed := false
	for _, b := range t.cfg.Baselines {
		if ctx.Err() != nil {
			return
		}
		if !t.out.HasSubscribers(b.Symbol) {
			continue
		}
		if pushed {
			if sleepCtx(ctx, t.cfg.SymbolPause) != nil {
				return
			}
		}
		pushed = true
		u := t.Update(b)
		sym := t.out.BroadcastToSymbol(ctx, b.Symbol, u)
		all := t.out.BroadcastToAll(ctx, u)
		t.log.Debug().Str("symbol", b.Symbol).Float64("price", u.Price).Int("symbol_subs", sym).Int("global_subs", all).Msg("update pushed")
	}
}

// Update draws one simulated tick around b.
func (t *LiveTicker) Update(b Baseline) models.PriceUpdate {
	t.rmu.Lock()
	r := t.cfg.Rand.Float64()
	t.rmu.Unlock()

	change := decimal.NewFromFloat((r - 0.5) * 2).Round(2)
	base := decimal.NewFromFloat(b.Price)
	price := base.Add(change).Round(2)
	pct := change.Div(base).Mul(decimal.NewFromInt(100)).Round(2)

	p, _ := price.Float64()
	c, _ := change.Float64()
	cp, _ := pct.Float64()
	return models.PriceUpdate{
		Symbol:        b.Symbol,
		Price:         p,
		Change:        c,
		ChangePercent: cp,
		Timestamp:     t.cfg.Now().UTC().Format(time.RFC3339),
	}
}
