// Package scheduler runs the periodic refresh and eviction jobs and the
// live price ticker.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/logging"
	"github.com/kjannette/stockpulse-backend/internal/models"
	"github.com/kjannette/stockpulse-backend/internal/notifications"
	"github.com/kjannette/stockpulse-backend/internal/synthetic"
)

const (
	JobDailyRefresh   = "daily_refresh"
	JobPopularRefresh = "popular_refresh"
	JobCacheEviction  = "cache_eviction"
)

// Refresher is the part of the resolver the jobs drive.
type Refresher interface {
	PriceSeries(ctx context.Context, symbol string) (*models.PriceSeries, error)
	Overview(ctx context.Context, symbol string) (*models.Overview, error)
	InvalidatePriceSeries(ctx context.Context, symbol string) error
	EvictExpired(ctx context.Context) (int64, error)
	StoredSymbols(ctx context.Context) ([]string, error)
}

type Notifier interface {
	Send(ctx context.Context, msg string)
	JobSummary(ctx context.Context, r notifications.JobReport)
}

type Config struct {
	Location *time.Location

	DailySpec    string // daily full refresh, off-peak
	PopularSpec  string // popular refresh during trading hours
	EvictionSpec string

	// SymbolDelay paces upstream calls inside a job.
	SymbolDelay time.Duration
	// InitialDelay is how long after Start the first popular refresh runs.
	// Negative disables it.
	InitialDelay time.Duration

	PopularSymbols []string
	Logger         zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		DailySpec:    "30 1 * * *",
		PopularSpec:  "*/30 9-16 * * 1-5",
		EvictionSpec: "0 */4 * * *",
		SymbolDelay:  500 * time.Millisecond,
		InitialDelay: 10 * time.Second,
	}
}

type Scheduler struct {
	svc    Refresher
	notify Notifier
	cfg    Config
	log    zerolog.Logger
	jobs   map[string]func(context.Context) error

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates the cron specs. notify may be nil.
func New(svc Refresher, notify Notifier, cfg Config) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.DailySpec == "" {
		cfg.DailySpec = def.DailySpec
	}
	if cfg.PopularSpec == "" {
		cfg.PopularSpec = def.PopularSpec
	}
	if cfg.EvictionSpec == "" {
		cfg.EvictionSpec = def.EvictionSpec
	}
	if cfg.SymbolDelay < 0 {
		cfg.SymbolDelay = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if len(cfg.PopularSymbols) == 0 {
		cfg.PopularSymbols = synthetic.Symbols()
	}
	for name, spec := range map[string]string{
		JobDailyRefresh:   cfg.DailySpec,
		JobPopularRefresh: cfg.PopularSpec,
		JobCacheEviction:  cfg.EvictionSpec,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("%s schedule %q: %w", name, spec, err)
		}
	}

	s := &Scheduler{
		svc:    svc,
		notify: notify,
		cfg:    cfg,
		log:    logging.Component(cfg.Logger, "scheduler"),
	}
	s.jobs = map[string]func(context.Context) error{
		JobDailyRefresh:   s.dailyRefresh,
		JobPopularRefresh: s.popularRefresh,
		JobCacheEviction:  s.evictCache,
	}
	return s, nil
}

// Start schedules every job. Calling it on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Debug().Msg("already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	clog := cronLogger{s.log}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(clog),
		cron.WithChain(cron.SkipIfStillRunning(clog)),
	)
	for _, job := range []struct{ name, spec string }{
		{JobDailyRefresh, s.cfg.DailySpec},
		{JobPopularRefresh, s.cfg.PopularSpec},
		{JobCacheEviction, s.cfg.EvictionSpec},
	} {
		name := job.name
		c.AddFunc(job.spec, func() { s.runJob(ctx, name) })
	}
	c.Start()

	if s.cfg.InitialDelay >= 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			t := time.NewTimer(s.cfg.InitialDelay)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
				s.runJob(ctx, JobPopularRefresh)
			}
		}()
	}

	s.cron = c
	s.cancel = cancel
	s.running = true

	s.log.Info().
		Str("daily", s.cfg.DailySpec).
		Str("popular", s.cfg.PopularSpec).
		Str("eviction", s.cfg.EvictionSpec).
		Str("tz", s.cfg.Location.String()).
		Msg("scheduler started")
}

// Stop cancels running jobs and waits for them to return. Calling it on a
// stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Entries lists the next run time of each scheduled job, for diagnostics.
func (s *Scheduler) Entries() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	var out []time.Time
	for _, e := range s.cron.Entries() {
		out = append(out, e.Next)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// RunNow runs job synchronously outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, job string) error {
	fn, ok := s.jobs[job]
	if !ok {
		return fmt.Errorf("unknown job %q", job)
	}
	s.log.Info().Str("job", job).Msg("manual run triggered")
	return safely(ctx, fn)
}

// runJob isolates a scheduled run: errors and panics are logged, never
// propagated.
func (s *Scheduler) runJob(ctx context.Context, job string) {
	log := logging.WithJob(s.log, job)
	start := time.Now()
	log.Info().Msg("job started")

	if err := safely(ctx, s.jobs[job]); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
		if s.notify != nil && ctx.Err() == nil {
			s.notify.Send(ctx, fmt.Sprintf("%s failed: %v", job, err))
		}
		return
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("job finished")
}

func safely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) dailyRefresh(ctx context.Context) error {
	start := time.Now()
	symbols, err := s.svc.StoredSymbols(ctx)
	if err != nil {
		return err
	}

	report := notifications.JobReport{Job: JobDailyRefresh, Total: len(symbols)}
	for i, sym := range symbols {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.SymbolDelay); err != nil {
				return err
			}
		}
		log := logging.WithSymbol(s.log, sym)
		if _, err := s.svc.PriceSeries(ctx, sym); err != nil {
			log.Warn().Err(err).Msg("daily price refresh failed")
			report.Failed = append(report.Failed, sym)
			continue
		}
		if _, err := s.svc.Overview(ctx, sym); err != nil {
			log.Warn().Err(err).Msg("daily overview refresh failed")
			report.Failed = append(report.Failed, sym)
			continue
		}
		report.Succeeded++
	}
	report.Duration = time.Since(start)

	s.log.Info().Int("symbols", report.Total).Int("refreshed", report.Succeeded).Msg("daily refresh complete")
	if s.notify != nil {
		s.notify.JobSummary(ctx, report)
	}
	return nil
}

func (s *Scheduler) popularRefresh(ctx context.Context) error {
	refreshed := 0
	for i, sym := range s.cfg.PopularSymbols {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.SymbolDelay); err != nil {
				return err
			}
		}
		log := logging.WithSymbol(s.log, sym)
		if err := s.svc.InvalidatePriceSeries(ctx, sym); err != nil {
			log.Warn().Err(err).Msg("invalidate failed")
			continue
		}
		if _, err := s.svc.PriceSeries(ctx, sym); err != nil {
			log.Warn().Err(err).Msg("popular refresh failed")
			continue
		}
		refreshed++
	}
	s.log.Info().Int("refreshed", refreshed).Int("symbols", len(s.cfg.PopularSymbols)).Msg("popular refresh complete")
	return nil
}

func (s *Scheduler) evictCache(ctx context.Context) error {
	n, err := s.svc.EvictExpired(ctx)
	if err != nil {
		return err
	}
	s.log.Info().Int64("removed", n).Msg("expired cache entries evicted")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
