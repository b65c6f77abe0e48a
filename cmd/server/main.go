package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/stockpulse-backend/internal/api"
	"github.com/kjannette/stockpulse-backend/internal/broadcast"
	"github.com/kjannette/stockpulse-backend/internal/config"
	"github.com/kjannette/stockpulse-backend/internal/db"
	"github.com/kjannette/stockpulse-backend/internal/external"
	"github.com/kjannette/stockpulse-backend/internal/logging"
	"github.com/kjannette/stockpulse-backend/internal/notifications"
	"github.com/kjannette/stockpulse-backend/internal/repository"
	"github.com/kjannette/stockpulse-backend/internal/resolver"
	"github.com/kjannette/stockpulse-backend/internal/scheduler"
	"github.com/kjannette/stockpulse-backend/internal/synthetic"
)

const banner = `
╔══════════════════════════════════════╗
║        StockPulse Backend v0.1       ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.LogConfig{
		Level:      cfg.LogLevel,
		Console:    cfg.LogConsole,
		FilePath:   cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 7,
		MaxAge:     14,
	})

	if err := cfg.Validate(log); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	cfg.Print(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := db.Open(ctx, cfg, logging.Component(log, "db"))
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database unavailable")
	}
	defer func() {
		closeStore()
		log.Info().Msg("database closed")
	}()

	upstream := external.NewAlphaVantageClient(cfg.AlphaVantageAPIKey, external.AlphaVantageOptions{
		BaseURL: cfg.AlphaVantageBaseURL,
		Logger:  logging.Component(log, "alphavantage"),
	})
	stocks := resolver.New(
		repository.NewStockRepo(store),
		repository.NewCacheRepo(store),
		upstream,
		synthetic.New(),
		resolver.Options{DemoMode: cfg.DemoMode(), Logger: log},
	)

	hub := broadcast.NewManager(log)
	notify := notifications.NewSender(cfg.WebhookURL, cfg.ServiceName, log)

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		loc, _ := time.LoadLocation(cfg.SchedulerTimezone)
		schedCfg := scheduler.DefaultConfig()
		schedCfg.Location = loc
		schedCfg.Logger = log
		sched, err = scheduler.New(stocks, notify, schedCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("scheduler setup failed")
		}
		sched.Start()
	} else {
		log.Info().Msg("scheduler disabled")
	}

	var ticker *scheduler.LiveTicker
	if cfg.LiveUpdatesEnabled {
		ticker = scheduler.NewLiveTicker(hub, scheduler.LiveConfig{
			Interval: cfg.LiveUpdateInterval,
			Logger:   log,
		})
		ticker.Start(ctx)
	}

	srv := api.NewServer(api.Deps{
		Stocks: stocks,
		Hub:    hub,
		Store:  store,
		Logger: log,
	}, cfg.APIPort, cfg.CORSAllowOrigin)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully")

		var steps []shutdownStep
		if ticker != nil {
			steps = append(steps, shutdownStep{"live ticker", func(context.Context) error { ticker.Stop(); return nil }})
		}
		if sched != nil {
			steps = append(steps, shutdownStep{"scheduler", func(context.Context) error { sched.Stop(); return nil }})
		}
		steps = append(steps,
			shutdownStep{"subscribers", func(context.Context) error { hub.CloseAll(); return nil }},
			shutdownStep{"api server", srv.Shutdown},
		)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runShutdown(shutdownCtx, log, steps)
		return nil
	})

	log.Info().Int("port", cfg.APIPort).Bool("demo_mode", cfg.DemoMode()).Msg("all services started")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
	}
	log.Info().Msg("shutdown complete")
}

type shutdownStep struct {
	name string
	stop func(context.Context) error
}

// runShutdown stops each component in order. A failing step is logged and
// the rest still run.
func runShutdown(ctx context.Context, log zerolog.Logger, steps []shutdownStep) {
	for _, st := range steps {
		if err := st.stop(ctx); err != nil {
			log.Error().Err(err).Str("component", st.name).Msg("shutdown error")
			continue
		}
		log.Info().Str("component", st.name).Msg("stopped")
	}
}
