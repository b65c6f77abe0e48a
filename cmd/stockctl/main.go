// Command stockctl runs maintenance tasks against the StockPulse store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

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

// App holds the handles opened for a single command run.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Stocks *repository.StockRepo
	Cache  *repository.CacheRepo
	Svc    *resolver.Service

	close func()
}

func (a *App) open(ctx context.Context) error {
	store, closeStore, err := db.Open(ctx, a.Config, logging.Component(a.Logger, "db"))
	if err != nil {
		return err
	}
	a.close = closeStore
	a.Stocks = repository.NewStockRepo(store)
	a.Cache = repository.NewCacheRepo(store)
	upstream := external.NewAlphaVantageClient(a.Config.AlphaVantageAPIKey, external.AlphaVantageOptions{
		BaseURL: a.Config.AlphaVantageBaseURL,
		Logger:  logging.Component(a.Logger, "alphavantage"),
	})
	a.Svc = resolver.New(a.Stocks, a.Cache, upstream, synthetic.New(), resolver.Options{
		DemoMode: a.Config.DemoMode(),
		Logger:   a.Logger,
	})
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(logging.LogConfig{Level: cfg.LogLevel, Console: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg, log).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{Config: cfg, Logger: logger}

	root := &cobra.Command{
		Use:           "stockctl",
		Short:         "StockPulse store maintenance",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.Validate(app.Logger); err != nil {
				return err
			}
			return app.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.close != nil {
				app.close()
			}
		},
	}

	root.AddCommand(
		newSeedCmd(app),
		newRefreshCmd(app),
		newEvictCmd(app),
		newClearCacheCmd(app),
		newInfoCmd(app),
	)
	return root
}

func newSeedCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Resolve every popular symbol into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pause, _ := cmd.Flags().GetDuration("pause")
			failed := 0
			for i, sym := range synthetic.Symbols() {
				if i > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(pause):
					}
				}
				ps, err := app.Svc.PriceSeries(ctx, sym)
				if err != nil {
					failed++
					cmd.PrintErrf("  %-6s failed: %v\n", sym, err)
					continue
				}
				if _, err := app.Svc.Overview(ctx, sym); err != nil {
					cmd.PrintErrf("  %-6s overview failed: %v\n", sym, err)
				}
				cmd.Printf("  %-6s %d bars\n", sym, len(ps.Prices))
			}
			if failed > 0 {
				return fmt.Errorf("%d symbols failed to seed", failed)
			}
			return nil
		},
	}
	cmd.Flags().Duration("pause", time.Second, "pause between symbols")
	return cmd
}

func newRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [symbols...]",
		Short: "Refresh stored symbols, or only the ones given",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				cfg := scheduler.DefaultConfig()
				cfg.Logger = app.Logger
				sched, err := scheduler.New(app.Svc, notifications.NewSender(app.Config.WebhookURL, app.Config.ServiceName, app.Logger), cfg)
				if err != nil {
					return err
				}
				return sched.RunNow(ctx, scheduler.JobDailyRefresh)
			}

			for _, sym := range args {
				if err := app.Svc.InvalidatePriceSeries(ctx, sym); err != nil {
					return err
				}
				ps, err := app.Svc.PriceSeries(ctx, sym)
				if err != nil {
					return err
				}
				latest := "none"
				if b := ps.Latest(); b != nil {
					latest = b.Date
				}
				cmd.Printf("  %-6s %d bars, latest %s\n", ps.Symbol, len(ps.Prices), latest)
			}
			return nil
		},
	}
}

func newEvictCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Delete expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := app.Svc.EvictExpired(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("evicted %d expired entries\n", n)
			return nil
		},
	}
}

func newClearCacheCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := app.Cache.Clear(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("cleared %d cache entries\n", n)
			return nil
		},
	}
}

func newInfoCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show store counts and stored symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := app.Stocks.Stats(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("driver:  %s\n", app.Config.DBDriver)
			cmd.Printf("mode:    %s\n", map[bool]string{true: "demo", false: "live"}[app.Config.DemoMode()])
			cmd.Printf("stocks:  %d\nprices:  %d\ncache:   %d\n\n", st.Stocks, st.Prices, st.Cache)

			stocks, err := app.Stocks.List(ctx)
			if err != nil {
				return err
			}
			for _, s := range stocks {
				cmd.Printf("  %-6s %-32s %s\n", s.Symbol, s.Name, s.LastUpdated.Format(time.DateTime))
			}
			return nil
		},
	}
}
