// Binary watcher follows the configured symbols and reports ticks and closed periods.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketwatch-go/internal/config"
	"marketwatch-go/internal/exchange"
	"marketwatch-go/internal/journal"
	"marketwatch-go/internal/market"
	"marketwatch-go/internal/metrics"
	"marketwatch-go/internal/paper"
	"marketwatch-go/internal/relay"
	"marketwatch-go/internal/util"
	"marketwatch-go/internal/watcher"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	_ = godotenv.Load() // best-effort

	log := util.NewLogger("info", "")
	cfg, err := config.Load(getEnv("MARKETWATCH_CONFIG", defaultConfigPath))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat).With().Str("app", cfg.App.Name).Logger()

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	account, run, err := buildAccount(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build account")
	}
	go func() {
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("account stopped")
			cancel()
		}
	}()

	w := watcher.New(account,
		watcher.WithLogger(log),
		watcher.WithSettleMargin(config.Millis(cfg.Watcher.SettleMargin, 3*time.Second)),
		watcher.WithSweepInterval(config.Millis(cfg.Watcher.SweepInterval, time.Minute)),
		watcher.WithQueryTimeout(config.Millis(cfg.Watcher.QueryTimeout, 10*time.Second)),
		watcher.WithSweepConcurrency(cfg.Watcher.SweepConcurrency),
	)

	w.Subscribe(watcher.EventPeriodClose, func(ev watcher.Event) {
		p := ev.Period
		ohlc := p.OHLC()
		log.Info().
			Str("symbol", p.Symbol).
			Int("timeframe", p.Timeframe).
			Time("start", p.Start).
			Floats64("ohlc", ohlc[:]).
			Int64("volume", p.Volume).
			Msg("period closed")
	})
	w.Subscribe(watcher.EventTick, func(ev watcher.Event) {
		log.Debug().Str("symbol", ev.Tick.Symbol).Float64("bid", ev.Tick.Bid).Float64("ask", ev.Tick.Ask).Msg("tick")
	})

	if cfg.Journal.Path != "" {
		rec, err := journal.NewJSONLRecorder(cfg.Journal.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Journal.Path).Msg("open journal")
		}
		defer rec.Close()
		w.Subscribe(watcher.EventPeriodClose, func(ev watcher.Event) {
			if err := rec.Record(*ev.Period); err != nil {
				log.Warn().Err(err).Msg("journal write failed")
			}
		})
	}

	if cfg.Relay.Enabled {
		pub, err := relay.DialNATS(getEnv("NATS_URL", cfg.Relay.URL), cfg.App.Name)
		if err != nil {
			log.Error().Err(err).Msg("relay disabled")
		} else {
			defer pub.Close()
			r := relay.New(pub, cfg.Relay.SubjectPrefix, relay.WithTicks(cfg.Relay.Ticks), relay.WithLogger(log))
			r.Attach(w)
			defer r.Detach()
		}
	}

	for _, entry := range cfg.Watch {
		go watchWithRetry(ctx, w, entry, log)
	}

	// SIGUSR1 suspends or resumes notifications without stopping the sweep.
	toggle := make(chan os.Signal, 1)
	ossignal.Notify(toggle, syscall.SIGUSR1)
	defer ossignal.Stop(toggle)

	w.Start()
	log.Info().Str("provider", cfg.Feed.Provider).Int("watch_entries", len(cfg.Watch)).Msg("watcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			w.Stop()
			return
		case <-toggle:
			w.SetActive(!w.IsActive())
			log.Info().Bool("active", w.IsActive()).Msg("notifications toggled")
		}
	}
}

// buildAccount returns the account for the configured provider and the loop feeding it.
func buildAccount(cfg *config.Config, log zerolog.Logger) (watcher.Account, func(context.Context) error, error) {
	switch cfg.Feed.Provider {
	case exchange.ProviderBinance:
		feed := exchange.NewFeed(exchange.ProviderBinance, cfg.Feed.Symbols, log, exchange.WithWSURL(cfg.Feed.WSURL))
		klines := exchange.NewKlineClient(cfg.Feed.RESTURL,
			exchange.WithHTTPClient(&http.Client{Timeout: config.Millis(cfg.Feed.RequestTimeout, 5*time.Second)}),
			exchange.WithKlineLimit(cfg.Feed.KlineLimit),
			exchange.WithRateLimit(cfg.Feed.RatePerSecond, cfg.Feed.RateBurst),
		)
		account := exchange.NewAccount(feed, klines, log)
		return account, account.Run, nil
	default:
		kind, err := market.ParsePriceKind(cfg.Paper.PriceKind)
		if err != nil {
			return nil, nil, err
		}
		feed := exchange.NewFeed(exchange.ProviderStub, cfg.Feed.Symbols, log,
			exchange.WithPollInterval(config.Millis(cfg.Feed.PollInterval, 500*time.Millisecond)))
		account := paper.NewAccount(paper.NewLedger(cfg.Paper.MaxTicksPerSymbol),
			paper.WithPriceKind(kind),
			paper.WithSource(feed),
			paper.WithLogger(log),
		)
		run := func(ctx context.Context) error {
			ticks := make(chan market.Tick, 1024)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return feed.Run(gctx, ticks) })
			g.Go(func() error { return account.Pump(gctx, ticks) })
			return g.Wait()
		}
		return account, run, nil
	}
}

// watchWithRetry keeps calling Watch until it succeeds; a paper account has
// no periods to seed from until its first ticks arrive.
func watchWithRetry(ctx context.Context, w *watcher.Watcher, entry config.Watch, log zerolog.Logger) {
	req := watcher.WatchRequest{
		WatchTicks:   watcher.Bool(entry.Ticks),
		WatchPeriods: watcher.Bool(entry.Periods),
		Timeframes:   entry.Timeframes,
	}
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := w.Watch(attemptCtx, entry.Symbol, req)
		cancel()
		switch {
		case err == nil:
			return
		case errors.Is(err, watcher.ErrStopped), errors.Is(err, watcher.ErrEmptySymbol):
			log.Warn().Err(err).Str("symbol", entry.Symbol).Msg("watch skipped")
			return
		}
		log.Debug().Err(err).Str("symbol", entry.Symbol).Dur("retry_in", backoff).Msg("watch failed")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
