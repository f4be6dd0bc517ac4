package exchange

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketwatch-go/internal/market"
)

// Account is the live account: quotes from a Feed fanned out through a
// TickHub, period history from a KlineClient.
type Account struct {
	feed   *Feed
	hub    *TickHub
	klines *KlineClient
	log    zerolog.Logger
}

// NewAccount wires feed and klines into an account.
func NewAccount(feed *Feed, klines *KlineClient, log zerolog.Logger) *Account {
	return &Account{feed: feed, hub: NewTickHub(0), klines: klines, log: log}
}

// Run streams the feed into subscribers until ctx is done.
func (a *Account) Run(ctx context.Context) error {
	ticks := make(chan market.Tick, 256)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.feed.Run(gctx, ticks)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case tk := <-ticks:
				a.hub.Publish(tk)
			}
		}
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SubscribeTicks returns every tick the feed produces until ctx is done.
func (a *Account) SubscribeTicks(ctx context.Context) (<-chan market.Tick, error) {
	return a.hub.Subscribe(ctx), nil
}

// WatchSymbolTicks adds symbol to the feed; streaming feeds resubscribe.
func (a *Account) WatchSymbolTicks(_ context.Context, symbol string) error {
	if a.feed.AddSymbol(symbol) {
		a.log.Info().Str("symbol", symbol).Msg("streaming symbol ticks")
	}
	return nil
}

// SymbolPeriods returns the latest exchange periods for (symbol, timeframe).
func (a *Account) SymbolPeriods(ctx context.Context, symbol string, timeframe int) ([]market.Period, error) {
	return a.klines.Periods(ctx, symbol, timeframe)
}
