// Package paper provides an in-memory account that serves ticks it was fed
// and builds period history from them.
package paper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"marketwatch-go/internal/exchange"
	"marketwatch-go/internal/market"
	"marketwatch-go/internal/period"
)

// ErrNoTicks is returned by SymbolPeriods for a symbol without recorded ticks.
var ErrNoTicks = errors.New("paper: no ticks recorded for symbol")

// SymbolSource is a tick producer that can be asked to cover another symbol.
type SymbolSource interface {
	AddSymbol(symbol string) bool
}

// Account records ingested ticks, fans them out to subscribers and composes
// periods from the recorded history on demand.
type Account struct {
	ledger *Ledger
	hub    *exchange.TickHub
	kind   market.PriceKind
	source SymbolSource
	log    zerolog.Logger

	mu        sync.Mutex
	streaming map[string]bool
}

// Option configures Account construction parameters.
type Option func(*Account)

// WithPriceKind selects the quote side periods are built from (bid by default).
func WithPriceKind(kind market.PriceKind) Option {
	return func(a *Account) {
		if kind != "" {
			a.kind = kind
		}
	}
}

// WithSource lets WatchSymbolTicks extend the symbol set of the tick producer.
func WithSource(src SymbolSource) Option {
	return func(a *Account) { a.source = src }
}

// WithLogger sets the account logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Account) { a.log = log }
}

// NewAccount constructs an account storing ticks in ledger.
func NewAccount(ledger *Ledger, opts ...Option) *Account {
	if ledger == nil {
		ledger = NewLedger(0)
	}
	a := &Account{
		ledger:    ledger,
		hub:       exchange.NewTickHub(0),
		kind:      market.PriceBid,
		log:       zerolog.Nop(),
		streaming: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest records tk and hands it to subscribers. Out-of-order ticks are dropped.
func (a *Account) Ingest(tk market.Tick) {
	if !a.ledger.Record(tk) {
		a.log.Debug().Str("symbol", tk.Symbol).Time("time", tk.Time).Msg("dropping out-of-order tick")
		return
	}
	a.hub.Publish(tk)
}

// Pump ingests ticks from ch until ch closes or ctx is done.
func (a *Account) Pump(ctx context.Context, ch <-chan market.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tk, ok := <-ch:
			if !ok {
				return nil
			}
			a.Ingest(tk)
		}
	}
}

// SubscribeTicks returns every ingested tick until ctx is done.
func (a *Account) SubscribeTicks(ctx context.Context) (<-chan market.Tick, error) {
	return a.hub.Subscribe(ctx), nil
}

// WatchSymbolTicks marks symbol as streamed and asks the source to cover it.
func (a *Account) WatchSymbolTicks(_ context.Context, symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return fmt.Errorf("paper: empty symbol")
	}
	a.mu.Lock()
	a.streaming[symbol] = true
	a.mu.Unlock()
	if a.source != nil {
		a.source.AddSymbol(symbol)
	}
	return nil
}

// Streaming reports whether WatchSymbolTicks was called for symbol.
func (a *Account) Streaming(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streaming[symbol]
}

// SymbolPeriods composes the recorded ticks of symbol into periods. Windows
// are aligned to the timeframe, starting at the one holding the oldest tick;
// the last period is the one still being filled.
func (a *Account) SymbolPeriods(_ context.Context, symbol string, timeframe int) ([]market.Period, error) {
	if timeframe <= 0 {
		return nil, fmt.Errorf("paper: invalid timeframe %d", timeframe)
	}
	ticks := a.ledger.Snapshot(symbol)
	if len(ticks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTicks, symbol)
	}
	start := market.AlignStart(ticks[0].Time, timeframe)
	return period.Compose(ticks, start, timeframe, a.kind, period.Unlimited), nil
}

// Ledger exposes the underlying tick history.
func (a *Account) Ledger() *Ledger { return a.ledger }
