// Package exchange hosts connectors for centralized venues and tick sources.
package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketwatch-go/internal/market"
	"marketwatch-go/internal/metrics"
)

const (
	// ProviderStub emits deterministic synthetic quotes (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams best bid/ask from Binance public websockets.
	ProviderBinance = "binance"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBinanceWSURL = "wss://stream.binance.com:9443/stream"
	stubSpread          = 0.02
)

// Feed represents a pluggable quote stream implementation. The symbol set can
// change while Run is active; streaming providers resubscribe when it does.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	pollInterval time.Duration
	wsURL        string
	now          func() time.Time
	changed      chan struct{}
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithPollInterval overrides the cadence of the stub provider.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithWSURL points the Binance provider at another combined-stream endpoint.
func WithWSURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.wsURL = strings.TrimSuffix(url, "/")
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		pollInterval: defaultPollInterval,
		wsURL:        defaultBinanceWSURL,
		now:          time.Now,
		changed:      make(chan struct{}, 1),
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provider returns the normalized provider name.
func (f *Feed) Provider() string { return f.provider }

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	if f.setSymbols(symbols) {
		f.notifyChanged()
	}
}

// AddSymbol starts tracking symbol. It reports whether the set changed.
func (f *Feed) AddSymbol(symbol string) bool {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return false
	}
	f.mu.RLock()
	current := append([]string{symbol}, f.symbols...)
	f.mu.RUnlock()

	if !f.setSymbols(current) {
		return false
	}
	f.notifyChanged()
	return true
}

// Symbols returns a copy of the tracked symbols.
func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

func (f *Feed) setSymbols(symbols []string) bool {
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	next := make([]string, 0, len(unique))
	for sym := range unique {
		next = append(next, sym)
	}
	sort.Strings(next)

	f.mu.Lock()
	defer f.mu.Unlock()
	if equalStrings(f.symbols, next) {
		return false
	}
	f.symbols = next
	return true
}

func (f *Feed) notifyChanged() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- market.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- market.Tick) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	var px float64 = 100.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px += 0.1
			for _, s := range f.Symbols() {
				tick := market.Tick{Symbol: s, Time: ts, Bid: px, Ask: px + stubSpread}
				select {
				case out <- tick:
					metrics.TicksTotal.WithLabelValues(s).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
