// Package watcher follows a set of symbols and publishes tick and period-close
// notifications. Closed periods are detected by a minute-aligned sweep that
// compares the last known period of every (symbol, timeframe) with the
// account's latest one.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"marketwatch-go/internal/bus"
	"marketwatch-go/internal/market"
	"marketwatch-go/internal/metrics"
)

// Event types published on the watcher bus.
const (
	EventTick        = "tick"
	EventPeriodClose = "period-close"
)

const (
	defaultSettleMargin     = 3 * time.Second
	defaultSweepInterval    = time.Minute
	defaultQueryTimeout     = 10 * time.Second
	defaultSweepConcurrency = 4
)

var (
	// ErrEmptySymbol is returned by Watch for a blank symbol.
	ErrEmptySymbol = errors.New("watcher: empty symbol")
	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("watcher: stopped")
	// ErrNoPeriods reports an account that answered with an empty period list.
	ErrNoPeriods = errors.New("watcher: account returned no periods")
)

// Account is the trading/data account the watcher reads from.
type Account interface {
	// SubscribeTicks delivers ticks for every symbol until ctx is cancelled.
	SubscribeTicks(ctx context.Context) (<-chan market.Tick, error)
	// WatchSymbolTicks asks the account to stream ticks for symbol.
	WatchSymbolTicks(ctx context.Context, symbol string) error
	// SymbolPeriods returns periods ascending by start; the last one may still be open.
	SymbolPeriods(ctx context.Context, symbol string, timeframe int) ([]market.Period, error)
}

// Event is the payload of every watcher notification.
type Event struct {
	Type   string         `json:"type"`
	Tick   *market.Tick   `json:"tick,omitempty"`
	Period *market.Period `json:"period,omitempty"`
}

// Watcher owns the directive map, the last-closed-period cache, the tick
// subscription and the sweep timers of one watch session.
type Watcher struct {
	account Account
	log     zerolog.Logger
	now     func() time.Time
	bus     *bus.Bus[Event]

	settleMargin     time.Duration
	sweepInterval    time.Duration
	queryTimeout     time.Duration
	sweepConcurrency int

	active atomic.Bool

	mu         sync.RWMutex
	directives map[string]Directives
	lastClosed map[string]map[int]market.Period
	streaming  map[string]bool
	symLocks   map[string]chan struct{}

	inflight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	life          sync.Mutex
	started       bool
	stopped       bool
	tickSubscribe bool
	alignTimer    *time.Timer
	sweepTicker   *time.Ticker
}

// Option configures Watcher construction parameters.
type Option func(*Watcher)

// WithLogger sets the logger; the default discards output.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// WithClock overrides the wall clock used for alignment and the sweep pre-check.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSettleMargin sets the delay added after the minute boundary before the first sweep.
func WithSettleMargin(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.settleMargin = d
		}
	}
}

// WithSweepInterval sets the period of the recurring sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.sweepInterval = d
		}
	}
}

// WithQueryTimeout bounds each SymbolPeriods call made by a sweep.
func WithQueryTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.queryTimeout = d
		}
	}
}

// WithSweepConcurrency caps how many checks one sweep runs at once.
func WithSweepConcurrency(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.sweepConcurrency = n
		}
	}
}

// New constructs an active watcher reading from account. Call Start to arm the sweep.
func New(account Account, opts ...Option) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		account:          account,
		log:              zerolog.Nop(),
		now:              time.Now,
		bus:              bus.New[Event](),
		settleMargin:     defaultSettleMargin,
		sweepInterval:    defaultSweepInterval,
		queryTimeout:     defaultQueryTimeout,
		sweepConcurrency: defaultSweepConcurrency,
		directives:       make(map[string]Directives),
		lastClosed:       make(map[string]map[int]market.Period),
		streaming:        make(map[string]bool),
		symLocks:         make(map[string]chan struct{}),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.active.Store(true)
	return w
}

// IsActive reports whether notifications reach subscribers.
func (w *Watcher) IsActive() bool { return w.active.Load() }

// SetActive suspends (false) or resumes (true) publishing. Sweeps and cache
// updates keep running while suspended.
func (w *Watcher) SetActive(active bool) { w.active.Store(active) }

// Subscribe registers a persistent handler for eventType.
func (w *Watcher) Subscribe(eventType string, handler bus.Handler[Event]) bus.Handle {
	return w.bus.Subscribe(eventType, handler)
}

// SubscribeOnce returns a channel resolved by the next eventType notification.
func (w *Watcher) SubscribeOnce(eventType string) (<-chan Event, func()) {
	return w.bus.SubscribeOnce(eventType)
}

// Next waits for the next eventType notification or ctx.
func (w *Watcher) Next(ctx context.Context, eventType string) (Event, error) {
	return w.bus.Next(ctx, eventType)
}

// Unsubscribe removes a handler registered with Subscribe.
func (w *Watcher) Unsubscribe(h bus.Handle) { w.bus.Unsubscribe(h) }

// SymbolDirectives returns a copy of the directives stored for symbol.
func (w *Watcher) SymbolDirectives(symbol string) (Directives, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d, ok := w.directives[symbol]
	if !ok {
		return Directives{}, false
	}
	return d.clone(), true
}

// WatchedSymbols lists symbols with stored directives, sorted.
func (w *Watcher) WatchedSymbols() []string {
	w.mu.RLock()
	out := make([]string, 0, len(w.directives))
	for sym := range w.directives {
		out = append(out, sym)
	}
	w.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Watch merges req into the directives of symbol. Turning ticks on opens the
// account tick subscription (once per watcher) and enables streaming for the
// symbol (once per symbol). When periods are watched, every timeframe without
// a cached period is seeded with the latest period from the account. If any
// of that fails the error is returned and the directives are left unchanged.
// Calls for the same symbol run one at a time.
func (w *Watcher) Watch(ctx context.Context, symbol string, req WatchRequest) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}
	if w.ctx.Err() != nil {
		return ErrStopped
	}

	lock := w.symbolLock(symbol)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	w.mu.RLock()
	previous, existed := w.directives[symbol]
	w.mu.RUnlock()
	merged := previous.Merge(req)

	if merged.WatchTicks && !previous.WatchTicks {
		if err := w.ensureTickSubscription(); err != nil {
			return err
		}
		if err := w.enableStreaming(ctx, symbol); err != nil {
			return err
		}
	}

	if merged.sweepable() {
		for _, tf := range merged.Timeframes {
			if err := w.seed(ctx, symbol, tf); err != nil {
				return err
			}
		}
	}

	w.mu.Lock()
	w.directives[symbol] = merged
	w.mu.Unlock()

	w.log.Info().
		Str("symbol", symbol).
		Bool("ticks", merged.WatchTicks).
		Bool("periods", merged.WatchPeriods).
		Ints("timeframes", merged.Timeframes).
		Bool("updated", existed).
		Msg("watching symbol")
	return nil
}

// Unwatch forgets the directives of symbol. The tick subscription stays open
// and cached periods are kept; unwatched symbols are neither dispatched nor swept.
// A Watch of the same symbol still in flight completes first.
func (w *Watcher) Unwatch(symbol string) {
	lock := w.symbolLock(symbol)
	lock <- struct{}{}
	defer func() { <-lock }()

	w.mu.Lock()
	_, ok := w.directives[symbol]
	delete(w.directives, symbol)
	w.mu.Unlock()
	if ok {
		w.log.Info().Str("symbol", symbol).Msg("unwatched symbol")
	}
}

// symbolLock returns the one-slot semaphore serializing Watch and Unwatch of symbol.
func (w *Watcher) symbolLock(symbol string) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.symLocks[symbol]
	if !ok {
		lock = make(chan struct{}, 1)
		w.symLocks[symbol] = lock
	}
	return lock
}

// LastClosedPeriod returns the cached last known period of (symbol, timeframe).
func (w *Watcher) LastClosedPeriod(symbol string, timeframe int) (market.Period, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.lastClosed[symbol][timeframe]
	return p, ok
}

// Start arms the alignment timer: the first sweep runs at the next wall-clock
// minute plus the settle margin, later sweeps every sweep interval.
func (w *Watcher) Start() {
	w.life.Lock()
	defer w.life.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true

	delay := untilNextMinute(w.now()) + w.settleMargin
	w.alignTimer = time.AfterFunc(delay, w.onAligned)
	w.log.Debug().Dur("delay", delay).Msg("closed period sweep armed")
}

// Stop cancels both timers and the tick subscription and waits for the
// watcher goroutines to return. Safe to call more than once.
func (w *Watcher) Stop() {
	w.life.Lock()
	if w.stopped {
		w.life.Unlock()
		return
	}
	w.stopped = true
	if w.alignTimer != nil {
		w.alignTimer.Stop()
	}
	if w.sweepTicker != nil {
		w.sweepTicker.Stop()
	}
	w.cancel()
	w.life.Unlock()

	w.wg.Wait()
	w.log.Info().Msg("watcher stopped")
}

func (w *Watcher) onAligned() {
	w.life.Lock()
	if w.stopped {
		w.life.Unlock()
		return
	}
	ticker := time.NewTicker(w.sweepInterval)
	w.sweepTicker = ticker
	w.wg.Add(1)
	w.life.Unlock()

	go func() {
		defer w.wg.Done()
		defer ticker.Stop()

		w.Sweep(w.ctx)
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.Sweep(w.ctx)
			}
		}
	}()
}

func (w *Watcher) ensureTickSubscription() error {
	w.life.Lock()
	defer w.life.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.tickSubscribe {
		return nil
	}

	ticks, err := w.account.SubscribeTicks(w.ctx)
	if err != nil {
		return fmt.Errorf("subscribe ticks: %w", err)
	}
	w.tickSubscribe = true
	w.wg.Add(1)
	go w.consumeTicks(ticks)
	return nil
}

func (w *Watcher) consumeTicks(ticks <-chan market.Tick) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case tk, ok := <-ticks:
			if !ok {
				w.log.Warn().Msg("account tick subscription closed")
				return
			}
			w.dispatchTick(tk)
		}
	}
}

// dispatchTick publishes tk when its symbol is watched with ticks on; anything else is dropped.
func (w *Watcher) dispatchTick(tk market.Tick) {
	w.mu.RLock()
	d, ok := w.directives[tk.Symbol]
	w.mu.RUnlock()
	if !ok || !d.WatchTicks {
		return
	}
	w.notify(Event{Type: EventTick, Tick: &tk})
}

// enableStreaming must be called with the symbol lock held.
func (w *Watcher) enableStreaming(ctx context.Context, symbol string) error {
	w.mu.RLock()
	done := w.streaming[symbol]
	w.mu.RUnlock()
	if done {
		return nil
	}
	if err := w.account.WatchSymbolTicks(ctx, symbol); err != nil {
		return fmt.Errorf("watch %s ticks: %w", symbol, err)
	}
	w.mu.Lock()
	w.streaming[symbol] = true
	w.mu.Unlock()
	return nil
}

// seed caches the latest period of (symbol, timeframe) unless one is already cached.
func (w *Watcher) seed(ctx context.Context, symbol string, timeframe int) error {
	if _, ok := w.LastClosedPeriod(symbol, timeframe); ok {
		return nil
	}
	periods, err := w.account.SymbolPeriods(ctx, symbol, timeframe)
	if err != nil {
		return fmt.Errorf("seed %s/%d: %w", symbol, timeframe, err)
	}
	if len(periods) == 0 {
		return fmt.Errorf("seed %s/%d: %w", symbol, timeframe, ErrNoPeriods)
	}
	last := periods[len(periods)-1]

	w.mu.Lock()
	byTimeframe := w.lastClosed[symbol]
	if byTimeframe == nil {
		byTimeframe = make(map[int]market.Period)
		w.lastClosed[symbol] = byTimeframe
	}
	if _, ok := byTimeframe[timeframe]; !ok {
		byTimeframe[timeframe] = last
	}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) notify(ev Event) {
	if !w.active.Load() {
		metrics.NotificationsSuppressedTotal.WithLabelValues(ev.Type).Inc()
		return
	}
	metrics.NotificationsTotal.WithLabelValues(ev.Type).Inc()
	w.bus.Publish(ev.Type, ev)
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}
