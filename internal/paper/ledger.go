package paper

import (
	"sort"
	"sync"

	"marketwatch-go/internal/market"
)

// Ledger stores recent ticks per symbol in memory, oldest first.
type Ledger struct {
	mu        sync.Mutex
	maxPerSym int
	ticks     map[string][]market.Tick
}

// NewLedger creates an empty ledger keeping at most maxPerSymbol ticks for
// each symbol; zero or less keeps everything.
func NewLedger(maxPerSymbol int) *Ledger {
	if maxPerSymbol < 0 {
		maxPerSymbol = 0
	}
	return &Ledger{maxPerSym: maxPerSymbol, ticks: make(map[string][]market.Tick)}
}

// Record appends tk to its symbol history. Ticks older than the last recorded
// one are rejected so the history stays time ordered.
func (l *Ledger) Record(tk market.Tick) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.ticks[tk.Symbol]
	if n := len(history); n > 0 && tk.Time.Before(history[n-1].Time) {
		return false
	}
	history = append(history, tk)
	if l.maxPerSym > 0 && len(history) > l.maxPerSym {
		trimmed := make([]market.Tick, l.maxPerSym)
		copy(trimmed, history[len(history)-l.maxPerSym:])
		history = trimmed
	}
	l.ticks[tk.Symbol] = history
	return true
}

// Snapshot returns a copy of the recorded ticks of symbol.
func (l *Ledger) Snapshot(symbol string) []market.Tick {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.ticks[symbol]
	out := make([]market.Tick, len(history))
	copy(out, history)
	return out
}

// Symbols lists symbols with at least one tick, sorted.
func (l *Ledger) Symbols() []string {
	l.mu.Lock()
	out := make([]string, 0, len(l.ticks))
	for sym := range l.ticks {
		out = append(out, sym)
	}
	l.mu.Unlock()
	sort.Strings(out)
	return out
}

// Reset clears all stored ticks.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.ticks = make(map[string][]market.Tick)
	l.mu.Unlock()
}
