package watcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"marketwatch-go/internal/market"
	"marketwatch-go/internal/metrics"
)

type checkResult string

const (
	resultUnseeded  checkResult = "unseeded"
	resultEarly     checkResult = "early"
	resultUnchanged checkResult = "unchanged"
	resultClosed    checkResult = "closed"
	resultShared    checkResult = "shared"
	resultError     checkResult = "error"
)

type sweepTarget struct {
	symbol    string
	timeframe int
}

// Sweep runs one closed-period pass over every symbol watching periods. Each
// (symbol, timeframe) is checked independently; failures are logged and
// dropped so one bad pair never stops the rest.
func (w *Watcher) Sweep(ctx context.Context) {
	// Durations use wall time; w.now only drives alignment and the pre-check.
	started := time.Now()
	targets := w.sweepTargets()

	var g errgroup.Group
	g.SetLimit(w.sweepConcurrency)
	for _, target := range targets {
		g.Go(func() error {
			result, err := w.checkClosedPeriod(ctx, target.symbol, target.timeframe)
			if err != nil {
				w.log.Debug().Err(err).
					Str("symbol", target.symbol).
					Int("timeframe", target.timeframe).
					Msg("closed period check failed")
			}
			metrics.SweepChecksTotal.WithLabelValues(string(result)).Inc()
			return nil
		})
	}
	_ = g.Wait()

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	w.log.Debug().Int("checks", len(targets)).Dur("took", time.Since(started)).Msg("closed period sweep done")
}

func (w *Watcher) sweepTargets() []sweepTarget {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var targets []sweepTarget
	for symbol, d := range w.directives {
		if !d.sweepable() {
			continue
		}
		for _, tf := range d.Timeframes {
			targets = append(targets, sweepTarget{symbol: symbol, timeframe: tf})
		}
	}
	return targets
}

// checkClosedPeriod is serialized per (symbol, timeframe): concurrent callers
// for the same key share one in-flight check, and the cache is only replaced
// through compareAndSwap, so a transition is published at most once.
func (w *Watcher) checkClosedPeriod(ctx context.Context, symbol string, timeframe int) (checkResult, error) {
	key := symbol + "/" + strconv.Itoa(timeframe)
	v, err, shared := w.inflight.Do(key, func() (any, error) {
		return w.check(ctx, symbol, timeframe)
	})
	result, _ := v.(checkResult)
	if shared && result == resultClosed {
		result = resultShared
	}
	if err != nil {
		return resultError, err
	}
	return result, nil
}

func (w *Watcher) check(ctx context.Context, symbol string, timeframe int) (checkResult, error) {
	cached, ok := w.LastClosedPeriod(symbol, timeframe)
	if !ok {
		return resultUnseeded, nil
	}

	// The next period cannot have closed before cached end + one timeframe.
	step := time.Duration(timeframe) * time.Second
	if w.now().Before(cached.End().Add(step)) {
		return resultEarly, nil
	}

	qctx, cancel := context.WithTimeout(ctx, w.queryTimeout)
	defer cancel()
	periods, err := w.account.SymbolPeriods(qctx, symbol, timeframe)
	if err != nil {
		return resultError, fmt.Errorf("periods %s/%d: %w", symbol, timeframe, err)
	}
	if len(periods) == 0 {
		return resultError, ErrNoPeriods
	}
	fresh := periods[len(periods)-1]

	if !w.compareAndSwap(symbol, timeframe, cached, fresh) {
		return resultUnchanged, nil
	}

	metrics.PeriodClosesTotal.WithLabelValues(symbol, strconv.Itoa(timeframe)).Inc()
	w.log.Debug().Str("symbol", symbol).Int("timeframe", timeframe).Time("end", fresh.End()).Msg("period closed")
	w.notify(Event{Type: EventPeriodClose, Period: &fresh})
	return resultClosed, nil
}

// compareAndSwap stores fresh when the cache still holds a period ending at
// expected's end and fresh ends strictly later.
func (w *Watcher) compareAndSwap(symbol string, timeframe int, expected, fresh market.Period) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	current, ok := w.lastClosed[symbol][timeframe]
	if !ok || !current.End().Equal(expected.End()) {
		return false
	}
	if !fresh.End().After(current.End()) {
		return false
	}
	w.lastClosed[symbol][timeframe] = fresh
	return true
}
