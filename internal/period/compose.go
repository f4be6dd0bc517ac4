// Package period turns ordered tick sequences into OHLC periods.
package period

import (
	"time"

	"marketwatch-go/internal/market"
)

// Unlimited disables the limit argument of Compose.
const Unlimited = -1

// Compose aggregates ticks (non-decreasing Time) into periods of timeframe
// seconds, starting at windowStart. Window i covers
// [windowStart+i*T, windowStart+(i+1)*T] with an inclusive upper bound, so a
// tick sitting exactly on a boundary closes the earlier window. Windows with
// no ticks produce no period. The trailing window is emitted even if it is
// still open, unless limit (>= 0) was reached first.
func Compose(ticks []market.Tick, windowStart time.Time, timeframe int, kind market.PriceKind, limit int) []market.Period {
	if len(ticks) == 0 || timeframe <= 0 || limit == 0 {
		return []market.Period{}
	}

	step := time.Duration(timeframe) * time.Second
	start := windowStart
	end := start.Add(step)

	periods := make([]market.Period, 0, estimateCapacity(ticks, step, limit))
	var pending []market.Tick

	for _, tk := range ticks {
		if tk.Time.Before(start) {
			continue
		}

		closedStart := start
		advanced := false
		for tk.Time.After(end) {
			start = end
			end = start.Add(step)
			advanced = true
		}

		if advanced && len(pending) > 0 {
			periods = append(periods, build(pending, closedStart, timeframe, kind))
			pending = pending[:0]
			if limit > Unlimited && len(periods) >= limit {
				return periods
			}
		}

		pending = append(pending, tk)
	}

	if len(pending) > 0 {
		periods = append(periods, build(pending, start, timeframe, kind))
	}
	return periods
}

func build(ticks []market.Tick, start time.Time, timeframe int, kind market.PriceKind) market.Period {
	open := ticks[0].Price(kind)
	high, low := open, open
	for _, tk := range ticks[1:] {
		px := tk.Price(kind)
		if px > high {
			high = px
		}
		if px < low {
			low = px
		}
	}
	raw := make([]market.Tick, len(ticks))
	copy(raw, ticks)

	return market.Period{
		Symbol:    ticks[0].Symbol,
		Start:     start,
		PriceKind: kind,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     ticks[len(ticks)-1].Price(kind),
		Volume:    int64(len(ticks)),
		Timeframe: timeframe,
		Ticks:     raw,
	}
}

func estimateCapacity(ticks []market.Tick, step time.Duration, limit int) int {
	span := ticks[len(ticks)-1].Time.Sub(ticks[0].Time)
	n := int(span/step) + 1
	if n < 1 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}
	if n > len(ticks) {
		n = len(ticks)
	}
	return n
}
