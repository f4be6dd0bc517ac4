package market

import (
	"math"
	"time"
)

// Period is an OHLC bar over a fixed window. Volume counts ticks, not traded size.
type Period struct {
	Symbol    string    `json:"symbol"`
	Start     time.Time `json:"start"`
	PriceKind PriceKind `json:"price_kind"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Timeframe int       `json:"timeframe"` // seconds
	Ticks     []Tick    `json:"ticks,omitempty"`
}

// Duration is the timeframe as a time.Duration.
func (p Period) Duration() time.Duration { return time.Duration(p.Timeframe) * time.Second }

// End returns Start + Timeframe.
func (p Period) End() time.Time { return p.Start.Add(p.Duration()) }

// Equal reports whether both periods describe the same window of the same symbol.
func (p Period) Equal(other Period) bool {
	return p.Symbol == other.Symbol && p.Start.Equal(other.Start) && p.Timeframe == other.Timeframe
}

// Body is close minus open.
func (p Period) Body() float64 { return p.Close - p.Open }

// AbsBody is the absolute body size.
func (p Period) AbsBody() float64 { return math.Abs(p.Body()) }

// Momentum is close over open; zero when open is zero.
func (p Period) Momentum() float64 {
	if p.Open == 0 {
		return 0
	}
	return p.Close / p.Open
}

// LowerShadow is the distance from the body bottom to the low.
func (p Period) LowerShadow() float64 { return math.Min(p.Open, p.Close) - p.Low }

// UpperShadow is the distance from the high to the body top.
func (p Period) UpperShadow() float64 { return p.High - math.Max(p.Open, p.Close) }

// OHLC returns open, high, low, close.
func (p Period) OHLC() [4]float64 { return [4]float64{p.Open, p.High, p.Low, p.Close} }

// OHLCV returns open, high, low, close and volume.
func (p Period) OHLCV() [5]float64 {
	return [5]float64{p.Open, p.High, p.Low, p.Close, float64(p.Volume)}
}

func (p Period) IsBullish() bool { return p.Body() > 0 }
func (p Period) IsBearish() bool { return p.Body() < 0 }
func (p Period) IsNeutral() bool { return p.Body() == 0 }

// AlignStart floors t to a Unix-epoch multiple of timeframe seconds.
// Non-positive timeframes return t unchanged.
func AlignStart(t time.Time, timeframe int) time.Time {
	if timeframe <= 0 {
		return t
	}
	step := int64(timeframe)
	sec := t.Unix()
	floor := sec - sec%step
	if sec < 0 && sec%step != 0 {
		floor -= step
	}
	return time.Unix(floor, 0).In(t.Location())
}
