package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketwatch-go/internal/market"
)

var t0 = time.Unix(1_700_000_040, 0).UTC()

func at(offset int, bid float64) market.Tick {
	return market.Tick{Symbol: "EURUSD", Time: t0.Add(time.Duration(offset) * time.Second), Bid: bid, Ask: bid + 0.0002}
}

func exampleTicks() []market.Tick {
	return []market.Tick{
		at(0, 1.1000),
		at(30, 1.1005),
		at(65, 1.0995),
		at(90, 1.1010),
	}
}

func TestComposeExampleScenario(t *testing.T) {
	periods := Compose(exampleTicks(), t0, 60, market.PriceBid, Unlimited)
	require.Len(t, periods, 2)

	first := periods[0]
	require.True(t, first.Start.Equal(t0))
	require.True(t, first.End().Equal(t0.Add(60*time.Second)))
	require.Equal(t, 1.1000, first.Open)
	require.Equal(t, 1.1005, first.High)
	require.Equal(t, 1.1000, first.Low)
	require.Equal(t, 1.1005, first.Close)
	require.EqualValues(t, 2, first.Volume)
	require.Equal(t, "EURUSD", first.Symbol)
	require.Equal(t, market.PriceBid, first.PriceKind)

	second := periods[1]
	require.True(t, second.Start.Equal(t0.Add(60*time.Second)))
	require.True(t, second.End().Equal(t0.Add(120*time.Second)))
	require.Equal(t, 1.0995, second.Open)
	require.Equal(t, 1.1010, second.High)
	require.Equal(t, 1.0995, second.Low)
	require.Equal(t, 1.1010, second.Close)
	require.EqualValues(t, 2, second.Volume)
}

func TestComposeLimitDropsTrailingWindow(t *testing.T) {
	periods := Compose(exampleTicks(), t0, 60, market.PriceBid, 1)
	require.Len(t, periods, 1)
	require.True(t, periods[0].Start.Equal(t0))
	require.EqualValues(t, 2, periods[0].Volume)

	require.Empty(t, Compose(exampleTicks(), t0, 60, market.PriceBid, 0))
	require.Len(t, Compose(exampleTicks(), t0, 60, market.PriceBid, 5), 2)
}

func TestComposeDegenerateInput(t *testing.T) {
	require.Empty(t, Compose(nil, t0, 60, market.PriceBid, Unlimited))
	require.Empty(t, Compose(exampleTicks(), t0, 0, market.PriceBid, Unlimited))
	require.Empty(t, Compose(exampleTicks(), t0, -60, market.PriceBid, Unlimited))
}

func TestComposeBoundaryTickClosesWindow(t *testing.T) {
	ticks := []market.Tick{at(10, 1.0), at(60, 2.0), at(61, 3.0)}
	periods := Compose(ticks, t0, 60, market.PriceBid, Unlimited)
	require.Len(t, periods, 2)
	require.EqualValues(t, 2, periods[0].Volume)
	require.Equal(t, 2.0, periods[0].Close)
	require.Equal(t, 3.0, periods[1].Open)
	require.True(t, periods[1].Start.Equal(t0.Add(60*time.Second)))
}

func TestComposeSkipsTicksBeforeWindowStart(t *testing.T) {
	ticks := []market.Tick{at(-30, 9.0), at(-1, 8.0), at(5, 1.0), at(20, 1.5)}
	periods := Compose(ticks, t0, 60, market.PriceBid, Unlimited)
	require.Len(t, periods, 1)
	require.Equal(t, 1.0, periods[0].Open)
	require.Equal(t, 1.5, periods[0].High)
	require.EqualValues(t, 2, periods[0].Volume)
}

func TestComposeGapsAreSparse(t *testing.T) {
	ticks := []market.Tick{at(0, 1.0), at(10, 1.1), at(400, 1.2), at(410, 1.3)}
	periods := Compose(ticks, t0, 60, market.PriceBid, Unlimited)
	require.Len(t, periods, 2)
	require.True(t, periods[1].Start.Equal(t0.Add(360*time.Second)))
	for _, p := range periods {
		require.GreaterOrEqual(t, p.Volume, int64(1))
	}
}

func TestComposeUsesAskPrices(t *testing.T) {
	periods := Compose(exampleTicks(), t0, 60, market.PriceAsk, Unlimited)
	require.Len(t, periods, 2)
	require.InDelta(t, 1.1002, periods[0].Open, 1e-9)
	require.Equal(t, market.PriceAsk, periods[0].PriceKind)
}

func TestComposeProperties(t *testing.T) {
	prices := []float64{1.3, 1.1, 1.7, 1.2, 0.9, 1.4, 1.4, 2.0, 0.5, 1.0, 1.05, 1.6}
	ticks := make([]market.Tick, 0, len(prices))
	for i, px := range prices {
		ticks = append(ticks, at(i*23, px))
	}

	for _, tf := range []int{1, 30, 60, 90, 3600} {
		periods := Compose(ticks, t0, tf, market.PriceBid, Unlimited)
		require.NotEmpty(t, periods)

		total := 0
		for _, p := range periods {
			require.LessOrEqual(t, p.Low, p.Open)
			require.LessOrEqual(t, p.Low, p.Close)
			require.GreaterOrEqual(t, p.High, p.Open)
			require.GreaterOrEqual(t, p.High, p.Close)
			require.EqualValues(t, len(p.Ticks), p.Volume)
			require.GreaterOrEqual(t, p.Volume, int64(1))
			for _, tk := range p.Ticks {
				require.False(t, tk.Time.Before(p.Start), "tick before period start")
				require.False(t, tk.Time.After(p.End()), "tick after period end")
			}
			total += len(p.Ticks)
		}
		require.Equal(t, len(ticks), total)

		for k := 0; k <= len(periods)+1; k++ {
			limited := Compose(ticks, t0, tf, market.PriceBid, k)
			want := k
			if want > len(periods) {
				want = len(periods)
			}
			require.Len(t, limited, want)
		}
	}
}

func TestComposeRawTicksAreCopied(t *testing.T) {
	ticks := exampleTicks()
	periods := Compose(ticks, t0, 60, market.PriceBid, Unlimited)
	ticks[0].Bid = 42
	require.Equal(t, 1.1000, periods[0].Ticks[0].Bid)
}
