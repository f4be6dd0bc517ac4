package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

const klinesBody = `[
 [1499040000000,"0.01634790","0.80000000","0.01575800","0.01577100","148976.11427815",1499040059999,"2434.19055334",308,"1756.87402397","28.46694368","0"],
 [1499040060000,"0.01577100","0.01600000","0.01570000","0.01590000","1000.0",1499040119999,"16.0",12,"500.0","8.0","0"]
]`

func TestKlineClientPeriods(t *testing.T) {
	var query atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Path + "?" + r.URL.RawQuery)
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer server.Close()

	client := NewKlineClient(server.URL+"/", WithKlineLimit(2), WithRateLimit(1000, 10))
	periods, err := client.Periods(context.Background(), "btcusdt", 60)
	require.NoError(t, err)
	require.Equal(t, "/api/v3/klines?interval=1m&limit=2&symbol=BTCUSDT", query.Load())

	require.Len(t, periods, 2)
	first := periods[0]
	require.Equal(t, "BTCUSDT", first.Symbol)
	require.Equal(t, 60, first.Timeframe)
	require.True(t, first.Start.Equal(time.UnixMilli(1499040000000)))
	require.InDelta(t, 0.0163479, first.Open, 1e-12)
	require.InDelta(t, 0.8, first.High, 1e-12)
	require.InDelta(t, 0.015758, first.Low, 1e-12)
	require.InDelta(t, 0.015771, first.Close, 1e-12)
	require.EqualValues(t, 308, first.Volume)
	require.True(t, periods[1].Start.After(first.Start))
	require.True(t, first.End().Equal(periods[1].Start))
}

func TestKlineClientUnsupportedTimeframe(t *testing.T) {
	client := NewKlineClient("http://127.0.0.1:1")
	_, err := client.Periods(context.Background(), "BTCUSDT", 45)
	require.ErrorIs(t, err, ErrUnsupportedTimeframe)

	interval, ok := Interval(14400)
	require.True(t, ok)
	require.Equal(t, "4h", interval)
}

func TestKlineClientBreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"code":-1003,"msg":"too many requests"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewKlineClient(server.URL, WithRateLimit(1000, 10))
	for i := 0; i < 5; i++ {
		_, err := client.Periods(context.Background(), "BTCUSDT", 300)
		require.Error(t, err)
		require.Contains(t, err.Error(), "status 429")
	}
	require.EqualValues(t, 5, hits.Load())

	_, err := client.Periods(context.Background(), "BTCUSDT", 300)
	require.Error(t, err)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.EqualValues(t, 5, hits.Load(), "open breaker must not reach the server")
}

func TestKlineClientMalformedRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[1499040000000,"1","2"]]`))
	}))
	defer server.Close()

	client := NewKlineClient(server.URL, WithRateLimit(1000, 10))
	_, err := client.Periods(context.Background(), "BTCUSDT", 60)
	require.Error(t, err)
}
