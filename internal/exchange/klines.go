package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"marketwatch-go/internal/market"
	"marketwatch-go/internal/metrics"
)

const (
	defaultBinanceRESTURL = "https://api.binance.com"
	defaultKlineLimit     = 2
	defaultRequestTimeout = 5 * time.Second
)

// ErrUnsupportedTimeframe is returned for timeframes Binance has no interval for.
var ErrUnsupportedTimeframe = errors.New("exchange: unsupported timeframe")

var binanceIntervals = map[int]string{
	60:     "1m",
	180:    "3m",
	300:    "5m",
	900:    "15m",
	1800:   "30m",
	3600:   "1h",
	7200:   "2h",
	14400:  "4h",
	21600:  "6h",
	28800:  "8h",
	43200:  "12h",
	86400:  "1d",
	259200: "3d",
	604800: "1w",
}

// KlineClient reads period history from the Binance REST API. Requests are
// paced by a token bucket and stop for a while after repeated failures.
type KlineClient struct {
	baseURL string
	client  *http.Client
	limit   int
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]market.Period]
}

// KlineOption configures a KlineClient.
type KlineOption func(*KlineClient)

// WithHTTPClient swaps the HTTP client (tests use httptest servers).
func WithHTTPClient(c *http.Client) KlineOption {
	return func(k *KlineClient) {
		if c != nil {
			k.client = c
		}
	}
}

// WithKlineLimit sets how many periods each request asks for.
func WithKlineLimit(n int) KlineOption {
	return func(k *KlineClient) {
		if n > 0 {
			k.limit = n
		}
	}
}

// WithRateLimit allows perSecond requests with the given burst.
func WithRateLimit(perSecond float64, burst int) KlineOption {
	return func(k *KlineClient) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			k.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewKlineClient builds a client for baseURL (defaults to api.binance.com).
func NewKlineClient(baseURL string, opts ...KlineOption) *KlineClient {
	if baseURL == "" {
		baseURL = defaultBinanceRESTURL
	}
	k := &KlineClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRequestTimeout},
		limit:   defaultKlineLimit,
		limiter: rate.NewLimiter(rate.Limit(8), 4),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.breaker = gobreaker.NewCircuitBreaker[[]market.Period](gobreaker.Settings{
		Name:        "binance-klines",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return k
}

// Interval returns the Binance interval name for a timeframe in seconds.
func Interval(timeframe int) (string, bool) {
	interval, ok := binanceIntervals[timeframe]
	return interval, ok
}

// Periods returns the latest periods of symbol ascending by start; the last
// one is usually still open.
func (k *KlineClient) Periods(ctx context.Context, symbol string, timeframe int) ([]market.Period, error) {
	interval, ok := Interval(timeframe)
	if !ok {
		return nil, fmt.Errorf("%w: %ds", ErrUnsupportedTimeframe, timeframe)
	}

	periods, err := k.breaker.Execute(func() ([]market.Period, error) {
		if err := k.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return k.fetch(ctx, symbol, timeframe, interval)
	})
	switch {
	case err == nil:
		metrics.KlineRequestsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.KlineRequestsTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.KlineRequestsTotal.WithLabelValues("error").Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}
	return periods, nil
}

func (k *KlineClient) fetch(ctx context.Context, symbol string, timeframe int, interval string) ([]market.Period, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(k.limit))
	endpoint := k.baseURL + "/api/v3/klines?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	periods := make([]market.Period, 0, len(rows))
	for i, row := range rows {
		p, err := decodeKline(row, symbol, timeframe)
		if err != nil {
			return nil, fmt.Errorf("kline row %d: %w", i, err)
		}
		periods = append(periods, p)
	}
	return periods, nil
}

// decodeKline reads [openTime, open, high, low, close, volume, closeTime,
// quoteVolume, trades, ...]. The trade count becomes the period volume so it
// matches the tick-count volume of composed periods. Exchange klines are
// trade prices, so PriceKind stays empty.
func decodeKline(row []json.RawMessage, symbol string, timeframe int) (market.Period, error) {
	if len(row) < 9 {
		return market.Period{}, fmt.Errorf("expected at least 9 fields, got %d", len(row))
	}
	var openTime, trades int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return market.Period{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[8], &trades); err != nil {
		return market.Period{}, fmt.Errorf("trade count: %w", err)
	}
	var ohlc [4]float64
	for i := range ohlc {
		var raw string
		if err := json.Unmarshal(row[i+1], &raw); err != nil {
			return market.Period{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return market.Period{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		ohlc[i] = v
	}
	return market.Period{
		Symbol:    strings.ToUpper(symbol),
		Start:     time.UnixMilli(openTime).UTC(),
		Open:      ohlc[0],
		High:      ohlc[1],
		Low:       ohlc[2],
		Close:     ohlc[3],
		Volume:    trades,
		Timeframe: timeframe,
	}, nil
}
