package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"marketwatch-go/internal/market"
	"marketwatch-go/internal/metrics"
)

type binanceEnvelope struct {
	Stream string            `json:"stream"`
	Data   binanceBookTicker `json:"data"`
}

type binanceBookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	Bid      string `json:"b"`
	BidQty   string `json:"B"`
	Ask      string `json:"a"`
	AskQty   string `json:"A"`
}

func (f *Feed) runBinance(ctx context.Context, out chan<- market.Tick) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		symbols := f.Symbols()
		if len(symbols) == 0 {
			select {
			case <-f.changed:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		connCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-f.changed:
				cancel()
			case <-connCtx.Done():
			}
		}()

		err := f.consumeBinanceStream(connCtx, binanceStreamURL(f.wsURL, symbols), symbols, out)
		resubscribe := connCtx.Err() != nil && ctx.Err() == nil
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resubscribe {
			f.log.Info().Strs("symbols", f.Symbols()).Msg("symbol set changed, resubscribing")
			backoff = time.Second
			continue
		}
		f.log.Warn().Err(err).Msg("binance feed disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func binanceStreamURL(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@bookTicker"
	}
	return fmt.Sprintf("%s?streams=%s", base, strings.Join(streams, "/"))
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, symbols []string, out chan<- market.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", symbols).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				// unblocks ReadMessage on cancellation
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		tick, err := f.decodeBookTicker(message)
		if err != nil {
			f.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}

		select {
		case out <- tick:
			metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decodeBookTicker maps one combined-stream bookTicker frame to a tick stamped
// with the receipt time; the payload carries no event time.
func (f *Feed) decodeBookTicker(message []byte) (market.Tick, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return market.Tick{}, err
	}
	symbol := strings.ToUpper(env.Data.Symbol)
	if symbol == "" {
		symbol = parseBinanceSymbol(env.Stream)
	}
	bid, err := strconv.ParseFloat(env.Data.Bid, 64)
	if err != nil {
		return market.Tick{}, fmt.Errorf("invalid bid: %w", err)
	}
	ask, err := strconv.ParseFloat(env.Data.Ask, 64)
	if err != nil {
		return market.Tick{}, fmt.Errorf("invalid ask: %w", err)
	}
	return market.Tick{Symbol: symbol, Time: f.now(), Bid: bid, Ask: ask}, nil
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
