package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"marketwatch-go/internal/market"
)

func TestFeedRunEmitsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, []string{"BTCUSDT"}, zerolog.Nop(), WithPollInterval(10*time.Millisecond))
	ticks := make(chan market.Tick, 1)

	go func() {
		_ = feed.Run(ctx, ticks)
	}()

	select {
	case tk := <-ticks:
		if tk.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected symbol %s", tk.Symbol)
		}
		if tk.Ask <= tk.Bid {
			t.Fatalf("expected ask above bid, got bid=%v ask=%v", tk.Bid, tk.Ask)
		}
		cancel()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestFeedSymbolSet(t *testing.T) {
	feed := NewFeed("", []string{" ETHUSDT", "BTCUSDT", "ETHUSDT", ""}, zerolog.Nop())
	if feed.Provider() != ProviderStub {
		t.Fatalf("expected stub provider by default, got %s", feed.Provider())
	}
	got := feed.Symbols()
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("unexpected symbols %v", got)
	}
	if feed.AddSymbol("BTCUSDT") {
		t.Fatalf("adding a tracked symbol must not change the set")
	}
	if !feed.AddSymbol("SOLUSDT") {
		t.Fatalf("expected new symbol to change the set")
	}
	if len(feed.Symbols()) != 3 {
		t.Fatalf("expected 3 symbols, got %v", feed.Symbols())
	}
	select {
	case <-feed.changed:
	default:
		t.Fatalf("expected a change notification")
	}
}

func TestParseBinanceSymbol(t *testing.T) {
	cases := map[string]string{
		"btcusdt@bookTicker": "BTCUSDT",
		"ethusdt@aggTrade":   "ETHUSDT",
		"dogeusdt":           "DOGEUSDT",
		"":                   "",
	}
	for stream, expected := range cases {
		if got := parseBinanceSymbol(stream); got != expected {
			t.Fatalf("expected %s got %s", expected, got)
		}
	}
}

func TestDecodeBookTicker(t *testing.T) {
	at := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	feed := NewFeed(ProviderBinance, nil, zerolog.Nop())
	feed.now = func() time.Time { return at }

	tk, err := feed.decodeBookTicker([]byte(`{"stream":"bnbusdt@bookTicker","data":{"u":400900217,"s":"BNBUSDT","b":"25.35190000","B":"31.21","a":"25.36520000","A":"40.66"}}`))
	if err != nil {
		t.Fatalf("decodeBookTicker returned error: %v", err)
	}
	if tk.Symbol != "BNBUSDT" || tk.Bid != 25.3519 || tk.Ask != 25.3652 || !tk.Time.Equal(at) {
		t.Fatalf("unexpected tick %+v", tk)
	}

	if _, err := feed.decodeBookTicker([]byte(`{"stream":"x@bookTicker","data":{"b":"nan?","a":"1"}}`)); err == nil {
		t.Fatalf("expected error for invalid bid")
	}
}

func TestBinanceFeedResubscribesOnNewSymbol(t *testing.T) {
	upgrader := websocket.Upgrader{}
	streams := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streams <- r.URL.Query().Get("streams")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"stream":"btcusdt@bookTicker","data":{"u":1,"s":"BTCUSDT","b":"100.10","B":"1","a":"100.20","A":"2"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	feed := NewFeed(ProviderBinance, []string{"BTCUSDT"}, zerolog.Nop(), WithWSURL(wsURL))
	ticks := make(chan market.Tick, 4)
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, ticks) }()

	expectStreams(t, streams, "btcusdt@bookTicker")
	select {
	case tk := <-ticks:
		if tk.Symbol != "BTCUSDT" || tk.Bid != 100.10 || tk.Ask != 100.20 {
			t.Fatalf("unexpected tick %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}

	feed.AddSymbol("ETHUSDT")
	expectStreams(t, streams, "btcusdt@bookTicker/ethusdt@bookTicker")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop after cancel")
	}
}

func expectStreams(t *testing.T, streams <-chan string, want string) {
	t.Helper()
	select {
	case got := <-streams:
		if got != want {
			t.Fatalf("expected streams %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for subscription %q", want)
	}
}

func TestAccountStreamsFeedTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, nil, zerolog.Nop(), WithPollInterval(10*time.Millisecond))
	account := NewAccount(feed, NewKlineClient(""), zerolog.Nop())

	ticks, err := account.SubscribeTicks(ctx)
	if err != nil {
		t.Fatalf("SubscribeTicks returned error: %v", err)
	}
	if err := account.WatchSymbolTicks(ctx, "EURUSD"); err != nil {
		t.Fatalf("WatchSymbolTicks returned error: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- account.Run(ctx) }()

	select {
	case tk := <-ticks:
		if tk.Symbol != "EURUSD" {
			t.Fatalf("unexpected symbol %s", tk.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("account did not stop after cancel")
	}
}
