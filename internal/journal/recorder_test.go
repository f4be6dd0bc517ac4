package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketwatch-go/internal/market"
)

func TestJSONLRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "periods.jsonl")

	recorder, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder error: %v", err)
	}
	p := market.Period{
		Symbol:    "BTCUSDT",
		Start:     time.Unix(1_700_000_040, 0),
		Timeframe: 60,
		PriceKind: market.PriceBid,
		Open:      1,
		High:      3,
		Low:       1,
		Close:     2,
		Volume:    4,
		Ticks:     []market.Tick{{Symbol: "BTCUSDT"}},
	}
	if err := recorder.Record(p); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := recorder.Record(p); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected one line in recorder output")
	}
	var decoded map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if decoded["symbol"] != "BTCUSDT" || decoded["end"] != float64(1_700_000_100) || decoded["volume"] != float64(4) {
		t.Fatalf("unexpected decoded period %v", decoded)
	}
	if _, ok := decoded["ticks"]; ok {
		t.Fatalf("raw ticks must not be journaled")
	}
	if scanner.Scan() {
		t.Fatalf("expected exactly one line")
	}
}
