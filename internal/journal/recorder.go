// Package journal persists closed periods for later analysis.
package journal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"marketwatch-go/internal/market"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("journal: recorder closed")

// entry is the on-disk shape of one closed period; raw ticks are left out.
type entry struct {
	Symbol    string           `json:"symbol"`
	Timeframe int              `json:"timeframe"`
	Start     int64            `json:"start"`
	End       int64            `json:"end"`
	PriceKind market.PriceKind `json:"price_kind,omitempty"`
	Open      float64          `json:"open"`
	High      float64          `json:"high"`
	Low       float64          `json:"low"`
	Close     float64          `json:"close"`
	Volume    int64            `json:"volume"`
}

// JSONLRecorder appends closed periods as JSON lines.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single period to the underlying JSONL file.
func (r *JSONLRecorder) Record(p market.Period) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ErrClosed
	}
	return r.enc.Encode(entry{
		Symbol:    p.Symbol,
		Timeframe: p.Timeframe,
		Start:     p.Start.Unix(),
		End:       p.End().Unix(),
		PriceKind: p.PriceKind,
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Close:     p.Close,
		Volume:    p.Volume,
	})
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
