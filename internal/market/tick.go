// Package market standardizes the quote and bar payloads shared by feeds, the composer and the watcher.
package market

import (
	"fmt"
	"strings"
	"time"
)

// PriceKind selects which side of a quote a period is built from.
type PriceKind string

const (
	// PriceBid builds periods from bid prices.
	PriceBid PriceKind = "bid"
	// PriceAsk builds periods from ask prices.
	PriceAsk PriceKind = "ask"
)

// ParsePriceKind maps config strings onto a PriceKind; empty input defaults to bid.
func ParsePriceKind(s string) (PriceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bid":
		return PriceBid, nil
	case "ask":
		return PriceAsk, nil
	default:
		return "", fmt.Errorf("unknown price kind %q", s)
	}
}

// Tick is a single timestamped bid/ask quote.
type Tick struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
}

// Price returns the side of the quote selected by kind.
func (t Tick) Price(kind PriceKind) float64 {
	if kind == PriceAsk {
		return t.Ask
	}
	return t.Bid
}

// Spread is ask minus bid.
func (t Tick) Spread() float64 { return t.Ask - t.Bid }
