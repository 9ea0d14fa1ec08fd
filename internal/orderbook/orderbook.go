// Package orderbook keeps an in-memory L2 price→quantity view per side and
// derives the best bid and best ask from it.
//
// A Book is not goroutine-safe. It is owned by the single ingestion goroutine
// that applies deltas for its symbol.
package orderbook

import (
	"fmt"
	"strconv"
)

// Side is the book side named by an L2 delta.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide maps the wire token ("buy"/"sell") to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Best is the top of book. A nil field means that side is empty.
type Best struct {
	Bid *float64
	Ask *float64
}

// Book holds bid and ask levels for one symbol.
type Book struct {
	bids map[float64]float64
	asks map[float64]float64
}

// New returns an empty book.
func New() *Book {
	return &Book{
		bids: make(map[float64]float64, 256),
		asks: make(map[float64]float64, 256),
	}
}

// ApplyChange sets the resting quantity at price on side. A quantity of
// exactly zero removes the level. Negative values are stored as given.
// Unparseable numbers leave the book untouched.
func (b *Book) ApplyChange(side Side, price, qty string) error {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", price, err)
	}
	q, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return fmt.Errorf("parse quantity %q: %w", qty, err)
	}

	levels := b.bids
	if side == Sell {
		levels = b.asks
	}
	if q == 0 {
		delete(levels, p)
		return nil
	}
	levels[p] = q
	return nil
}

// Best scans both sides: max bid price, min ask price.
func (b *Book) Best() Best {
	var best Best
	for p := range b.bids {
		if best.Bid == nil || p > *best.Bid {
			v := p
			best.Bid = &v
		}
	}
	for p := range b.asks {
		if best.Ask == nil || p < *best.Ask {
			v := p
			best.Ask = &v
		}
	}
	return best
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}
