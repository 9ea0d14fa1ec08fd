package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Candle is one OHLCV bucket for a symbol at a given timeframe.
// Identity is (Symbol, Timeframe, TS); TS is the bucket start in epoch ms.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	TS        int64     `json:"ts"` // bucket start, epoch ms (UTC)
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Key returns "symbol:timeframe".
func (c *Candle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// Time returns the bucket start as a UTC time.
func (c *Candle) Time() time.Time {
	return time.UnixMilli(c.TS).UTC()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// ErrBadCandleTuple is returned for a candle row that is not exactly six
// non-null numbers.
var ErrBadCandleTuple = errors.New("bad candle tuple")

// CandleTuple is the exchange's wire row [ts, open, high, low, close, volume].
// Fields are pointers so that a missing or null value is distinguishable
// from zero.
type CandleTuple []*float64

// Candle converts t into a Candle for symbol and tf.
func (t CandleTuple) Candle(symbol string, tf Timeframe) (Candle, error) {
	if len(t) != 6 {
		return Candle{}, fmt.Errorf("%w: want 6 fields, got %d", ErrBadCandleTuple, len(t))
	}
	for i, v := range t {
		if v == nil {
			return Candle{}, fmt.Errorf("%w: field %d is null", ErrBadCandleTuple, i)
		}
	}
	return Candle{
		Symbol:    symbol,
		Timeframe: tf,
		TS:        int64(*t[0]),
		Open:      *t[1],
		High:      *t[2],
		Low:       *t[3],
		Close:     *t[4],
		Volume:    *t[5],
	}, nil
}

// Quote is a top-of-book snapshot. Bid, Ask and Last are nullable.
type Quote struct {
	Symbol string   `json:"symbol"`
	TS     int64    `json:"ts"` // epoch ms
	Bid    *float64 `json:"bid"`
	Ask    *float64 `json:"ask"`
	Last   *float64 `json:"last"`
}

// JSON returns the JSON-encoded quote.
func (q *Quote) JSON() []byte {
	b, _ := json.Marshal(q)
	return b
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
