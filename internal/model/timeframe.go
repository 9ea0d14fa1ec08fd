package model

import (
	"fmt"
	"strings"
)

// Timeframe is a bucket granularity token as used on the wire and in storage.
type Timeframe string

const (
	TF1m    Timeframe = "1m"
	TF5m    Timeframe = "5m"
	TF15m   Timeframe = "15m"
	TF30m   Timeframe = "30m"
	TF1hr   Timeframe = "1hr"
	TF6hr   Timeframe = "6hr"
	TF1day  Timeframe = "1day"
	TFDaily Timeframe = "1d"
	TFWeek  Timeframe = "1w"
	TFMonth Timeframe = "1mo"
	TFHalf  Timeframe = "6mo"
	TFYear  Timeframe = "1y"
)

// StreamTimeframes are the candle resolutions the exchange publishes.
var StreamTimeframes = []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1hr, TF6hr, TF1day}

// HigherTimeframes are the rollup targets built from daily candles.
var HigherTimeframes = []Timeframe{TFWeek, TFMonth, TFHalf, TFYear}

// ParseTimeframe normalizes s and checks it against every known token.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if tf.IsStream() || tf == TFDaily || tf.IsHigher() {
		return tf, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", s)
}

// IsStream reports whether tf is published by the exchange feed.
func (tf Timeframe) IsStream() bool {
	return contains(StreamTimeframes, tf)
}

// IsHigher reports whether tf is a daily→higher rollup target.
func (tf Timeframe) IsHigher() bool {
	return contains(HigherTimeframes, tf)
}

func (tf Timeframe) String() string { return string(tf) }

func contains(list []Timeframe, tf Timeframe) bool {
	for _, v := range list {
		if v == tf {
			return true
		}
	}
	return false
}
