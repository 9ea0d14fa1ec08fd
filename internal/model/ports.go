package model

import "context"

// ── Storage Port Interfaces ──
// These decouple ingestion, rollup and the API from the concrete store (SQLite).

// CandleWriter is the upsert contract every candle producer depends on.
// A second write for the same (symbol, timeframe, ts) overwrites OHLCV in place.
type CandleWriter interface {
	UpsertCandle(ctx context.Context, c Candle) error

	// UpsertCandles writes all candles in one transaction.
	UpsertCandles(ctx context.Context, candles []Candle) error
}

// CandleReader reads persisted series.
type CandleReader interface {
	// LatestCandleTS returns the newest ts for symbol+tf; ok is false when none exist.
	LatestCandleTS(ctx context.Context, symbol string, tf Timeframe) (ts int64, ok bool, err error)

	// CandlesSince returns candles with ts >= sinceTS in ascending ts order.
	CandlesSince(ctx context.Context, symbol string, tf Timeframe, sinceTS int64) ([]Candle, error)

	// LatestCandles returns the newest limit candles in ascending ts order.
	LatestCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)

	// CandleRange returns candles with from <= ts <= to, ascending, at most limit rows.
	CandleRange(ctx context.Context, symbol string, tf Timeframe, from, to int64, limit int) ([]Candle, error)
}

// CandleStore combines reads and writes, as used by the rollup engine.
type CandleStore interface {
	CandleReader
	CandleWriter
}

// QuoteWriter persists top-of-book snapshots keyed by (symbol, ts).
type QuoteWriter interface {
	UpsertQuote(ctx context.Context, q Quote) error
}

// QuoteReader reads the newest persisted quote. ok is false when none exist.
type QuoteReader interface {
	LatestQuote(ctx context.Context, symbol string) (q Quote, ok bool, err error)
}
