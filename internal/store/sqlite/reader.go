package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketdata-core/internal/model"
)

// LatestCandleTS returns the newest stored ts for symbol+tf.
// ok is false if no candles exist.
func (s *Store) LatestCandleTS(ctx context.Context, symbol string, tf model.Timeframe) (int64, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND timeframe = ?`,
		symbol, string(tf),
	).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite latest ts %s:%s: %w", symbol, tf, err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// CandlesSince reads candles with ts >= sinceTS, ordered by ts ascending.
func (s *Store) CandlesSince(ctx context.Context, symbol string, tf model.Timeframe, sinceTS int64) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts >= ?
		ORDER BY ts ASC
	`, symbol, string(tf), sinceTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles since: %w", err)
	}
	return scanCandles(rows)
}

// LatestCandles reads the newest limit candles and returns them ascending.
func (s *Store) LatestCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query latest candles: %w", err)
	}
	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// CandleRange reads candles with from <= ts <= to, ascending, at most limit rows.
func (s *Store) CandleRange(ctx context.Context, symbol string, tf model.Timeframe, from, to int64, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
		LIMIT ?
	`, symbol, string(tf), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candle range: %w", err)
	}
	return scanCandles(rows)
}

// LatestQuote reads the newest quote for symbol. ok is false if none exist.
func (s *Store) LatestQuote(ctx context.Context, symbol string) (model.Quote, bool, error) {
	var (
		q             model.Quote
		bid, ask, lst sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, ts, bid, ask, last
		FROM quotes
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT 1
	`, symbol).Scan(&q.Symbol, &q.TS, &bid, &ask, &lst)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Quote{}, false, nil
		}
		return model.Quote{}, false, fmt.Errorf("sqlite latest quote %s: %w", symbol, err)
	}
	q.Bid = floatPtr(bid)
	q.Ask = floatPtr(ask)
	q.Last = floatPtr(lst)
	return q, true, nil
}

// Stats summarizes table contents for operational checks.
type Stats struct {
	Candles int64
	Quotes  int64
	Latest  *model.Candle // newest candle across all symbols and timeframes
}

// Stats counts rows and loads the newest candle.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candles`).Scan(&st.Candles); err != nil {
		return st, fmt.Errorf("sqlite count candles: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quotes`).Scan(&st.Quotes); err != nil {
		return st, fmt.Errorf("sqlite count quotes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM candles
		ORDER BY ts DESC
		LIMIT 1
	`)
	if err != nil {
		return st, fmt.Errorf("sqlite latest candle: %w", err)
	}
	latest, err := scanCandles(rows)
	if err != nil {
		return st, err
	}
	if len(latest) == 1 {
		st.Latest = &latest[0]
	}
	return st, nil
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			c  model.Candle
			tf string
		)
		if err := rows.Scan(&c.Symbol, &tf, &c.TS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.Timeframe = model.Timeframe(tf)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
