// Package rollup incrementally folds base-timeframe candles into daily
// candles, and daily candles into week, month, semester and year candles.
//
// Each stage resumes from the newest existing destination candle. That
// bucket may still be forming, so the source scan starts at its ts
// (inclusive) and the bucket is rebuilt rather than skipped. Buckets older
// than the bookmark are never rescanned.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"marketdata-core/internal/model"
)

var (
	// ErrUnsupportedBase is returned for a base timeframe other than 1m or 1d.
	ErrUnsupportedBase = errors.New("unsupported rollup base timeframe")

	// ErrUnsupportedTimeframe is returned for a higher timeframe outside 1w/1mo/6mo/1y.
	ErrUnsupportedTimeframe = errors.New("unsupported rollup timeframe")
)

// Config selects what a full pass covers.
type Config struct {
	Symbols   []string
	BaseTF    model.Timeframe   // 1m: build 1d first; 1d: daily candles already exist
	HigherTFs []model.Timeframe // subset of 1w, 1mo, 6mo, 1y
}

// Result counts the buckets upserted per destination timeframe in one pass.
type Result struct {
	Buckets  map[model.Timeframe]int
	Duration time.Duration
}

// Engine runs rollup passes against a CandleStore.
type Engine struct {
	store model.CandleStore
	cfg   Config

	// Serializes passes from the timer and from manual triggers.
	mu sync.Mutex

	// Optional metrics hooks
	OnBuckets func(tf model.Timeframe, n int)
	OnPass    func(seconds float64, err error)
}

// New validates cfg and returns an Engine.
func New(store model.CandleStore, cfg Config) (*Engine, error) {
	if cfg.BaseTF != model.TF1m && cfg.BaseTF != model.TFDaily {
		return nil, fmt.Errorf("%w: %q (use %q or %q)", ErrUnsupportedBase, cfg.BaseTF, model.TF1m, model.TFDaily)
	}
	for _, tf := range cfg.HigherTFs {
		if !tf.IsHigher() {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, tf)
		}
	}
	return &Engine{store: store, cfg: cfg}, nil
}

// RollupBaseToDaily folds 1m candles of symbol into 1d candles.
func (e *Engine) RollupBaseToDaily(ctx context.Context, symbol string) (int, error) {
	return e.rollup(ctx, symbol, model.TF1m, model.TFDaily, func(ts int64) (int64, error) {
		return DayStart(ts), nil
	})
}

// RollupDailyToHigher folds 1d candles of symbol into tf candles.
func (e *Engine) RollupDailyToHigher(ctx context.Context, symbol string, tf model.Timeframe) (int, error) {
	if !tf.IsHigher() {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, tf)
	}
	return e.rollup(ctx, symbol, model.TFDaily, tf, func(ts int64) (int64, error) {
		return PeriodStart(ts, tf)
	})
}

// RunAll performs a full pass: base→daily for every symbol (when the base is
// 1m), then daily→higher for every symbol and configured timeframe.
// A failing symbol does not stop the others; all failures are joined.
func (e *Engine) RunAll(ctx context.Context) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res := Result{Buckets: make(map[model.Timeframe]int)}
	var errs []error

	if e.cfg.BaseTF == model.TF1m {
		for _, symbol := range e.cfg.Symbols {
			n, err := e.RollupBaseToDaily(ctx, symbol)
			res.Buckets[model.TFDaily] += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s→%s: %w", symbol, model.TF1m, model.TFDaily, err))
			}
		}
	}

	for _, symbol := range e.cfg.Symbols {
		for _, tf := range e.cfg.HigherTFs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			n, err := e.RollupDailyToHigher(ctx, symbol, tf)
			res.Buckets[tf] += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s→%s: %w", symbol, model.TFDaily, tf, err))
			}
		}
	}

	res.Duration = time.Since(start)
	err := errors.Join(errs...)
	for tf, n := range res.Buckets {
		if e.OnBuckets != nil {
			e.OnBuckets(tf, n)
		}
	}
	if e.OnPass != nil {
		e.OnPass(res.Duration.Seconds(), err)
	}
	return res, err
}

// Run performs a pass every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := e.RunAll(ctx)
			if err != nil {
				slog.Error("rollup pass failed", "component", "rollup", "error", err)
				continue
			}
			slog.Info("rollup pass done", "component", "rollup",
				"buckets", res.Buckets, "took", res.Duration.String())
		}
	}
}

// bucketAgg is the forming aggregate for one destination bucket.
type bucketAgg struct {
	candle  model.Candle
	firstTS int64
	lastTS  int64
}

func (e *Engine) rollup(ctx context.Context, symbol string, src, dst model.Timeframe, bucketOf func(int64) (int64, error)) (int, error) {
	since, _, err := e.store.LatestCandleTS(ctx, symbol, dst)
	if err != nil {
		return 0, err
	}

	rows, err := e.store.CandlesSince(ctx, symbol, src, since)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	out, err := aggregate(symbol, dst, rows, bucketOf)
	if err != nil {
		return 0, err
	}
	if err := e.store.UpsertCandles(ctx, out); err != nil {
		return 0, err
	}
	return len(out), nil
}

// aggregate groups rows into buckets. Open and close follow the earliest and
// latest source ts in each bucket regardless of the order rows arrive in.
// Output is sorted by bucket start.
func aggregate(symbol string, dst model.Timeframe, rows []model.Candle, bucketOf func(int64) (int64, error)) ([]model.Candle, error) {
	buckets := make(map[int64]*bucketAgg)

	for _, r := range rows {
		bucket, err := bucketOf(r.TS)
		if err != nil {
			return nil, err
		}

		a, ok := buckets[bucket]
		if !ok {
			buckets[bucket] = &bucketAgg{
				candle: model.Candle{
					Symbol:    symbol,
					Timeframe: dst,
					TS:        bucket,
					Open:      r.Open,
					High:      r.High,
					Low:       r.Low,
					Close:     r.Close,
					Volume:    r.Volume,
				},
				firstTS: r.TS,
				lastTS:  r.TS,
			}
			continue
		}

		c := &a.candle
		if r.High > c.High {
			c.High = r.High
		}
		if r.Low < c.Low {
			c.Low = r.Low
		}
		c.Volume += r.Volume
		if r.TS < a.firstTS {
			a.firstTS = r.TS
			c.Open = r.Open
		}
		if r.TS > a.lastTS {
			a.lastTS = r.TS
			c.Close = r.Close
		}
	}

	out := make([]model.Candle, 0, len(buckets))
	for _, a := range buckets {
		out = append(out, a.candle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out, nil
}
