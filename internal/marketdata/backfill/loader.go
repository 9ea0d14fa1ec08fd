// Package backfill seeds the candle store from the exchange's REST candle
// endpoint before streaming starts.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"marketdata-core/internal/model"
)

const (
	// DefaultBaseURL is the exchange REST root.
	DefaultBaseURL = "https://api.gemini.com"

	// DefaultLimit is how many of the newest candles are kept per symbol.
	DefaultLimit = 300
)

// Config holds configuration for the REST loader.
type Config struct {
	BaseURL   string          // defaults to DefaultBaseURL
	Timeframe model.Timeframe // defaults to 1m
	Timeout   time.Duration   // per request, defaults to 15s
}

// Loader fetches recent candles and upserts them in one batch per symbol.
type Loader struct {
	cfg    Config
	client *http.Client
	store  model.CandleWriter

	// Optional metrics hooks
	OnRows  func(symbol string, n int)
	OnError func(symbol string, err error)
}

// Result reports the outcome for one symbol of BackfillAll.
type Result struct {
	Symbol string
	Rows   int
	Err    error
}

// New creates a Loader writing to store.
func New(cfg Config, store model.CandleWriter) *Loader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeframe == "" {
		cfg.Timeframe = model.TF1m
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Loader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		store:  store,
	}
}

// BackfillSymbol fetches the candle history for symbol, keeps the newest
// limit rows and upserts them oldest first. Returns the number of rows written.
func (l *Loader) BackfillSymbol(ctx context.Context, symbol string, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := l.fetch(ctx, symbol)
	if err != nil {
		return 0, err
	}

	// Newest first on the wire.
	if len(rows) > limit {
		rows = rows[:limit]
	}
	candles := make([]model.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		c, err := rows[i].Candle(symbol, l.cfg.Timeframe)
		if err != nil {
			return 0, fmt.Errorf("backfill %s: row %d: %w", symbol, i, err)
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return 0, nil
	}

	if err := l.store.UpsertCandles(ctx, candles); err != nil {
		return 0, fmt.Errorf("backfill %s: store: %w", symbol, err)
	}
	return len(candles), nil
}

// BackfillAll runs BackfillSymbol for every symbol in order. A failing symbol
// is logged and does not stop the rest.
func (l *Loader) BackfillAll(ctx context.Context, symbols []string, limit int) []Result {
	results := make([]Result, 0, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			results = append(results, Result{Symbol: sym, Err: ctx.Err()})
			continue
		}
		n, err := l.BackfillSymbol(ctx, sym, limit)
		results = append(results, Result{Symbol: sym, Rows: n, Err: err})
		if err != nil {
			slog.Error("backfill failed", "component", "backfill", "symbol", sym, "error", err)
			if l.OnError != nil {
				l.OnError(sym, err)
			}
			continue
		}
		slog.Info("backfill done", "component", "backfill", "symbol", sym,
			"timeframe", l.cfg.Timeframe, "rows", n)
		if l.OnRows != nil {
			l.OnRows(sym, n)
		}
	}
	return results
}

// Errors joins the failures in results, or returns nil.
func Errors(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

func (l *Loader) fetch(ctx context.Context, symbol string) ([]model.CandleTuple, error) {
	url := l.cfg.BaseURL + "/v2/candles/" + strings.ToLower(symbol) + "/" + string(l.cfg.Timeframe)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("backfill %s: %w", symbol, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backfill %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("backfill %s failed: %d", symbol, resp.StatusCode)
	}

	var rows []model.CandleTuple
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("backfill %s: decode: %w", symbol, err)
	}
	return rows, nil
}
