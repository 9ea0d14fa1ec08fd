// Command marketdata runs the market-data core: it backfills recent candles,
// rolls them up into higher timeframes, streams live L2 and candle updates,
// and serves the query API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"marketdata-core/config"
	"marketdata-core/internal/api"
	"marketdata-core/internal/logger"
	"marketdata-core/internal/marketdata/backfill"
	"marketdata-core/internal/marketdata/quotes"
	"marketdata-core/internal/marketdata/ws"
	"marketdata-core/internal/metrics"
	"marketdata-core/internal/model"
	"marketdata-core/internal/rollup"
	redisstore "marketdata-core/internal/store/redis"
	sqlitestore "marketdata-core/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 5 * time.Second
	livenessInterval = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "marketdata: %v\n", err)
		os.Exit(1)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marketdata: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init("marketdata", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("marketdata exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("starting", "symbols", cfg.Symbols, "timeframe", cfg.Timeframe,
		"rollup_base", cfg.RollupBaseTF, "rollup_tfs", cfg.RollupTFs)

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// ---- SQLite ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return fmt.Errorf("sqlite init: %w", err)
	}
	defer store.Close()
	store.OnCommit = prom.SQLiteCommitDur.Observe
	health.SetSQLiteOK(true)

	// ---- Redis mirror (optional) ----
	var (
		rdb    *goredis.Client
		mirror *redisstore.Mirror
	)
	if cfg.RedisEnabled() {
		health.SetRedisEnabled(true)
		rdb, err = redisstore.Dial(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Warn("redis init failed, continuing without redis", "error", err)
		} else {
			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(_, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			mirror = redisstore.NewMirror(rdb, cb)
			mirror.OnHeld = prom.RedisHeldWrites.Inc
			defer mirror.Close()
		}
	}
	publishQuote := func(q model.Quote) {
		if mirror == nil {
			return
		}
		if err := mirror.PublishQuote(ctx, q); err != nil {
			log.Debug("redis quote mirror failed", "symbol", q.Symbol, "error", err)
		}
	}
	publishCandle := func(c model.Candle) {
		if mirror == nil {
			return
		}
		if err := mirror.PublishCandle(ctx, c); err != nil {
			log.Debug("redis candle mirror failed", "symbol", c.Symbol, "timeframe", c.Timeframe, "error", err)
		}
	}

	// ---- Quote batcher ----
	batcher := quotes.New(store)
	batcher.OnFlushed = func(q model.Quote) {
		prom.QuotesFlushed.Inc()
		publishQuote(q)
	}
	batcher.OnFlushDone = func(_ int, seconds float64) {
		prom.QuoteFlushDur.Observe(seconds)
	}
	batcher.OnWriteError = func(string, error) {
		prom.QuoteWriteErrors.Inc()
	}

	// ---- Rollups ----
	engine, err := rollup.New(store, rollup.Config{
		Symbols:   cfg.Symbols,
		BaseTF:    cfg.RollupBase(),
		HigherTFs: cfg.RollupTargets(),
	})
	if err != nil {
		return fmt.Errorf("rollup init: %w", err)
	}
	engine.OnBuckets = func(tf model.Timeframe, n int) {
		prom.RollupBuckets.WithLabelValues(tf.String()).Add(float64(n))
		prom.CandleUpserts.WithLabelValues("rollup").Add(float64(n))
	}
	engine.OnPass = func(seconds float64, err error) {
		prom.RollupDur.Observe(seconds)
		if err != nil {
			prom.RollupErrors.Inc()
			prom.CandleUpsertErrors.WithLabelValues("rollup").Inc()
		}
		health.SetRollup(time.Now(), err)
	}

	// ---- Backfill ----
	loader := backfill.New(backfill.Config{
		BaseURL:   cfg.RESTURL,
		Timeframe: cfg.StreamTimeframe(),
	}, store)
	loader.OnRows = func(symbol string, n int) {
		prom.BackfillRows.WithLabelValues(symbol).Add(float64(n))
		prom.CandleUpserts.WithLabelValues("backfill").Add(float64(n))
	}
	loader.OnError = func(symbol string, _ error) {
		prom.BackfillErrors.WithLabelValues(symbol).Inc()
	}

	// ---- Websocket ingest ----
	ingest, err := ws.New(ws.Config{
		URL:       cfg.WSURL,
		Symbols:   cfg.Symbols,
		Timeframe: cfg.StreamTimeframe(),
		Reconnect: ws.FixedDelay(cfg.WSReconnectDelay),
	}, store, batcher)
	if err != nil {
		return fmt.Errorf("ws init: %w", err)
	}
	ingest.OnReconnect = func(int) {
		prom.WSReconnects.Inc()
	}
	ingest.OnStateChange = func(s ws.State) {
		prom.WSState.Set(float64(s))
		health.SetWSState(s.String())
	}
	ingest.OnFrame = func(kind string) {
		prom.FramesTotal.WithLabelValues(kind).Inc()
		health.SetLastFrameTime(time.Now())
	}
	ingest.OnMalformed = prom.MalformedFrames.Inc
	ingest.OnCandle = func(c model.Candle) {
		prom.CandleUpserts.WithLabelValues("stream").Inc()
		publishCandle(c)
	}
	ingest.OnCandleError = func(model.Candle, error) {
		prom.CandleUpsertErrors.WithLabelValues("stream").Inc()
	}

	// ---- Servers ----
	handler := api.NewHandler(store, engine, cfg.Symbols, log)
	handler.OnRequest = func(route string, code int, seconds float64) {
		prom.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		prom.APIRequestDur.WithLabelValues(route).Observe(seconds)
	}
	apiSrv := api.NewServer(cfg.APIAddr(), handler)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prom, health)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("api listening", "addr", cfg.APIAddr())
		return apiSrv.ListenAndServe()
	})
	g.Go(func() error {
		log.Info("metrics listening", "addr", cfg.MetricsAddr)
		return metricsSrv.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := apiSrv.Stop(shutdownCtx); err != nil {
			log.Warn("api shutdown", "error", err)
		}
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			log.Warn("metrics shutdown", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		health.RunLivenessChecker(gctx, rdb, store.DB(), livenessInterval)
		return nil
	})
	g.Go(func() error {
		batcher.Run(gctx, cfg.QuoteFlushInterval)
		return nil
	})

	// Startup sequence: backfill, one rollup pass, then the live stream and
	// the rollup timer.
	g.Go(func() error {
		results := loader.BackfillAll(gctx, cfg.Symbols, cfg.BackfillLimit)
		if err := backfill.Errors(results); err != nil {
			log.Warn("backfill incomplete", "error", err)
		}
		if gctx.Err() != nil {
			return nil
		}

		res, err := engine.RunAll(gctx)
		if err != nil {
			log.Error("initial rollup failed", "error", err)
		} else {
			log.Info("initial rollup done", "buckets", res.Buckets, "took", res.Duration.String())
		}

		g.Go(func() error { return ingest.Run(gctx) })
		engine.Run(gctx, cfg.RollupInterval)
		return nil
	})

	return g.Wait()
}
