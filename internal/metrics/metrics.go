package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the market-data service.
type Metrics struct {
	Registry *prometheus.Registry

	// Streaming ingest
	FramesTotal     *prometheus.CounterVec // labels: kind=l2|candles
	MalformedFrames prometheus.Counter
	WSReconnects    prometheus.Counter
	WSState         prometheus.Gauge // 0=disconnected 1=connecting 2=subscribed 3=streaming

	// Candle persistence
	CandleUpserts      *prometheus.CounterVec // labels: source=stream|backfill|rollup
	CandleUpsertErrors *prometheus.CounterVec // labels: source
	SQLiteCommitDur    prometheus.Histogram

	// Quote batcher
	QuotesFlushed    prometheus.Counter
	QuoteWriteErrors prometheus.Counter
	QuoteFlushDur    prometheus.Histogram

	// Rollup
	RollupDur     prometheus.Histogram
	RollupBuckets *prometheus.CounterVec // labels: tf
	RollupErrors  prometheus.Counter

	// Backfill
	BackfillRows   *prometheus.CounterVec // labels: symbol
	BackfillErrors *prometheus.CounterVec // labels: symbol

	// Redis mirror
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisHeldWrites          prometheus.Counter

	// Query API
	APIRequests   *prometheus.CounterVec   // labels: route, code
	APIRequestDur *prometheus.HistogramVec // labels: route
}

// NewMetrics builds every metric on a fresh registry, together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_ws_frames_total",
			Help: "Decoded websocket frames by kind",
		}, []string{"kind"}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_ws_malformed_frames_total",
			Help: "Websocket payloads dropped as malformed",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_ws_reconnects_total",
			Help: "Websocket reconnect attempts",
		}),
		WSState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdata_ws_state",
			Help: "Websocket state (0=disconnected, 1=connecting, 2=subscribed, 3=streaming)",
		}),

		CandleUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_candle_upserts_total",
			Help: "Candles upserted by source",
		}, []string{"source"}),
		CandleUpsertErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_candle_upsert_errors_total",
			Help: "Failed candle upserts by source",
		}, []string{"source"}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketdata_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		QuotesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_quotes_flushed_total",
			Help: "Quotes written by the batcher",
		}),
		QuoteWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_quote_write_errors_total",
			Help: "Failed quote writes (kept pending for the next flush)",
		}),
		QuoteFlushDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketdata_quote_flush_duration_seconds",
			Help:    "Quote batcher flush latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		RollupDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketdata_rollup_duration_seconds",
			Help:    "Full rollup pass latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		RollupBuckets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_rollup_buckets_total",
			Help: "Rollup buckets upserted by destination timeframe",
		}, []string{"tf"}),
		RollupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_rollup_errors_total",
			Help: "Rollup passes that returned an error",
		}),

		BackfillRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_backfill_rows_total",
			Help: "Candles loaded by REST backfill",
		}, []string{"symbol"}),
		BackfillErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_backfill_errors_total",
			Help: "Failed REST backfills",
		}, []string{"symbol"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdata_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisHeldWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_redis_held_writes_total",
			Help: "Mirror writes held for replay while Redis was unavailable",
		}),

		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdata_api_requests_total",
			Help: "Query API requests by route and status code",
		}, []string{"route", "code"}),
		APIRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdata_api_request_duration_seconds",
			Help:    "Query API latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FramesTotal,
		m.MalformedFrames,
		m.WSReconnects,
		m.WSState,
		m.CandleUpserts,
		m.CandleUpsertErrors,
		m.SQLiteCommitDur,
		m.QuotesFlushed,
		m.QuoteWriteErrors,
		m.QuoteFlushDur,
		m.RollupDur,
		m.RollupBuckets,
		m.RollupErrors,
		m.BackfillRows,
		m.BackfillErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisHeldWrites,
		m.APIRequests,
		m.APIRequestDur,
	)

	return m
}

// HealthStatus is the service health reported on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	WSState       string    `json:"ws_state"`
	LastFrameTime time.Time `json:"last_frame_time"`
	SQLiteOK      bool      `json:"sqlite_ok"`
	RedisEnabled  bool      `json:"redis_enabled"`
	RedisOK       bool      `json:"redis_ok"`
	LastRollupAt  time.Time `json:"last_rollup_at"`
	LastRollupErr string    `json:"last_rollup_err"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		WSState:   "disconnected",
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSState(s string) {
	h.mu.Lock()
	h.WSState = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastFrameTime(t time.Time) {
	h.mu.Lock()
	h.LastFrameTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

// SetRollup records the outcome of the latest rollup pass.
func (h *HealthStatus) SetRollup(at time.Time, err error) {
	h.mu.Lock()
	h.LastRollupAt = at
	h.LastRollupErr = ""
	if err != nil {
		h.LastRollupErr = err.Error()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisOK = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// RunLivenessChecker probes the dependencies every interval until ctx is
// cancelled. rdb may be nil when the mirror is disabled.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(probeCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(probeCtx, sqlDB)
			}
			cancel()
		}
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisOK
	if h.WSState != "streaming" || redisDown {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	frameAge := ""
	if !h.LastFrameTime.IsZero() {
		frameAge = time.Since(h.LastFrameTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSState         string  `json:"ws_state"`
		FrameAge        string  `json:"frame_age"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisOK         bool    `json:"redis_ok"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		LastRollupAt    string  `json:"last_rollup_at,omitempty"`
		LastRollupErr   string  `json:"last_rollup_err,omitempty"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSState:         h.WSState,
		FrameAge:        frameAge,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisEnabled:    h.RedisEnabled,
		RedisOK:         h.RedisOK,
		RedisLatencyMs:  h.RedisLatencyMs,
		LastRollupErr:   h.LastRollupErr,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if !h.LastRollupAt.IsZero() {
		status.LastRollupAt = h.LastRollupAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server for m's registry.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until the server stops. A graceful Stop is not an error.
func (s *Server) ListenAndServe() error {
	slog.Info("metrics server listening", "component", "metrics", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
