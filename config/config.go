package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"marketdata-core/internal/model"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Feed
	Symbols   []string `env:"SYMBOLS" envSeparator:"," envDefault:"BTCUSD,ETHUSD,SOLUSD"`
	Timeframe string   `env:"TIMEFRAME" envDefault:"1m"`

	// Rollups
	RollupBaseTF   string        `env:"ROLLUP_BASE_TF" envDefault:"1m"`
	RollupTFs      []string      `env:"ROLLUP_TFS" envSeparator:"," envDefault:"1w,1mo,6mo,1y"`
	RollupInterval time.Duration `env:"ROLLUP_INTERVAL" envDefault:"1h"`

	// Ingest
	QuoteFlushInterval time.Duration `env:"QUOTE_FLUSH_INTERVAL" envDefault:"1s"`
	WSURL              string        `env:"WS_URL" envDefault:"wss://api.gemini.com/v2/marketdata"`
	WSReconnectDelay   time.Duration `env:"WS_RECONNECT_DELAY" envDefault:"1500ms"`
	RESTURL            string        `env:"REST_URL" envDefault:"https://api.gemini.com"`
	BackfillLimit      int           `env:"BACKFILL_LIMIT" envDefault:"300"`

	// Query API
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"4000"`

	// Infrastructure
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/marketdata.db"`
	RedisAddr     string `env:"REDIS_ADDR"` // empty disables the Redis mirror
	RedisPassword string `env:"REDIS_PASSWORD"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env (if present) and the process environment, normalizes the
// result and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize upper-cases and de-duplicates symbols (first occurrence wins) and
// lower-cases timeframe tokens.
func (c *Config) normalize() {
	seen := make(map[string]bool, len(c.Symbols))
	symbols := c.Symbols[:0]
	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	c.Symbols = symbols

	c.Timeframe = strings.ToLower(strings.TrimSpace(c.Timeframe))
	c.RollupBaseTF = strings.ToLower(strings.TrimSpace(c.RollupBaseTF))
	tfs := c.RollupTFs[:0]
	for _, tf := range c.RollupTFs {
		tf = strings.ToLower(strings.TrimSpace(tf))
		if tf != "" {
			tfs = append(tfs, tf)
		}
	}
	c.RollupTFs = tfs
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("SYMBOLS: at least one symbol is required"))
	}
	if !model.Timeframe(c.Timeframe).IsStream() {
		errs = append(errs, fmt.Errorf("TIMEFRAME: unsupported %q", c.Timeframe))
	}
	switch model.Timeframe(c.RollupBaseTF) {
	case model.TF1m:
		if c.Timeframe != string(model.TF1m) {
			errs = append(errs, fmt.Errorf("ROLLUP_BASE_TF=1m needs TIMEFRAME=1m, got %q", c.Timeframe))
		}
	case model.TFDaily:
	default:
		errs = append(errs, fmt.Errorf("ROLLUP_BASE_TF: unsupported %q (use 1m or 1d)", c.RollupBaseTF))
	}
	for _, tf := range c.RollupTFs {
		if !model.Timeframe(tf).IsHigher() {
			errs = append(errs, fmt.Errorf("ROLLUP_TFS: unsupported %q (use 1w, 1mo, 6mo, 1y)", tf))
		}
	}
	if c.RollupInterval <= 0 {
		errs = append(errs, errors.New("ROLLUP_INTERVAL: must be positive"))
	}
	if c.QuoteFlushInterval <= 0 {
		errs = append(errs, errors.New("QUOTE_FLUSH_INTERVAL: must be positive"))
	}
	if c.WSReconnectDelay <= 0 {
		errs = append(errs, errors.New("WS_RECONNECT_DELAY: must be positive"))
	}
	if c.BackfillLimit < 1 {
		errs = append(errs, errors.New("BACKFILL_LIMIT: must be at least 1"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: out of range: %d", c.Port))
	}
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH: required"))
	}

	return errors.Join(errs...)
}

// StreamTimeframe is the candle resolution subscribed to and backfilled.
func (c *Config) StreamTimeframe() model.Timeframe { return model.Timeframe(c.Timeframe) }

// RollupBase is the source timeframe of the rollup engine.
func (c *Config) RollupBase() model.Timeframe { return model.Timeframe(c.RollupBaseTF) }

// RollupTargets returns the configured higher timeframes.
func (c *Config) RollupTargets() []model.Timeframe {
	out := make([]model.Timeframe, len(c.RollupTFs))
	for i, tf := range c.RollupTFs {
		out[i] = model.Timeframe(tf)
	}
	return out
}

// APIAddr is the Query API listen address.
func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RedisEnabled reports whether the Redis mirror is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }
