// Package redis mirrors the newest quote and streamed candle per symbol into
// Redis (SET latest + PUBLISH) so dashboards can follow the feed without
// polling SQLite. SQLite stays the source of truth; a Redis outage only
// delays the mirror.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketdata-core/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const defaultLatestTTL = 30 * time.Minute

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Dial connects and pings the server.
func Dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "component", "redis", "addr", cfg.Addr)
	return client, nil
}

// Key layout.
func QuoteKey(symbol string) string     { return "quote:latest:" + symbol }
func QuoteChannel(symbol string) string { return "pub:quote:" + symbol }

func CandleKey(tf model.Timeframe, symbol string) string {
	return "candle:" + string(tf) + ":latest:" + symbol
}

func CandleChannel(tf model.Timeframe, symbol string) string {
	return "pub:candle:" + string(tf) + ":" + symbol
}

// entry is one SET-latest plus PUBLISH pair.
type entry struct {
	key     string
	channel string
	payload string
}

// Mirror writes through a CircuitBreaker. While the breaker rejects calls,
// the newest payload per key is held and replayed once the breaker closes.
type Mirror struct {
	client *goredis.Client
	exec   func(ctx context.Context, batch []entry) error
	cb     *CircuitBreaker
	ttl    time.Duration

	// sendMu orders live writes against replay so a replayed entry never
	// lands after a newer live write for the same key.
	sendMu sync.Mutex

	mu   sync.Mutex
	held map[string]entry

	// Optional metrics hooks
	OnHeld   func()
	OnReplay func(n int)
}

// NewMirror creates a Mirror on client guarded by cb.
func NewMirror(client *goredis.Client, cb *CircuitBreaker) *Mirror {
	m := newMirror(nil, cb)
	m.client = client
	m.exec = m.pipeline
	return m
}

func newMirror(exec func(context.Context, []entry) error, cb *CircuitBreaker) *Mirror {
	m := &Mirror{
		exec: exec,
		cb:   cb,
		ttl:  defaultLatestTTL,
		held: make(map[string]entry, 64),
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		slog.Info("redis breaker state", "component", "redis", "from", from.String(), "to", to.String())
		if to == StateClosed {
			go m.replay()
		}
	}
	return m
}

// PublishQuote mirrors q under quote:latest:{SYM} and pub:quote:{SYM}.
func (m *Mirror) PublishQuote(ctx context.Context, q model.Quote) error {
	return m.write(ctx, entry{
		key:     QuoteKey(q.Symbol),
		channel: QuoteChannel(q.Symbol),
		payload: string(q.JSON()),
	})
}

// PublishCandle mirrors c under candle:{tf}:latest:{SYM} and pub:candle:{tf}:{SYM}.
func (m *Mirror) PublishCandle(ctx context.Context, c model.Candle) error {
	return m.write(ctx, entry{
		key:     CandleKey(c.Timeframe, c.Symbol),
		channel: CandleChannel(c.Timeframe, c.Symbol),
		payload: string(c.JSON()),
	})
}

// Held returns how many keys are waiting for replay.
func (m *Mirror) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// Close closes the Redis client, if any.
func (m *Mirror) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *Mirror) write(ctx context.Context, e entry) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	// e supersedes whatever is held for its key, sent or not.
	m.mu.Lock()
	delete(m.held, e.key)
	m.mu.Unlock()

	err := m.cb.Execute(func() error { return m.exec(ctx, []entry{e}) })
	if err == nil {
		return nil
	}

	m.hold(e)
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

func (m *Mirror) hold(e entry) {
	m.mu.Lock()
	m.held[e.key] = e
	m.mu.Unlock()
	if m.OnHeld != nil {
		m.OnHeld()
	}
}

// replay flushes held entries in one batch. It runs on its own goroutine
// and waits for the live write that closed the breaker to finish first.
func (m *Mirror) replay() {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if len(m.held) == 0 {
		m.mu.Unlock()
		return
	}
	batch := make([]entry, 0, len(m.held))
	for _, e := range m.held {
		batch = append(batch, e)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cb.Execute(func() error { return m.exec(ctx, batch) }); err != nil {
		slog.Warn("redis replay failed", "component", "redis", "held", len(batch), "error", err)
		return
	}

	m.mu.Lock()
	for _, e := range batch {
		if cur, ok := m.held[e.key]; ok && cur == e {
			delete(m.held, e.key)
		}
	}
	m.mu.Unlock()

	slog.Info("redis replayed held entries", "component", "redis", "count", len(batch))
	if m.OnReplay != nil {
		m.OnReplay(len(batch))
	}
}

// pipeline sends SET latest + PUBLISH for every entry in one round trip.
func (m *Mirror) pipeline(ctx context.Context, batch []entry) error {
	pipe := m.client.Pipeline()
	for _, e := range batch {
		pipe.Set(ctx, e.key, e.payload, m.ttl)
		pipe.Publish(ctx, e.channel, e.payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline (%d entries): %w", len(batch), err)
	}
	return nil
}
