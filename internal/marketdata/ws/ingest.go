// Package ws streams L2 deltas and candle updates from the exchange's
// market-data websocket. L2 deltas maintain one order book per symbol whose
// top of book is staged into the quote batcher; candle updates are upserted
// as they arrive.
//
// The wire format is JSON text frames:
//
//	{"type":"l2_updates","symbol":"BTCUSD","changes":[["buy","9122.04","0.0012"]]}
//	{"type":"candles_1m_updates","symbol":"BTCUSD","changes":[[1561054500000,9350.18,9358.83,9350.18,9355.98,2.07]]}
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"marketdata-core/internal/model"
	"marketdata-core/internal/orderbook"

	"github.com/gorilla/websocket"
)

// DefaultURL is the exchange's public market-data endpoint.
const DefaultURL = "wss://api.gemini.com/v2/marketdata"

// State is the connection lifecycle of an Ingestor.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// QuoteStager receives the top of book after every applied L2 delta.
type QuoteStager interface {
	Stage(symbol string, best orderbook.Best, ts time.Time)
}

// Config holds configuration for the ingest client.
type Config struct {
	// URL of the market-data websocket. Defaults to DefaultURL.
	URL string

	Symbols   []string
	Timeframe model.Timeframe // candle channel, e.g. 1m

	// Reconnect defaults to FixedDelay(DefaultReconnectDelay).
	Reconnect ReconnectPolicy

	// Clock defaults to the wall clock.
	Clock Clock

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeframe == "" {
		c.Timeframe = model.TF1m
	}
	if c.Reconnect == nil {
		c.Reconnect = FixedDelay(DefaultReconnectDelay)
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Ingestor owns the websocket connection and the per-symbol books.
// Books are only touched from the goroutine running Run.
type Ingestor struct {
	cfg     Config
	candles model.CandleWriter
	quotes  QuoteStager

	books map[string]*orderbook.Book
	state atomic.Int32

	// Optional metrics hooks
	OnReconnect   func(attempt int)
	OnStateChange func(s State)
	OnFrame       func(kind string)
	OnMalformed   func()
	OnCandle      func(c model.Candle) // after each successful candle upsert
	OnCandleError func(c model.Candle, err error)
}

// New creates an Ingestor. Returns an error if the URL is unparseable or no
// symbols are configured.
func New(cfg Config, candles model.CandleWriter, quotes QuoteStager) (*Ingestor, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("ws ingest: parse url: %w", err)
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("ws ingest: no symbols")
	}
	return &Ingestor{
		cfg:     cfg,
		candles: candles,
		quotes:  quotes,
		books:   make(map[string]*orderbook.Book, len(cfg.Symbols)),
	}, nil
}

// State returns the current connection state. Safe for concurrent use.
func (ing *Ingestor) State() State {
	return State(ing.state.Load())
}

func (ing *Ingestor) setState(s State) {
	if State(ing.state.Swap(int32(s))) == s {
		return
	}
	if ing.OnStateChange != nil {
		ing.OnStateChange(s)
	}
}

// Run connects, subscribes and streams until ctx is cancelled. Every dropped
// or failed connection schedules exactly one reconnect after the policy delay.
func (ing *Ingestor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			ing.setState(Disconnected)
			return nil
		}

		streamed, err := ing.runOnce(ctx)
		ing.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		if streamed {
			attempt = 0
		}
		attempt++

		delay := ing.cfg.Reconnect.Delay(attempt)
		slog.Warn("ws disconnected, reconnecting", "component", "ws",
			"error", err, "attempt", attempt, "delay", delay.String())
		if ing.OnReconnect != nil {
			ing.OnReconnect(attempt)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ing.cfg.Clock.After(delay):
		}
	}
}

// runOnce makes a single connection attempt and reads until the connection
// drops or ctx is cancelled. streamed reports whether any frame was read.
func (ing *Ingestor) runOnce(ctx context.Context) (streamed bool, err error) {
	ing.setState(Connecting)

	conn, _, err := ing.cfg.Dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	closeConn := sync.OnceFunc(func() { conn.Close() })
	defer closeConn()

	sub, err := SubscribeMessage(ing.cfg.Symbols, ing.cfg.Timeframe)
	if err != nil {
		return false, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	ing.setState(Subscribed)
	slog.Info("ws subscribed", "component", "ws", "url", ing.cfg.URL,
		"symbols", ing.cfg.Symbols, "timeframe", ing.cfg.Timeframe)

	// Unblocks ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			closeConn()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return streamed, fmt.Errorf("read: %w", err)
		}
		if !streamed {
			streamed = true
			ing.setState(Streaming)
		}
		ing.handle(ctx, raw)
	}
}

// handle decodes and applies one payload. Nothing here closes the connection.
func (ing *Ingestor) handle(ctx context.Context, raw []byte) {
	f, err := DecodeFrame(raw)
	switch {
	case errors.Is(err, ErrIgnoredFrame):
		return
	case err != nil:
		slog.Warn("ws frame dropped", "component", "ws", "error", err)
		if ing.OnMalformed != nil {
			ing.OnMalformed()
		}
		return
	}

	if ing.OnFrame != nil {
		ing.OnFrame(f.Kind())
	}

	switch f := f.(type) {
	case OrderBookDelta:
		ing.applyBook(f)
	case CandleDelta:
		ing.writeCandles(ctx, f)
	}
}

func (ing *Ingestor) applyBook(d OrderBookDelta) {
	book, ok := ing.books[d.Symbol]
	if !ok {
		book = orderbook.New()
		ing.books[d.Symbol] = book
	}
	for _, ch := range d.Changes {
		if err := book.ApplyChange(ch.Side, ch.Price, ch.Qty); err != nil {
			slog.Warn("l2 change skipped", "component", "ws", "symbol", d.Symbol, "error", err)
		}
	}
	ing.quotes.Stage(d.Symbol, book.Best(), ing.cfg.Clock.Now())
}

func (ing *Ingestor) writeCandles(ctx context.Context, d CandleDelta) {
	for _, c := range d.Candles {
		if err := ing.candles.UpsertCandle(ctx, c); err != nil {
			slog.Error("candle upsert failed", "component", "ws",
				"symbol", c.Symbol, "timeframe", c.Timeframe, "ts", c.TS, "error", err)
			if ing.OnCandleError != nil {
				ing.OnCandleError(c, err)
			}
			continue
		}
		if ing.OnCandle != nil {
			ing.OnCandle(c)
		}
	}
}

// Book returns the live book for symbol. Only safe to call from the Run
// goroutine or after Run has returned.
func (ing *Ingestor) Book(symbol string) (*orderbook.Book, bool) {
	b, ok := ing.books[symbol]
	return b, ok
}
