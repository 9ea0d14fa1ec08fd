// Package quotes collapses bursts of top-of-book updates into at most one
// persisted quote per symbol per flush interval.
package quotes

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketdata-core/internal/model"
	"marketdata-core/internal/orderbook"
)

const DefaultFlushInterval = time.Second

type pending struct {
	quote   model.Quote
	version uint64
}

// Batcher holds the latest staged best bid/ask per symbol and writes them
// out on Flush. Stage and Flush may be called from different goroutines.
type Batcher struct {
	writer model.QuoteWriter

	mu      sync.Mutex
	pending map[string]pending
	version uint64

	// Held for the duration of a flush; overlapping flushes skip.
	flushing sync.Mutex

	// Optional hooks
	OnFlushed    func(q model.Quote)                // after each successful write
	OnFlushDone  func(written int, seconds float64) // after each flush that ran
	OnWriteError func(symbol string, err error)     // per failed write
}

// New creates a Batcher writing to w.
func New(w model.QuoteWriter) *Batcher {
	return &Batcher{
		writer:  w,
		pending: make(map[string]pending, 32),
	}
}

// Stage records best as the pending quote for symbol, replacing any value
// not yet flushed.
func (b *Batcher) Stage(symbol string, best orderbook.Best, ts time.Time) {
	b.mu.Lock()
	b.version++
	b.pending[symbol] = pending{
		quote: model.Quote{
			Symbol: symbol,
			TS:     ts.UnixMilli(),
			Bid:    best.Bid,
			Ask:    best.Ask,
		},
		version: b.version,
	}
	b.mu.Unlock()
}

// Pending returns the staged quote for symbol, if any.
func (b *Batcher) Pending(symbol string) (model.Quote, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[symbol]
	return p.quote, ok
}

// PendingCount returns the number of symbols waiting to be flushed.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes every pending quote. It returns immediately with ran=false if
// another flush is in progress. A slot is cleared only when its write
// succeeded and it was not re-staged meanwhile; failed slots stay pending and
// are retried on the next flush.
func (b *Batcher) Flush(ctx context.Context) (written int, ran bool) {
	if !b.flushing.TryLock() {
		return 0, false
	}
	defer b.flushing.Unlock()
	return b.flushLocked(ctx), true
}

// Drain waits for any in-flight flush and then flushes once.
func (b *Batcher) Drain(ctx context.Context) int {
	b.flushing.Lock()
	defer b.flushing.Unlock()
	return b.flushLocked(ctx)
}

func (b *Batcher) flushLocked(ctx context.Context) (written int) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return 0
	}
	batch := make([]pending, 0, len(b.pending))
	for _, p := range b.pending {
		batch = append(batch, p)
	}
	b.mu.Unlock()

	start := time.Now()
	for _, p := range batch {
		if err := b.writer.UpsertQuote(ctx, p.quote); err != nil {
			slog.Error("quote flush write failed", "component", "quotes",
				"symbol", p.quote.Symbol, "error", err)
			if b.OnWriteError != nil {
				b.OnWriteError(p.quote.Symbol, err)
			}
			continue
		}
		written++

		b.mu.Lock()
		if cur, ok := b.pending[p.quote.Symbol]; ok && cur.version == p.version {
			delete(b.pending, p.quote.Symbol)
		}
		b.mu.Unlock()

		if b.OnFlushed != nil {
			b.OnFlushed(p.quote)
		}
	}

	if b.OnFlushDone != nil {
		b.OnFlushDone(written, time.Since(start).Seconds())
	}
	return written
}

// Run flushes every interval until ctx is cancelled, then drains once more
// with a short grace deadline.
func (b *Batcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			b.Drain(final)
			cancel()
			return
		case <-ticker.C:
			// Ticks landing while a flush is still running are no-ops.
			go b.Flush(ctx)
		}
	}
}
