package quotes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketdata-core/internal/model"
	"marketdata-core/internal/orderbook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	written []model.Quote
	fail    map[string]bool

	entered chan struct{} // signalled when a write starts (optional)
	release chan struct{} // write blocks until closed (optional)
}

func (f *fakeWriter) UpsertQuote(_ context.Context, q model.Quote) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[q.Symbol] {
		return errors.New("disk full")
	}
	f.written = append(f.written, q)
	return nil
}

func (f *fakeWriter) writes() []model.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Quote(nil), f.written...)
}

func best(bid, ask float64) orderbook.Best {
	return orderbook.Best{Bid: model.Float(bid), Ask: model.Float(ask)}
}

func TestBatcher_LastWriteWins(t *testing.T) {
	w := &fakeWriter{}
	b := New(w)
	t0 := time.UnixMilli(1_700_000_000_000)

	b.Stage("BTCUSD", best(1, 2), t0)
	b.Stage("BTCUSD", best(3, 4), t0.Add(10*time.Millisecond))
	b.Stage("ETHUSD", orderbook.Best{Bid: model.Float(5)}, t0)

	n, ran := b.Flush(context.Background())
	assert.True(t, ran)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, b.PendingCount())

	got := map[string]model.Quote{}
	for _, q := range w.writes() {
		got[q.Symbol] = q
	}
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, *got["BTCUSD"].Bid)
	assert.Equal(t, 4.0, *got["BTCUSD"].Ask)
	assert.Equal(t, t0.Add(10*time.Millisecond).UnixMilli(), got["BTCUSD"].TS)
	assert.Nil(t, got["ETHUSD"].Ask)
	assert.Nil(t, got["ETHUSD"].Last)
}

func TestBatcher_EmptyFlushWritesNothing(t *testing.T) {
	w := &fakeWriter{}
	b := New(w)
	n, ran := b.Flush(context.Background())
	assert.True(t, ran)
	assert.Zero(t, n)
	assert.Empty(t, w.writes())
}

func TestBatcher_FailedWriteStaysPending(t *testing.T) {
	w := &fakeWriter{fail: map[string]bool{"BTCUSD": true}}
	b := New(w)
	var failed []string
	b.OnWriteError = func(symbol string, _ error) { failed = append(failed, symbol) }

	b.Stage("BTCUSD", best(1, 2), time.Now())
	b.Stage("ETHUSD", best(3, 4), time.Now())

	n, _ := b.Flush(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"BTCUSD"}, failed)
	_, ok := b.Pending("BTCUSD")
	assert.True(t, ok)
	_, ok = b.Pending("ETHUSD")
	assert.False(t, ok)

	// Store recovers; next flush converges.
	w.mu.Lock()
	w.fail = nil
	w.mu.Unlock()
	n, _ = b.Flush(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, b.PendingCount())
}

func TestBatcher_OverlappingFlushIsNoop(t *testing.T) {
	w := &fakeWriter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	b := New(w)
	b.Stage("BTCUSD", best(1, 2), time.Now())

	done := make(chan int)
	go func() {
		n, _ := b.Flush(context.Background())
		done <- n
	}()
	<-w.entered

	n, ran := b.Flush(context.Background())
	assert.False(t, ran)
	assert.Zero(t, n)

	close(w.release)
	assert.Equal(t, 1, <-done)
}

func TestBatcher_RestageDuringFlushIsKept(t *testing.T) {
	w := &fakeWriter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	b := New(w)
	b.Stage("BTCUSD", best(1, 2), time.UnixMilli(1000))

	done := make(chan struct{})
	go func() {
		b.Flush(context.Background())
		close(done)
	}()
	<-w.entered

	b.Stage("BTCUSD", best(7, 8), time.UnixMilli(2000))
	close(w.release)
	<-done

	q, ok := b.Pending("BTCUSD")
	require.True(t, ok, "newer staged quote must survive the flush")
	assert.EqualValues(t, 2000, q.TS)
	assert.Equal(t, 7.0, *q.Bid)
}

func TestBatcher_RunDrainsOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	b := New(w)
	flushed := make(chan model.Quote, 4)
	b.OnFlushed = func(q model.Quote) { flushed <- q }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, time.Hour) // no tick fires during the test
		close(done)
	}()

	b.Stage("SOLUSD", best(10, 11), time.Now())
	cancel()
	<-done

	select {
	case q := <-flushed:
		assert.Equal(t, "SOLUSD", q.Symbol)
	default:
		t.Fatal("expected pending quote to be drained on shutdown")
	}
}
