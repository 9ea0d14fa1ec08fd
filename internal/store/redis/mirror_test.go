package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketdata-core/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis records pipelines and fails while down is set.
type fakeRedis struct {
	mu      sync.Mutex
	down    bool
	batches [][]entry
}

func (f *fakeRedis) exec(_ context.Context, batch []entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	f.batches = append(f.batches, append([]entry(nil), batch...))
	return nil
}

func (f *fakeRedis) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *fakeRedis) all() []entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entry
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "quote:latest:BTCUSD", QuoteKey("BTCUSD"))
	assert.Equal(t, "pub:quote:BTCUSD", QuoteChannel("BTCUSD"))
	assert.Equal(t, "candle:1m:latest:ETHUSD", CandleKey(model.TF1m, "ETHUSD"))
	assert.Equal(t, "pub:candle:1m:ETHUSD", CandleChannel(model.TF1m, "ETHUSD"))
}

func TestMirror_PublishesQuoteAndCandle(t *testing.T) {
	fr := &fakeRedis{}
	m := newMirror(fr.exec, NewCircuitBreaker(3, time.Second))
	ctx := context.Background()

	require.NoError(t, m.PublishQuote(ctx, model.Quote{Symbol: "BTCUSD", TS: 1, Bid: model.Float(1)}))
	require.NoError(t, m.PublishCandle(ctx, model.Candle{Symbol: "BTCUSD", Timeframe: model.TF1m, TS: 60000, Close: 2}))

	got := fr.all()
	require.Len(t, got, 2)
	assert.Equal(t, "quote:latest:BTCUSD", got[0].key)
	assert.Equal(t, "pub:quote:BTCUSD", got[0].channel)
	assert.JSONEq(t, `{"symbol":"BTCUSD","ts":1,"bid":1,"ask":null,"last":null}`, got[0].payload)
	assert.Equal(t, "candle:1m:latest:BTCUSD", got[1].key)
	assert.Equal(t, "pub:candle:1m:BTCUSD", got[1].channel)
}

func TestMirror_HoldsWhileOpenAndReplaysOnClose(t *testing.T) {
	fr := &fakeRedis{}
	cb, advance := steppedBreaker(1, time.Second)
	m := newMirror(fr.exec, cb)
	replayed := make(chan int, 1)
	m.OnReplay = func(n int) { replayed <- n }
	ctx := context.Background()

	fr.setDown(true)
	err := m.PublishQuote(ctx, model.Quote{Symbol: "BTCUSD", TS: 1})
	assert.Error(t, err, "the tripping failure is reported")
	require.Equal(t, StateOpen, cb.CurrentState())

	// Rejected writes are held, newest per key.
	assert.NoError(t, m.PublishQuote(ctx, model.Quote{Symbol: "BTCUSD", TS: 2}))
	assert.NoError(t, m.PublishQuote(ctx, model.Quote{Symbol: "ETHUSD", TS: 3}))
	assert.Equal(t, 2, m.Held())
	assert.Empty(t, fr.all())

	// Redis is back; the next write is the probe and closes the breaker.
	fr.setDown(false)
	advance(2 * time.Second)
	require.NoError(t, m.PublishQuote(ctx, model.Quote{Symbol: "SOLUSD", TS: 4}))
	assert.Equal(t, StateClosed, cb.CurrentState())

	select {
	case n := <-replayed:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("held entries were not replayed")
	}
	assert.Zero(t, m.Held())

	var btc string
	for _, e := range fr.all() {
		if e.key == QuoteKey("BTCUSD") {
			btc = e.payload
		}
	}
	assert.Contains(t, btc, `"ts":2`)
}

func TestMirror_ReplayNeverOverwritesClosingWrite(t *testing.T) {
	for i := 0; i < 50; i++ {
		fr := &fakeRedis{}
		cb, advance := steppedBreaker(1, time.Second)
		m := newMirror(fr.exec, cb)
		replayed := make(chan int, 1)
		m.OnReplay = func(n int) { replayed <- n }
		ctx := context.Background()

		fr.setDown(true)
		assert.Error(t, m.PublishQuote(ctx, model.Quote{Symbol: "BTCUSD", TS: 1}))
		assert.NoError(t, m.PublishQuote(ctx, model.Quote{Symbol: "BTCUSD", TS: 2}))
		assert.NoError(t, m.PublishQuote(ctx, model.Quote{Symbol: "ETHUSD", TS: 3}))
		require.Equal(t, 2, m.Held())

		// The closing write targets a key that is also held.
		fr.setDown(false)
		advance(2 * time.Second)
		require.NoError(t, m.PublishQuote(ctx, model.Quote{Symbol: "BTCUSD", TS: 4}))

		select {
		case n := <-replayed:
			assert.Equal(t, 1, n, "only ETHUSD is still held")
		case <-time.After(2 * time.Second):
			t.Fatal("held entries were not replayed")
		}

		var btc string
		for _, e := range fr.all() {
			if e.key == QuoteKey("BTCUSD") {
				btc = e.payload
			}
		}
		require.Contains(t, btc, `"ts":4`)
	}
}

func TestMirror_SuccessfulWriteSupersedesHeld(t *testing.T) {
	fr := &fakeRedis{}
	m := newMirror(fr.exec, NewCircuitBreaker(5, time.Second))
	ctx := context.Background()

	fr.setDown(true)
	assert.Error(t, m.PublishQuote(ctx, model.Quote{Symbol: "BTCUSD", TS: 1}))
	assert.Equal(t, 1, m.Held())

	fr.setDown(false)
	require.NoError(t, m.PublishQuote(ctx, model.Quote{Symbol: "BTCUSD", TS: 2}))
	assert.Zero(t, m.Held())
}

// fakeGetter serves canned GET results.
type fakeGetter map[string]string

func (f fakeGetter) Get(ctx context.Context, key string) *goredis.StringCmd {
	v, ok := f[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func TestReader_LatestValues(t *testing.T) {
	r := &Reader{client: fakeGetter{
		QuoteKey("BTCUSD"):              `{"symbol":"BTCUSD","ts":5,"bid":1.5,"ask":2.5,"last":null}`,
		CandleKey(model.TF1m, "BTCUSD"): `{"symbol":"BTCUSD","timeframe":"1m","ts":60000,"open":1,"high":2,"low":0.5,"close":1.5,"volume":3}`,
		QuoteKey("BADUSD"):              `not json`,
	}}
	ctx := context.Background()

	q, ok, err := r.LatestQuote(ctx, "BTCUSD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.5, *q.Bid)
	assert.Nil(t, q.Last)

	c, ok, err := r.LatestCandle(ctx, model.TF1m, "BTCUSD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(60000), c.TS)
	assert.Equal(t, model.TF1m, c.Timeframe)

	_, ok, err = r.LatestQuote(ctx, "ETHUSD")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = r.LatestQuote(ctx, "BADUSD")
	assert.Error(t, err)
}
