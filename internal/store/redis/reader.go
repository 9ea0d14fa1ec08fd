package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketdata-core/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// getter is the slice of the client the Reader needs.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// Reader reads the mirrored latest values back.
type Reader struct {
	client getter
}

// NewReader wraps client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// LatestQuote returns the mirrored quote for symbol; ok is false when the
// key is absent or expired.
func (r *Reader) LatestQuote(ctx context.Context, symbol string) (q model.Quote, ok bool, err error) {
	ok, err = r.getJSON(ctx, QuoteKey(symbol), &q)
	return q, ok, err
}

// LatestCandle returns the mirrored candle for symbol and tf.
func (r *Reader) LatestCandle(ctx context.Context, tf model.Timeframe, symbol string) (c model.Candle, ok bool, err error) {
	ok, err = r.getJSON(ctx, CandleKey(tf, symbol), &c)
	return c, ok, err
}

func (r *Reader) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("redis GET %s: decode: %w", key, err)
	}
	return true, nil
}
