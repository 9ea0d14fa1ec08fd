package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"marketdata-core/internal/model"
	"marketdata-core/internal/orderbook"
)

var (
	// ErrMalformedFrame marks a payload that is not valid JSON or does not
	// match the shape of a frame type we consume.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrIgnoredFrame marks a well-formed frame of a type we do not consume
	// (heartbeats, trades, subscription acks).
	ErrIgnoredFrame = errors.New("ignored frame")
)

const (
	typeL2      = "l2_updates"
	candlesPref = "candles_"
	candlesSuff = "_updates"
)

// Frame is a decoded exchange message. The concrete type is either
// OrderBookDelta or CandleDelta.
type Frame interface {
	Kind() string
	isFrame()
}

// Change is one L2 level update. Price and Qty keep the exchange's decimal
// strings; the book parses them.
type Change struct {
	Side  orderbook.Side
	Price string
	Qty   string
}

// OrderBookDelta carries level changes for one symbol, in wire order.
type OrderBookDelta struct {
	Symbol  string
	Changes []Change
}

func (OrderBookDelta) Kind() string { return "l2" }
func (OrderBookDelta) isFrame()     {}

// CandleDelta carries one or more candle tuples for one symbol and timeframe.
type CandleDelta struct {
	Symbol    string
	Timeframe model.Timeframe
	Candles   []model.Candle
}

func (CandleDelta) Kind() string { return "candles" }
func (CandleDelta) isFrame()     {}

type envelope struct {
	Type    string          `json:"type"`
	Symbol  string          `json:"symbol"`
	Changes json.RawMessage `json:"changes"`
}

// DecodeFrame parses one raw websocket payload.
func DecodeFrame(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case env.Type == typeL2:
		return decodeL2(env)
	case strings.HasPrefix(env.Type, candlesPref) && strings.HasSuffix(env.Type, candlesSuff):
		return decodeCandles(env)
	default:
		return nil, ErrIgnoredFrame
	}
}

func decodeL2(env envelope) (Frame, error) {
	if env.Symbol == "" {
		return nil, fmt.Errorf("%w: l2 frame without symbol", ErrMalformedFrame)
	}
	var rows [][3]string
	if err := json.Unmarshal(env.Changes, &rows); err != nil {
		return nil, fmt.Errorf("%w: l2 changes: %v", ErrMalformedFrame, err)
	}

	d := OrderBookDelta{Symbol: env.Symbol, Changes: make([]Change, 0, len(rows))}
	for _, r := range rows {
		side, err := orderbook.ParseSide(r[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		d.Changes = append(d.Changes, Change{Side: side, Price: r[1], Qty: r[2]})
	}
	return d, nil
}

func decodeCandles(env envelope) (Frame, error) {
	token := strings.TrimSuffix(strings.TrimPrefix(env.Type, candlesPref), candlesSuff)
	tf, err := model.ParseTimeframe(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Symbol == "" {
		return nil, fmt.Errorf("%w: candle frame without symbol", ErrMalformedFrame)
	}

	var rows []model.CandleTuple
	if err := json.Unmarshal(env.Changes, &rows); err != nil {
		return nil, fmt.Errorf("%w: candle changes: %v", ErrMalformedFrame, err)
	}

	d := CandleDelta{Symbol: env.Symbol, Timeframe: tf, Candles: make([]model.Candle, 0, len(rows))}
	for _, r := range rows {
		c, err := r.Candle(env.Symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		d.Candles = append(d.Candles, c)
	}
	return d, nil
}

type subscription struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

type subscribeMsg struct {
	Type          string         `json:"type"`
	Subscriptions []subscription `json:"subscriptions"`
}

// SubscribeMessage builds the single message sent after connecting: L2 for
// every symbol plus the candle channel for tf.
func SubscribeMessage(symbols []string, tf model.Timeframe) ([]byte, error) {
	return json.Marshal(subscribeMsg{
		Type: "subscribe",
		Subscriptions: []subscription{
			{Name: "l2", Symbols: symbols},
			{Name: candlesPref + string(tf), Symbols: symbols},
		},
	})
}
