package ws

import (
	"errors"
	"testing"

	"marketdata-core/internal/model"
	"marketdata-core/internal/orderbook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_L2(t *testing.T) {
	raw := `{"type":"l2_updates","symbol":"BTCUSD","changes":[["buy","9122.04","0.00121425"],["sell","9122.07","0.98942292"]]}`

	f, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)

	d, ok := f.(OrderBookDelta)
	require.True(t, ok, "expected OrderBookDelta, got %T", f)
	assert.Equal(t, "l2", d.Kind())
	assert.Equal(t, "BTCUSD", d.Symbol)
	assert.Equal(t, []Change{
		{Side: orderbook.Buy, Price: "9122.04", Qty: "0.00121425"},
		{Side: orderbook.Sell, Price: "9122.07", Qty: "0.98942292"},
	}, d.Changes)
}

func TestDecodeFrame_Candles(t *testing.T) {
	raw := `{"type":"candles_15m_updates","symbol":"ETHUSD","changes":[[1561054500000,9350.18,9358.83,9350.18,9355.98,2.07]]}`

	f, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)

	d, ok := f.(CandleDelta)
	require.True(t, ok, "expected CandleDelta, got %T", f)
	assert.Equal(t, model.TF15m, d.Timeframe)
	require.Len(t, d.Candles, 1)
	assert.Equal(t, model.Candle{
		Symbol: "ETHUSD", Timeframe: model.TF15m, TS: 1561054500000,
		Open: 9350.18, High: 9358.83, Low: 9350.18, Close: 9355.98, Volume: 2.07,
	}, d.Candles[0])
}

func TestDecodeFrame_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{"type":`, ErrMalformedFrame},
		{"heartbeat", `{"type":"heartbeat","timestamp":1}`, ErrIgnoredFrame},
		{"trade", `{"type":"trade","symbol":"BTCUSD"}`, ErrIgnoredFrame},
		{"l2 no symbol", `{"type":"l2_updates","changes":[]}`, ErrMalformedFrame},
		{"l2 bad changes", `{"type":"l2_updates","symbol":"BTCUSD","changes":"x"}`, ErrMalformedFrame},
		{"l2 bad side", `{"type":"l2_updates","symbol":"BTCUSD","changes":[["hold","1","1"]]}`, ErrMalformedFrame},
		{"candles bad tf", `{"type":"candles_7m_updates","symbol":"BTCUSD","changes":[]}`, ErrMalformedFrame},
		{"candles bad tuple", `{"type":"candles_1m_updates","symbol":"BTCUSD","changes":[["a"]]}`, ErrMalformedFrame},
		{"candles short tuple", `{"type":"candles_1m_updates","symbol":"BTCUSD","changes":[[1700000000000,100,105]]}`, ErrMalformedFrame},
		{"candles long tuple", `{"type":"candles_1m_updates","symbol":"BTCUSD","changes":[[1,2,3,4,5,6,7]]}`, ErrMalformedFrame},
		{"candles null tuple", `{"type":"candles_1m_updates","symbol":"BTCUSD","changes":[[null,null,null,null,null,null]]}`, ErrMalformedFrame},
		{"candles one null field", `{"type":"candles_1m_updates","symbol":"BTCUSD","changes":[[1,2,3,2,null,4]]}`, ErrMalformedFrame},
		{"candles good then short", `{"type":"candles_1m_updates","symbol":"BTCUSD","changes":[[1,2,3,1,2,4],[2,2]]}`, ErrMalformedFrame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tc.raw))
			assert.Nil(t, f)
			assert.True(t, errors.Is(err, tc.want), "expected %v, got %v", tc.want, err)
		})
	}
}

func TestSubscribeMessage(t *testing.T) {
	b, err := SubscribeMessage([]string{"BTCUSD", "ETHUSD"}, model.TF1m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","subscriptions":[
		{"name":"l2","symbols":["BTCUSD","ETHUSD"]},
		{"name":"candles_1m","symbols":["BTCUSD","ETHUSD"]}]}`, string(b))
}
