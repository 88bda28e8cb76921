package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

func TestTradeStoreBoundedAndNetFlow(t *testing.T) {
	s := NewTradeStore(3)
	var seen int
	s.AddListener(TradeListenerFunc(func(schema.Trade) { seen++ }))

	for i, side := range []schema.Side{schema.SideBuy, schema.SideBuy, schema.SideSell, schema.SideBuy} {
		s.OnTrade(schema.Trade{Symbol: "BTCUSDT", TradeID: uint64(i), Price: 10, Qty: 1, Aggressor: side, TsEvent: int64(i + 1)})
	}

	assert.Equal(t, 4, seen)
	require.Len(t, s.Trades("BTCUSDT"), 3)
	assert.Equal(t, uint64(1), s.Trades("BTCUSDT")[0].TradeID)

	last, ok := s.Last("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, uint64(3), last.TradeID)

	// trades at ts 3 (sell) and 4 (buy)
	assert.Equal(t, 0.0, s.NetFlow("BTCUSDT", 2))
	assert.Equal(t, 10.0, s.NetFlow("BTCUSDT", 3))
	assert.Zero(t, s.NetFlow("ETHUSDT", 0))
}

func TestLiquidationStoreNet(t *testing.T) {
	s := NewLiquidationStore(0)
	s.OnLiquidation(schema.Liquidation{Symbol: "BTCUSDT", Side: schema.SideSell, Price: 100, Qty: 3, TsRecv: 10})
	s.OnLiquidation(schema.Liquidation{Symbol: "BTCUSDT", Side: schema.SideBuy, Price: 100, Qty: 1, TsRecv: 20})

	net := s.Net("BTCUSDT", 0)
	assert.Equal(t, NetLiquidation{Notional: 200, Buy: false, Count: 2}, net)
	assert.Equal(t, NetLiquidation{Notional: 100, Buy: true, Count: 1}, s.Net("BTCUSDT", 10))
	assert.Equal(t, NetLiquidation{}, s.Net("ETHUSDT", 0))
}

func TestMarkStoreAndFallback(t *testing.T) {
	s := NewMarkStore()
	s.OnMarkPrice(schema.MarkPrice{Symbol: "BTCUSDT", Mark: 101, TsEvent: 5})
	s.OnMarkPrice(schema.MarkPrice{Symbol: "BTCUSDT", Mark: 99, TsEvent: 4})

	px, ok := s.Mark("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 101.0, px)

	other := NewMarkStore()
	other.OnMarkPrice(schema.MarkPrice{Symbol: "ETHUSDT", Mark: 5})
	marks := Fallback{s, nil, other}

	px, ok = marks.Mark("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 5.0, px)
	_, ok = marks.Mark("DOGEUSDT")
	assert.False(t, ok)
}

func TestHubRoutes(t *testing.T) {
	h := NewHub(0)
	assert.True(t, h.Handle(schema.Trade{Symbol: "BTCUSDT", Price: 1, Qty: 1}))
	assert.True(t, h.Handle(schema.Liquidation{Symbol: "BTCUSDT"}))
	assert.True(t, h.Handle(schema.MarkPrice{Symbol: "BTCUSDT", Mark: 3}))
	assert.False(t, h.Handle(schema.BBO{Symbol: "BTCUSDT"}))

	_, ok := h.Trades.Last("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 1, h.Liquidations.Net("BTCUSDT", -1).Count)
}
