package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradecore/internal/schema"
)

func buy(qty, px float64) schema.OrderRequest {
	return schema.OrderRequest{Symbol: "BTCUSDT", Side: schema.SideBuy, Kind: schema.OrderKindLimitPostOnly, Qty: qty, Price: px}
}

func TestEngineLimits(t *testing.T) {
	cases := []struct {
		name   string
		cfg    Config
		req    schema.OrderRequest
		state  StateView
		reason Reason
	}{
		{"allow", Config{MaxOrderQty: 10}, buy(1, 100), StateView{}, ReasonNone},
		{"kill switch", Config{KillSwitch: true}, buy(1, 100), StateView{}, ReasonKillSwitch},
		{"max qty", Config{MaxOrderQty: 1}, buy(2, 100), StateView{}, ReasonMaxQty},
		{"price band", Config{MaxPriceDeviationBps: 50}, buy(1, 110), StateView{ReferencePrice: 100}, ReasonPriceBand},
		{"notional", Config{MaxOrderNotional: 150}, buy(2, 100), StateView{}, ReasonMaxNotional},
		{"position", Config{MaxPosition: 2}, buy(2, 100), StateView{Position: 1}, ReasonPositionLimit},
		{"gross", Config{MaxGrossNotional: 1000}, buy(2, 100), StateView{GrossNotional: 900}, ReasonGrossLimit},
		{"leverage", Config{MaxLeverage: 2}, buy(2, 100), StateView{GrossNotional: 100, Equity: 100}, ReasonLeverage},
		{
			"reducing ignores gross",
			Config{MaxGrossNotional: 10},
			schema.OrderRequest{Symbol: "BTCUSDT", Side: schema.SideSell, Kind: schema.OrderKindLimitGTC, Qty: 1, Price: 100},
			StateView{Position: 2, GrossNotional: 200},
			ReasonNone,
		},
		{
			"market uses reference",
			Config{MaxOrderNotional: 150},
			schema.OrderRequest{Symbol: "BTCUSDT", Side: schema.SideBuy, Kind: schema.OrderKindMarketIOC, Qty: 2},
			StateView{ReferencePrice: 100},
			ReasonMaxNotional,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewEngine(tc.cfg).Evaluate(tc.req, tc.state)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.reason == ReasonNone, d.Allow)
		})
	}
}

func TestEngineRateLimitWindow(t *testing.T) {
	e := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Second})
	now := int64(time.Second)

	assert.True(t, e.Evaluate(buy(1, 1), StateView{Now: now}).Allow)
	assert.True(t, e.Evaluate(buy(1, 1), StateView{Now: now + 1}).Allow)
	assert.Equal(t, ReasonRateLimit, e.Evaluate(buy(1, 1), StateView{Now: now + 2}).Reason)
	assert.True(t, e.Evaluate(buy(1, 1), StateView{Now: now + int64(time.Second)}).Allow)
}

func TestNilEngineAllows(t *testing.T) {
	var e *Engine
	assert.True(t, e.Evaluate(buy(1, 1), StateView{}).Allow)
}
