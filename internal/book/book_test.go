package book

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/core"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

func TestL2BookViews(t *testing.T) {
	b := NewL2Book("ETHUSDT")
	b.Reset(schema.BookSnapshot{
		LastUpdateID: 7,
		Bids:         []schema.BookLevel{{Price: 99, Size: 2}, {Price: 100, Size: 1}, {Price: 90, Size: 5}},
		Asks:         []schema.BookLevel{{Price: 102, Size: 1}, {Price: 101, Size: 1}, {Price: 0.5, Size: 0}},
	})

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, bid.Price)
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 101.0, ask.Price)

	assert.Equal(t, []schema.BookLevel{{Price: 100, Size: 1}, {Price: 99, Size: 2}}, b.Bids(2))
	assert.Len(t, b.Asks(0), 2, "zero size levels are not stored")
	assert.Equal(t, 100.5, b.Mid())
	assert.InDelta(t, 1/100.5*1e4, b.SpreadBps(), 1e-9)

	bidN, askN := b.Liquidity(0.015)
	assert.Equal(t, 100.0+198.0, bidN)
	assert.Equal(t, 101.0+102.0, askN)
	assert.Equal(t, bidN+askN, b.LiquidityNotional(0.015))
	assert.InDelta(t, bidN/askN-1, b.Imbalance(0.015), 1e-12)
	assert.InDelta(t, math.Log(bidN/askN), b.LogImbalance(0.015), 1e-12)
}

func TestL2BookEmptySide(t *testing.T) {
	b := NewL2Book("ETHUSDT")
	_, ok := b.Quote()
	assert.False(t, ok)
	assert.Zero(t, b.Mid())
	assert.Zero(t, b.Imbalance(0.01))
}

func TestHistorySamplesAtInterval(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	h := NewHistory(time.Second, 3)

	q := func(mid float64) Quote { return Quote{BidPrice: mid - 1, BidSize: 1, AskPrice: mid + 1, AskSize: 1} }
	h.Observe(start, q(100))
	h.Observe(start.Add(300*time.Millisecond), q(500))
	assert.Equal(t, 1, h.Len(), "updates inside the interval are not sampled")

	for i := 1; i <= 4; i++ {
		h.Observe(start.Add(time.Duration(i)*time.Second), q(100+float64(i)))
	}
	assert.Equal(t, 3, h.Len(), "bounded")

	now := start.Add(4*time.Second + 800*time.Millisecond)
	assert.InDelta(t, math.Log(110/104.0), h.Return(now, q(110), 1), 1e-12)

	recent := start.Add(4*time.Second + 100*time.Millisecond)
	assert.InDelta(t, math.Log(110/103.0), h.Return(recent, q(110), 1), 1e-12, "a fresh sample is skipped")
	assert.Zero(t, h.Return(now, q(110), 10))
}

func TestHistoryOFIAndSpreadMean(t *testing.T) {
	start := time.UnixMilli(0)
	h := NewHistory(time.Second, 10)
	h.Observe(start, Quote{BidPrice: 100, BidSize: 2, AskPrice: 101, AskSize: 3})
	h.Observe(start.Add(time.Second), Quote{BidPrice: 100, BidSize: 2, AskPrice: 102, AskSize: 3})

	cur := Quote{BidPrice: 101, BidSize: 4, AskPrice: 102, AskSize: 5}
	// bid moved up (+4), ask moved up from the older sample (+3)
	assert.Equal(t, 7.0, h.OFI(cur, 2))
	assert.Zero(t, h.OFI(cur, 5))

	spreads := []float64{
		Quote{BidPrice: 100, AskPrice: 101}.SpreadBps(),
		Quote{BidPrice: 100, AskPrice: 102}.SpreadBps(),
	}
	assert.InDelta(t, spreads[1], h.SpreadMean(0), 1e-12)
}

func TestBBOBookSequenceAndListeners(t *testing.T) {
	b := NewBBOBook(core.Context{}, BBOOption{})
	var moved, all int
	b.OnPriceChange(BBOListenerFunc(func(schema.BBO) { moved++ }))
	b.OnAny(BBOListenerFunc(func(schema.BBO) { all++ }))

	assert.True(t, b.Update(schema.BBO{Symbol: "BTCUSDT", Sequence: 10, BidPrice: 100, BidQty: 1, AskPrice: 101, AskQty: 1, TsRecv: 5}))
	assert.True(t, b.Update(schema.BBO{Symbol: "BTCUSDT", Sequence: 11, BidPrice: 100, BidQty: 3, AskPrice: 101, AskQty: 1, TsRecv: 6}))
	assert.False(t, b.Update(schema.BBO{Symbol: "BTCUSDT", Sequence: 11, BidPrice: 90, AskPrice: 91}))
	assert.False(t, b.Update(schema.BBO{Symbol: "BTCUSDT", Sequence: 9, BidPrice: 90, AskPrice: 91}))

	assert.Equal(t, 1, moved, "size only change does not count as a price move")
	assert.Equal(t, 2, all)
	assert.Equal(t, uint64(2), b.Dropped())

	got, ok := b.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 3.0, got.BidQty)
	assert.Equal(t, 100.5, b.Mid("BTCUSDT"))
	assert.Equal(t, int64(6), b.LastUpdate("BTCUSDT"))
	assert.NotNil(t, b.History("BTCUSDT"))

	mark, ok := b.Mark("ETHUSDT")
	assert.False(t, ok)
	assert.Zero(t, mark)
}

func TestRegistryRoutesBySymbol(t *testing.T) {
	req := &requests{}
	reg := NewRegistry(core.Context{}, req, ReconstructorOption{}, nil)
	reg.Add("BTCUSDT")
	assert.Same(t, reg.Add("BTCUSDT"), reg.Add("BTCUSDT"))

	require.NoError(t, reg.Handle(snapshot(100)))
	require.NoError(t, reg.Handle(diff(101, 100, 1)))
	require.NoError(t, reg.Handle(schema.BBO{Symbol: "BTCUSDT", Sequence: 1, BidPrice: 1, AskPrice: 2}))
	require.NoError(t, reg.Handle(schema.Trade{Symbol: "BTCUSDT"}))

	assert.Equal(t, uint64(1), reg.Updates())
	assert.Equal(t, 1.5, reg.BBO().Mid("BTCUSDT"))

	err := reg.OnDepth(schema.DepthDiff{Symbol: "DOGEUSDT"})
	assert.ErrorIs(t, err, exception.ErrUnknownSymbol)
	assert.Equal(t, []string{"BTCUSDT"}, reg.Symbols())
}
