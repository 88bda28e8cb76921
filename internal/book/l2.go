package book

import (
	"math"
	"sort"

	"tradecore/internal/schema"
)

// L2Book is the price level view of one symbol. It is owned by the dispatcher
// goroutine and is not safe for concurrent use.
type L2Book struct {
	symbol       string
	bids         map[float64]float64
	asks         map[float64]float64
	lastUpdateID uint64
	tsEvent      int64

	sortedBids []schema.BookLevel
	sortedAsks []schema.BookLevel
	dirty      bool
}

// NewL2Book creates an empty book.
func NewL2Book(symbol string) *L2Book {
	return &L2Book{
		symbol: symbol,
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

func (b *L2Book) Symbol() string       { return b.symbol }
func (b *L2Book) LastUpdateID() uint64 { return b.lastUpdateID }
func (b *L2Book) TsEvent() int64       { return b.tsEvent }

// Reset replaces every level with the snapshot.
func (b *L2Book) Reset(snap schema.BookSnapshot) {
	clear(b.bids)
	clear(b.asks)
	for _, lvl := range snap.Bids {
		if lvl.Size > 0 {
			b.bids[lvl.Price] = lvl.Size
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Size > 0 {
			b.asks[lvl.Price] = lvl.Size
		}
	}
	b.lastUpdateID = snap.LastUpdateID
	b.tsEvent = snap.TsEvent
	b.dirty = true
}

// apply upserts the diff levels. Zero size removes the level.
func (b *L2Book) apply(diff schema.DepthDiff) {
	upsert(b.bids, diff.Bids)
	upsert(b.asks, diff.Asks)
	b.lastUpdateID = diff.FinalUpdateID
	b.tsEvent = diff.TsEvent
	b.dirty = true
}

func upsert(side map[float64]float64, levels []schema.BookLevel) {
	for _, lvl := range levels {
		if lvl.Size == 0 {
			delete(side, lvl.Price)
			continue
		}
		side[lvl.Price] = lvl.Size
	}
}

func (b *L2Book) sort() {
	if !b.dirty {
		return
	}
	b.sortedBids = collect(b.sortedBids, b.bids)
	sort.Slice(b.sortedBids, func(i, j int) bool { return b.sortedBids[i].Price > b.sortedBids[j].Price })
	b.sortedAsks = collect(b.sortedAsks, b.asks)
	sort.Slice(b.sortedAsks, func(i, j int) bool { return b.sortedAsks[i].Price < b.sortedAsks[j].Price })
	b.dirty = false
}

func collect(dst []schema.BookLevel, side map[float64]float64) []schema.BookLevel {
	dst = dst[:0]
	for px, sz := range side {
		dst = append(dst, schema.BookLevel{Price: px, Size: sz})
	}
	return dst
}

// Bids returns up to depth levels, best first. depth <= 0 returns all.
func (b *L2Book) Bids(depth int) []schema.BookLevel {
	b.sort()
	return head(b.sortedBids, depth)
}

// Asks returns up to depth levels, best first. depth <= 0 returns all.
func (b *L2Book) Asks(depth int) []schema.BookLevel {
	b.sort()
	return head(b.sortedAsks, depth)
}

func head(levels []schema.BookLevel, depth int) []schema.BookLevel {
	if depth <= 0 || depth > len(levels) {
		depth = len(levels)
	}
	out := make([]schema.BookLevel, depth)
	copy(out, levels[:depth])
	return out
}

func (b *L2Book) BestBid() (schema.BookLevel, bool) {
	b.sort()
	if len(b.sortedBids) == 0 {
		return schema.BookLevel{}, false
	}
	return b.sortedBids[0], true
}

func (b *L2Book) BestAsk() (schema.BookLevel, bool) {
	b.sort()
	if len(b.sortedAsks) == 0 {
		return schema.BookLevel{}, false
	}
	return b.sortedAsks[0], true
}

// Quote returns the top of book.
func (b *L2Book) Quote() (Quote, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return Quote{}, false
	}
	return Quote{BidPrice: bid.Price, BidSize: bid.Size, AskPrice: ask.Price, AskSize: ask.Size}, true
}

// Mid returns 0 when either side is empty.
func (b *L2Book) Mid() float64 {
	q, ok := b.Quote()
	if !ok {
		return 0
	}
	return q.Mid()
}

// SpreadBps returns the spread in basis points of mid, 0 when a side is empty.
func (b *L2Book) SpreadBps() float64 {
	q, ok := b.Quote()
	if !ok {
		return 0
	}
	return q.SpreadBps()
}

// Liquidity returns bid and ask notional resting within pct of each best price.
func (b *L2Book) Liquidity(pct float64) (bid, ask float64) {
	b.sort()
	if len(b.sortedBids) == 0 || len(b.sortedAsks) == 0 {
		return 0, 0
	}
	bidCut := b.sortedBids[0].Price * (1 - pct)
	for _, lvl := range b.sortedBids {
		if lvl.Price < bidCut {
			break
		}
		bid += lvl.Price * lvl.Size
	}
	askCut := b.sortedAsks[0].Price * (1 + pct)
	for _, lvl := range b.sortedAsks {
		if lvl.Price > askCut {
			break
		}
		ask += lvl.Price * lvl.Size
	}
	return bid, ask
}

// LiquidityNotional is the total of both sides of Liquidity.
func (b *L2Book) LiquidityNotional(pct float64) float64 {
	bid, ask := b.Liquidity(pct)
	return bid + ask
}

// Imbalance is bid/ask - 1 over the notional within pct. 0 when undefined.
func (b *L2Book) Imbalance(pct float64) float64 {
	bid, ask := b.Liquidity(pct)
	if ask == 0 {
		return 0
	}
	return bid/ask - 1
}

// LogImbalance is ln(bid/ask) over the notional within pct. 0 when undefined.
func (b *L2Book) LogImbalance(pct float64) float64 {
	bid, ask := b.Liquidity(pct)
	if bid == 0 || ask == 0 {
		return 0
	}
	return math.Log(bid / ask)
}
