package main

import (
	"time"

	"tradecore/internal/book"
	"tradecore/internal/oms"
	"tradecore/internal/schema"
)

// quoter keeps one post-only bid and ask at the touch of every symbol and
// requotes once they have rested for maxAge.
type quoter struct {
	oms     *oms.Manager
	bbo     *book.BBOBook
	symbols []string
	qty     float64
	maxAge  time.Duration

	placed map[string]int64
}

func newQuoter(m *oms.Manager, bbo *book.BBOBook, symbols []string, qty float64, maxAge time.Duration) *quoter {
	return &quoter{
		oms:     m,
		bbo:     bbo,
		symbols: symbols,
		qty:     qty,
		maxAge:  maxAge,
		placed:  make(map[string]int64, len(symbols)),
	}
}

func (q *quoter) tick(now time.Time) error {
	if !q.oms.Ready() {
		return nil
	}
	ts := now.UnixNano()

	var reqs []schema.OrderRequest
	for _, symbol := range q.symbols {
		if len(q.oms.OpenOrders(symbol)) > 0 {
			if ts-q.placed[symbol] >= int64(q.maxAge) {
				if err := q.oms.CancelAll(symbol); err != nil {
					return err
				}
			}
			continue
		}
		top, ok := q.bbo.Get(symbol)
		if !ok || top.BidPrice <= 0 || top.AskPrice <= top.BidPrice {
			continue
		}
		reqs = append(reqs,
			schema.OrderRequest{Symbol: symbol, Side: schema.SideBuy, Kind: schema.OrderKindLimitPostOnly, Qty: q.qty, Price: top.BidPrice},
			schema.OrderRequest{Symbol: symbol, Side: schema.SideSell, Kind: schema.OrderKindLimitPostOnly, Qty: q.qty, Price: top.AskPrice},
		)
		q.placed[symbol] = ts
	}
	if len(reqs) == 0 {
		return nil
	}
	_, err := q.oms.Submit(reqs)
	return err
}
