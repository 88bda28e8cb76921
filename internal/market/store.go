/*
Market keeps the public trade, liquidation and mark price state per symbol.

# Module
  - trades: bounded history of aggregated trades, signed notional flow
  - liquidations: bounded history of forced orders, net liquidated notional
  - marks: latest mark, index and funding per symbol

# Ownership
  - written and read on the dispatcher goroutine only
*/
package market

import (
	"tradecore/internal/schema"
)

const DefaultMaxPerSymbol = 1000

// TradeListener is told about every stored trade.
type TradeListener interface {
	OnTrade(trade schema.Trade)
}

type TradeListenerFunc func(trade schema.Trade)

func (f TradeListenerFunc) OnTrade(trade schema.Trade) { f(trade) }

// TradeStore keeps the latest trades of each symbol.
type TradeStore struct {
	max       int
	trades    map[string][]schema.Trade
	listeners []TradeListener
}

func NewTradeStore(maxPerSymbol int) *TradeStore {
	if maxPerSymbol <= 0 {
		maxPerSymbol = DefaultMaxPerSymbol
	}
	return &TradeStore{max: maxPerSymbol, trades: make(map[string][]schema.Trade)}
}

func (s *TradeStore) AddListener(l TradeListener) {
	s.listeners = append(s.listeners, l)
}

func (s *TradeStore) OnTrade(trade schema.Trade) {
	s.trades[trade.Symbol] = push(s.trades[trade.Symbol], trade, s.max)
	for _, l := range s.listeners {
		l.OnTrade(trade)
	}
}

// Last returns the most recent trade of symbol.
func (s *TradeStore) Last(symbol string) (schema.Trade, bool) {
	ts := s.trades[symbol]
	if len(ts) == 0 {
		return schema.Trade{}, false
	}
	return ts[len(ts)-1], true
}

// Trades returns a copy of the stored trades of symbol, oldest first.
func (s *TradeStore) Trades(symbol string) []schema.Trade {
	return append([]schema.Trade(nil), s.trades[symbol]...)
}

// NetFlow sums the signed notional of trades with an exchange time after since.
// Buyer initiated trades count positive.
func (s *TradeStore) NetFlow(symbol string, since int64) float64 {
	ts := s.trades[symbol]
	var net float64
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].TsEvent <= since {
			break
		}
		net += ts[i].Aggressor.Sign() * ts[i].Qty * ts[i].Price
	}
	return net
}

// NetLiquidation is the signed summary of forced orders over a window.
type NetLiquidation struct {
	Notional float64
	Buy      bool
	Count    int
}

// LiquidationStore keeps the latest forced orders of each symbol.
type LiquidationStore struct {
	max   int
	store map[string][]schema.Liquidation
}

func NewLiquidationStore(maxPerSymbol int) *LiquidationStore {
	if maxPerSymbol <= 0 {
		maxPerSymbol = DefaultMaxPerSymbol
	}
	return &LiquidationStore{max: maxPerSymbol, store: make(map[string][]schema.Liquidation)}
}

func (s *LiquidationStore) OnLiquidation(liq schema.Liquidation) {
	s.store[liq.Symbol] = push(s.store[liq.Symbol], liq, s.max)
}

// Net sums liquidations received after since. Buy side liquidations count positive.
func (s *LiquidationStore) Net(symbol string, since int64) NetLiquidation {
	var (
		ntl float64
		n   int
	)
	for _, liq := range s.store[symbol] {
		if liq.TsRecv <= since {
			continue
		}
		ntl += liq.Side.Sign() * liq.Qty * liq.Price
		n++
	}
	out := NetLiquidation{Notional: ntl, Buy: ntl > 0, Count: n}
	if out.Notional < 0 {
		out.Notional = -out.Notional
	}
	return out
}

// MarkStore keeps the latest mark price per symbol.
type MarkStore struct {
	marks map[string]schema.MarkPrice
}

func NewMarkStore() *MarkStore {
	return &MarkStore{marks: make(map[string]schema.MarkPrice)}
}

// OnMarkPrice keeps mp unless an update with a later exchange time is stored.
func (s *MarkStore) OnMarkPrice(mp schema.MarkPrice) {
	if cur, ok := s.marks[mp.Symbol]; ok && cur.TsEvent > mp.TsEvent {
		return
	}
	s.marks[mp.Symbol] = mp
}

func (s *MarkStore) Get(symbol string) (schema.MarkPrice, bool) {
	mp, ok := s.marks[symbol]
	return mp, ok
}

// Mark returns the mark price of symbol.
func (s *MarkStore) Mark(symbol string) (float64, bool) {
	mp, ok := s.marks[symbol]
	if !ok || mp.Mark <= 0 {
		return 0, false
	}
	return mp.Mark, true
}

func push[T any](s []T, v T, max int) []T {
	if len(s) >= max {
		copy(s, s[1:])
		s = s[:len(s)-1]
	}
	return append(s, v)
}
