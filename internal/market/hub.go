package market

import (
	"tradecore/internal/schema"
)

// MarkSource supplies a reference price per symbol.
type MarkSource interface {
	Mark(symbol string) (float64, bool)
}

// Fallback asks each source in order and returns the first known mark.
type Fallback []MarkSource

func (f Fallback) Mark(symbol string) (float64, bool) {
	for _, src := range f {
		if src == nil {
			continue
		}
		if px, ok := src.Mark(symbol); ok {
			return px, true
		}
	}
	return 0, false
}

// Hub groups the stores and routes decoded events into them.
type Hub struct {
	Trades       *TradeStore
	Liquidations *LiquidationStore
	Marks        *MarkStore
}

func NewHub(maxPerSymbol int) *Hub {
	return &Hub{
		Trades:       NewTradeStore(maxPerSymbol),
		Liquidations: NewLiquidationStore(maxPerSymbol),
		Marks:        NewMarkStore(),
	}
}

// Handle stores trades, liquidations and marks. It reports whether ev was consumed.
func (h *Hub) Handle(ev schema.Event) bool {
	switch e := ev.(type) {
	case schema.Trade:
		h.Trades.OnTrade(e)
	case schema.Liquidation:
		h.Liquidations.OnLiquidation(e)
	case schema.MarkPrice:
		h.Marks.OnMarkPrice(e)
	default:
		return false
	}
	return true
}
