package state

import (
	"math"
	"sort"

	"tradecore/internal/schema"
)

// qtyEpsilon treats residual float noise as a flat position.
const qtyEpsilon = 1e-12

// PositionBook keeps signed positions with a volume weighted entry price.
type PositionBook struct {
	positions map[string]*schema.Position
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]*schema.Position)}
}

// ApplyFill updates the position of the fill symbol and returns the new state.
//
// Adding to a flat or same signed position moves the entry to the weighted
// average. Reducing keeps the entry and realizes the closed quantity. A fill
// that flips the sign realizes the old side and opens the rest at the fill price.
func (b *PositionBook) ApplyFill(fill schema.Fill) schema.Position {
	p := b.get(fill.Symbol)
	apply(p, fill.Side.Sign()*fill.Qty, fill.Price)
	p.UnrealizedPnL = unrealized(p)
	return *p
}

func apply(p *schema.Position, qty, px float64) {
	q0, p0 := p.Qty, p.EntryPrice
	next := q0 + qty
	if math.Abs(next) < qtyEpsilon {
		next = 0
	}

	switch {
	case q0 == 0 || sameSign(q0, qty):
		if next != 0 {
			p.EntryPrice = (q0*p0 + qty*px) / next
		}
	default:
		closed := math.Min(math.Abs(qty), math.Abs(q0))
		p.RealizedPnL += closed * sign(q0) * (px - p0)
		switch {
		case next == 0:
			p.EntryPrice = 0
		case !sameSign(next, q0):
			p.EntryPrice = px
		}
	}
	p.Qty = next
}

// Mark sets the mark price of symbol and refreshes its unrealized PnL.
func (b *PositionBook) Mark(symbol string, px float64) {
	p, ok := b.positions[symbol]
	if !ok || px <= 0 {
		return
	}
	p.Mark = px
	p.UnrealizedPnL = unrealized(p)
}

// ApplySnapshot replaces every position.
func (b *PositionBook) ApplySnapshot(positions []schema.Position) {
	clear(b.positions)
	for _, pos := range positions {
		p := pos
		p.UnrealizedPnL = unrealized(&p)
		b.positions[p.Symbol] = &p
	}
}

// Position returns the position of symbol, flat when unknown.
func (b *PositionBook) Position(symbol string) schema.Position {
	p, ok := b.positions[symbol]
	if !ok {
		return schema.Position{Symbol: symbol}
	}
	return *p
}

// Positions returns the non flat positions sorted by symbol.
func (b *PositionBook) Positions() []schema.Position {
	out := make([]schema.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Qty == 0 {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Unrealized sums the unrealized PnL of every position.
func (b *PositionBook) Unrealized() float64 {
	var sum float64
	for _, p := range b.positions {
		sum += p.UnrealizedPnL
	}
	return sum
}

// Realized sums the realized PnL of every position.
func (b *PositionBook) Realized() float64 {
	var sum float64
	for _, p := range b.positions {
		sum += p.RealizedPnL
	}
	return sum
}

// Notional sums the signed notional of every position.
func (b *PositionBook) Notional() float64 {
	var sum float64
	for _, p := range b.positions {
		sum += p.Notional()
	}
	return sum
}

// GrossNotional sums the absolute notional of every position.
func (b *PositionBook) GrossNotional() float64 {
	var sum float64
	for _, p := range b.positions {
		sum += math.Abs(p.Notional())
	}
	return sum
}

func (b *PositionBook) Count() int {
	return len(b.positions)
}

func (b *PositionBook) get(symbol string) *schema.Position {
	p, ok := b.positions[symbol]
	if !ok {
		p = &schema.Position{Symbol: symbol}
		b.positions[symbol] = p
	}
	return p
}

func unrealized(p *schema.Position) float64 {
	if p.Mark == 0 || p.Qty == 0 {
		return 0
	}
	return p.Qty * (p.Mark - p.EntryPrice)
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
