package schema

// Position is the signed holding in one symbol.
type Position struct {
	Symbol        string
	Qty           float64
	EntryPrice    float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Mark          float64
}

// Notional returns the signed mark notional, falling back to entry price.
func (p Position) Notional() float64 {
	px := p.Mark
	if px == 0 {
		px = p.EntryPrice
	}
	return p.Qty * px
}

// Balance is the cash state of one asset.
type Balance struct {
	Asset     string
	Wallet    float64
	Available float64
}

// AccountSnapshot is a full account state pushed by the venue.
type AccountSnapshot struct {
	Venue     string
	Positions []Position
	Balances  []Balance
	Ts        int64
}

// OpenOrders is the venue list of live orders used to reconcile the active set.
type OpenOrders struct {
	Venue  string
	Orders []Order
	Ts     int64
}
