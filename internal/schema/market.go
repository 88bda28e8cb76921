package schema

// BookLevel is a single price level.
type BookLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a full depth snapshot. Bids are descending, asks ascending.
type BookSnapshot struct {
	Symbol       string
	Bids         []BookLevel
	Asks         []BookLevel
	LastUpdateID uint64
	TsEvent      int64
	TsRecv       int64
}

// DepthDiff is an incremental depth update covering [FirstUpdateID, FinalUpdateID].
// PrevUpdateID, when the venue sends it, is the FinalUpdateID of the previous
// diff on the stream. A level with zero size removes that price.
type DepthDiff struct {
	Symbol        string
	FirstUpdateID uint64
	FinalUpdateID uint64
	PrevUpdateID  uint64
	Bids          []BookLevel
	Asks          []BookLevel
	TsEvent       int64
	TsRecv        int64
}

// BBO is a top of book update keyed by a monotonic venue sequence.
type BBO struct {
	Symbol   string
	Sequence uint64
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
	TsEvent  int64
	TsRecv   int64
}

// Mid returns the mid price or 0 when either side is empty.
func (b BBO) Mid() float64 {
	if b.BidPrice <= 0 || b.AskPrice <= 0 {
		return 0
	}
	return (b.BidPrice + b.AskPrice) / 2
}

// Trade is a public trade. Aggressor is the taker side.
type Trade struct {
	Symbol    string
	TradeID   uint64
	Price     float64
	Qty       float64
	Aggressor Side
	TsEvent   int64
	TsRecv    int64
}

// Liquidation is a forced order published by the venue.
type Liquidation struct {
	Symbol  string
	Side    Side
	Price   float64
	Qty     float64
	Status  string
	TsEvent int64
	TsRecv  int64
}

// MarkPrice carries mark, index and funding information.
type MarkPrice struct {
	Symbol        string
	Mark          float64
	Index         float64
	FundingRate   float64
	NextFundingTs int64
	TsEvent       int64
	TsRecv        int64
}
