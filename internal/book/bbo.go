package book

import (
	"time"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
)

// BBOListener is told about top of book changes.
type BBOListener interface {
	OnBBOUpdate(bbo schema.BBO)
}

// BBOListenerFunc adapts a function to BBOListener.
type BBOListenerFunc func(bbo schema.BBO)

func (f BBOListenerFunc) OnBBOUpdate(bbo schema.BBO) { f(bbo) }

type bboEntry struct {
	bbo     schema.BBO
	history *History
}

// BBOBook keeps the latest top of book per symbol, ordered by venue sequence.
// Updates with a sequence not above the stored one are dropped.
type BBOBook struct {
	ctx     core.Context
	metrics *obs.Metrics
	entries map[string]*bboEntry
	opt     BBOOption

	priceListeners []BBOListener
	anyListeners   []BBOListener

	dropped uint64
}

// BBOOption tunes the per symbol history.
type BBOOption struct {
	SnapEvery time.Duration
	MaxSnaps  int
	Metrics   *obs.Metrics
}

func NewBBOBook(ctx core.Context, opt BBOOption) *BBOBook {
	return &BBOBook{
		ctx:     core.Resolve(ctx).Named("bbo"),
		metrics: opt.Metrics,
		entries: make(map[string]*bboEntry),
		opt:     opt,
	}
}

// OnPriceChange registers l for updates that move the bid or ask price.
func (b *BBOBook) OnPriceChange(l BBOListener) {
	b.priceListeners = append(b.priceListeners, l)
}

// OnAny registers l for every accepted update.
func (b *BBOBook) OnAny(l BBOListener) {
	b.anyListeners = append(b.anyListeners, l)
}

// OnBBO stores bbo when it is newer than the current value.
func (b *BBOBook) OnBBO(bbo schema.BBO) {
	b.Update(bbo)
}

// Update is OnBBO reporting whether the update was accepted.
func (b *BBOBook) Update(bbo schema.BBO) bool {
	e, ok := b.entries[bbo.Symbol]
	if !ok {
		e = &bboEntry{history: NewHistory(b.opt.SnapEvery, b.opt.MaxSnaps)}
		b.entries[bbo.Symbol] = e
	} else if bbo.Sequence <= e.bbo.Sequence {
		b.dropped++
		b.metrics.IncBBODropped(bbo.Symbol)
		return false
	}

	moved := !ok || bbo.BidPrice != e.bbo.BidPrice || bbo.AskPrice != e.bbo.AskPrice
	e.bbo = bbo
	e.history.Observe(b.ctx.Clock.Now(), quoteOf(bbo))

	if moved {
		for _, l := range b.priceListeners {
			l.OnBBOUpdate(bbo)
		}
	}
	for _, l := range b.anyListeners {
		l.OnBBOUpdate(bbo)
	}
	return true
}

// Get returns the latest BBO for symbol.
func (b *BBOBook) Get(symbol string) (schema.BBO, bool) {
	e, ok := b.entries[symbol]
	if !ok {
		return schema.BBO{}, false
	}
	return e.bbo, true
}

// Mid returns the latest mid or 0 when unknown.
func (b *BBOBook) Mid(symbol string) float64 {
	e, ok := b.entries[symbol]
	if !ok {
		return 0
	}
	return e.bbo.Mid()
}

// Mark satisfies the mark source used by the simulated venue.
func (b *BBOBook) Mark(symbol string) (float64, bool) {
	mid := b.Mid(symbol)
	return mid, mid > 0
}

func (b *BBOBook) SpreadBps(symbol string) float64 {
	e, ok := b.entries[symbol]
	if !ok {
		return 0
	}
	return quoteOf(e.bbo).SpreadBps()
}

// LastUpdate returns the receive time of the latest accepted update in unix nanoseconds.
func (b *BBOBook) LastUpdate(symbol string) int64 {
	e, ok := b.entries[symbol]
	if !ok {
		return 0
	}
	return e.bbo.TsRecv
}

// History returns the sampled history of symbol, or nil when no update was seen.
func (b *BBOBook) History(symbol string) *History {
	e, ok := b.entries[symbol]
	if !ok {
		return nil
	}
	return e.history
}

func (b *BBOBook) Symbols() []string {
	out := make([]string, 0, len(b.entries))
	for s := range b.entries {
		out = append(out, s)
	}
	return out
}

func (b *BBOBook) Dropped() uint64 { return b.dropped }

func quoteOf(bbo schema.BBO) Quote {
	return Quote{
		BidPrice: bbo.BidPrice,
		BidSize:  bbo.BidQty,
		AskPrice: bbo.AskPrice,
		AskSize:  bbo.AskQty,
	}
}
