package book

import (
	"sort"

	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

// BookSink is what a venue adapter feeds market depth into.
type BookSink interface {
	OnDepth(diff schema.DepthDiff) error
	OnSnapshot(snap schema.BookSnapshot) error
	OnBBO(bbo schema.BBO)
}

// Registry owns the books of a set of symbols and routes updates to them.
type Registry struct {
	ctx       core.Context
	requester SnapshotRequester
	opt       ReconstructorOption
	books     map[string]*Reconstructor
	bbo       *BBOBook
}

var _ BookSink = (*Registry)(nil)

func NewRegistry(ctx core.Context, requester SnapshotRequester, opt ReconstructorOption, bbo *BBOBook) *Registry {
	ctx = core.Resolve(ctx)
	if bbo == nil {
		bbo = NewBBOBook(ctx, BBOOption{Metrics: opt.Metrics})
	}
	return &Registry{
		ctx:       ctx,
		requester: requester,
		opt:       opt,
		books:     make(map[string]*Reconstructor),
		bbo:       bbo,
	}
}

// Add creates the book of symbol. Adding a known symbol returns the existing book.
func (r *Registry) Add(symbol string) *Reconstructor {
	if rc, ok := r.books[symbol]; ok {
		return rc
	}
	rc := NewReconstructor(r.ctx, symbol, r.requester, r.opt)
	r.books[symbol] = rc
	return rc
}

func (r *Registry) Get(symbol string) (*Reconstructor, bool) {
	rc, ok := r.books[symbol]
	return rc, ok
}

func (r *Registry) BBO() *BBOBook { return r.bbo }

// Symbols returns the registered symbols sorted.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) OnDepth(diff schema.DepthDiff) error {
	rc, ok := r.books[diff.Symbol]
	if !ok {
		return errors.Wrap(exception.ErrUnknownSymbol, diff.Symbol)
	}
	return rc.OnDiff(diff)
}

func (r *Registry) OnSnapshot(snap schema.BookSnapshot) error {
	rc, ok := r.books[snap.Symbol]
	if !ok {
		return errors.Wrap(exception.ErrUnknownSymbol, snap.Symbol)
	}
	return rc.OnSnapshot(snap)
}

func (r *Registry) OnBBO(bbo schema.BBO) {
	r.bbo.OnBBO(bbo)
}

// Handle routes a decoded event. Kinds other than depth, snapshot and BBO are ignored.
func (r *Registry) Handle(ev schema.Event) error {
	switch e := ev.(type) {
	case schema.DepthDiff:
		return r.OnDepth(e)
	case schema.BookSnapshot:
		return r.OnSnapshot(e)
	case schema.BBO:
		r.OnBBO(e)
	}
	return nil
}

// Updates sums the applied diffs over every book.
func (r *Registry) Updates() uint64 {
	var n uint64
	for _, rc := range r.books {
		n += rc.Updates()
	}
	return n
}

// Resyncs sums the resyncs over every book.
func (r *Registry) Resyncs() uint64 {
	var n uint64
	for _, rc := range r.books {
		n += rc.Resyncs()
	}
	return n
}
