package book

import (
	"sort"
	"time"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

const (
	DefaultMaxBuffered    = 1000
	DefaultRequestTimeout = 5 * time.Second
)

// SyncState is the sequencing state of a reconstructor.
type SyncState uint8

const (
	Unsynced SyncState = iota
	AwaitingSnapshot
	Synced
)

func (s SyncState) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case AwaitingSnapshot:
		return "awaiting_snapshot"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// SnapshotRequester fetches a snapshot asynchronously. The result must come
// back through OnSnapshot on the dispatcher goroutine.
type SnapshotRequester interface {
	RequestSnapshot(symbol string)
}

// Listener is told after each applied change to a book.
type Listener interface {
	OnBookUpdate(symbol string)
}

// ReconstructorOption tunes a reconstructor.
type ReconstructorOption struct {
	MaxBuffered    int
	RequestTimeout time.Duration
	SnapEvery      time.Duration
	MaxSnaps       int
	Metrics        *obs.Metrics
	// OnResync is called with the gap that forced a new snapshot.
	OnResync func(gap *exception.SequenceGapError)
}

// Reconstructor keeps an L2Book consistent with the venue from a snapshot plus
// ordered diffs. A diff is applied only if it continues the applied sequence;
// anything else sends the book back for a new snapshot.
type Reconstructor struct {
	ctx       core.Context
	opt       ReconstructorOption
	symbol    string
	book      *L2Book
	history   *History
	requester SnapshotRequester
	listeners []Listener

	state       SyncState
	needBridge  bool
	buffer      []schema.DepthDiff
	requestedAt time.Time

	updates  uint64
	resyncs  uint64
	dropped  uint64
	overflow uint64
}

// NewReconstructor starts Unsynced. The first diff triggers a snapshot request.
func NewReconstructor(ctx core.Context, symbol string, requester SnapshotRequester, opt ReconstructorOption) *Reconstructor {
	if opt.MaxBuffered <= 0 {
		opt.MaxBuffered = DefaultMaxBuffered
	}
	if opt.RequestTimeout <= 0 {
		opt.RequestTimeout = DefaultRequestTimeout
	}
	return &Reconstructor{
		ctx:       core.Resolve(ctx).Named("book." + symbol),
		opt:       opt,
		symbol:    symbol,
		book:      NewL2Book(symbol),
		history:   NewHistory(opt.SnapEvery, opt.MaxSnaps),
		requester: requester,
	}
}

func (r *Reconstructor) Symbol() string     { return r.symbol }
func (r *Reconstructor) Book() *L2Book      { return r.book }
func (r *Reconstructor) History() *History  { return r.history }
func (r *Reconstructor) State() SyncState   { return r.state }
func (r *Reconstructor) Synced() bool       { return r.state == Synced }
func (r *Reconstructor) UpdateID() uint64   { return r.book.lastUpdateID }
func (r *Reconstructor) Updates() uint64    { return r.updates }
func (r *Reconstructor) Resyncs() uint64    { return r.resyncs }
func (r *Reconstructor) Buffered() int      { return len(r.buffer) }
func (r *Reconstructor) StaleDiffs() uint64 { return r.dropped }

// AddListener registers l for book updates.
func (r *Reconstructor) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// OnDiff consumes one diff. A returned *exception.SequenceGapError means the
// book went back to Unsynced and a new snapshot was requested.
func (r *Reconstructor) OnDiff(diff schema.DepthDiff) error {
	switch r.state {
	case Unsynced:
		r.bufferDiff(diff)
		r.request()
		return nil
	case AwaitingSnapshot:
		r.bufferDiff(diff)
		if r.ctx.Clock.Now().Sub(r.requestedAt) >= r.opt.RequestTimeout {
			r.ctx.Log.Warnf("snapshot not received after %s, requesting again", r.opt.RequestTimeout)
			r.request()
		}
		return nil
	}

	last := r.book.lastUpdateID
	if diff.FinalUpdateID <= last {
		r.dropped++
		return nil
	}
	if !r.continues(diff, last) {
		gap := r.gap(diff, last)
		r.bufferDiff(diff)
		r.resync(gap)
		return gap
	}
	r.applyDiff(diff)
	r.notify()
	return nil
}

// OnSnapshot seeds the book and replays the buffered diffs that follow it.
// Snapshots arriving while Synced are ignored.
func (r *Reconstructor) OnSnapshot(snap schema.BookSnapshot) error {
	if r.state == Synced {
		r.ctx.Log.Debugf("ignore snapshot %d while synced at %d", snap.LastUpdateID, r.book.lastUpdateID)
		return nil
	}

	r.book.Reset(snap)
	r.state = Synced
	r.needBridge = true
	last := snap.LastUpdateID

	pending := r.buffer[:0]
	for _, diff := range r.buffer {
		if diff.FinalUpdateID > last {
			pending = append(pending, diff)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].FirstUpdateID < pending[j].FirstUpdateID
	})

	for i, diff := range pending {
		last = r.book.lastUpdateID
		if diff.FinalUpdateID <= last {
			r.dropped++
			continue
		}
		if !r.continues(diff, last) {
			gap := r.gap(diff, last)
			r.buffer = append(r.buffer[:0], pending[i:]...)
			r.resync(gap)
			return gap
		}
		r.applyDiff(diff)
	}
	r.buffer = r.buffer[:0]
	r.ctx.Log.Infof("synced at %d", r.book.lastUpdateID)
	r.notify()
	return nil
}

// continues reports whether diff may be applied on top of last. The first diff
// after a snapshot must straddle last+1. Later ones must name last as their
// previous id when the venue sends one, and start exactly at last+1 otherwise.
func (r *Reconstructor) continues(diff schema.DepthDiff, last uint64) bool {
	next := last + 1
	switch {
	case r.needBridge:
		return diff.FirstUpdateID <= next && next <= diff.FinalUpdateID
	case diff.PrevUpdateID != 0:
		return diff.PrevUpdateID == last
	default:
		return diff.FirstUpdateID == next
	}
}

func (r *Reconstructor) gap(diff schema.DepthDiff, last uint64) *exception.SequenceGapError {
	return &exception.SequenceGapError{
		Symbol:   r.symbol,
		Expected: last + 1,
		First:    diff.FirstUpdateID,
		Final:    diff.FinalUpdateID,
	}
}

func (r *Reconstructor) applyDiff(diff schema.DepthDiff) {
	r.book.apply(diff)
	r.needBridge = false
	r.updates++
	r.opt.Metrics.IncBookUpdate(r.symbol)
	if q, ok := r.book.Quote(); ok {
		r.history.Observe(r.ctx.Clock.Now(), q)
	}
}

func (r *Reconstructor) resync(gap *exception.SequenceGapError) {
	r.state = Unsynced
	r.resyncs++
	r.opt.Metrics.IncBookResync(r.symbol)
	r.ctx.Log.Warnf("%v, resync %d", gap, r.resyncs)
	if r.opt.OnResync != nil {
		r.opt.OnResync(gap)
	}
	r.request()
}

func (r *Reconstructor) request() {
	if r.requester == nil {
		return
	}
	r.state = AwaitingSnapshot
	r.requestedAt = r.ctx.Clock.Now()
	r.requester.RequestSnapshot(r.symbol)
}

func (r *Reconstructor) bufferDiff(diff schema.DepthDiff) {
	if len(r.buffer) >= r.opt.MaxBuffered {
		copy(r.buffer, r.buffer[1:])
		r.buffer = r.buffer[:len(r.buffer)-1]
		r.overflow++
	}
	r.buffer = append(r.buffer, diff)
}

func (r *Reconstructor) notify() {
	for _, l := range r.listeners {
		l.OnBookUpdate(r.symbol)
	}
}
