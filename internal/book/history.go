package book

import (
	"math"
	"sort"
	"time"
)

const (
	DefaultSnapEvery = time.Second
	DefaultMaxSnaps  = 10_000
)

// Quote is a top of book pair.
type Quote struct {
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
}

func (q Quote) Mid() float64 {
	if q.BidPrice <= 0 || q.AskPrice <= 0 {
		return 0
	}
	return (q.BidPrice + q.AskPrice) / 2
}

// SpreadBps returns (ask - bid) / mid in basis points.
func (q Quote) SpreadBps() float64 {
	mid := q.Mid()
	if mid == 0 {
		return 0
	}
	return (q.AskPrice - q.BidPrice) / mid * 1e4
}

// History samples the top of book at a fixed interval and derives short horizon signals.
type History struct {
	every  time.Duration
	max    int
	snaps  []Quote
	lastAt time.Time
}

// NewHistory samples every `every` and keeps at most max snapshots.
func NewHistory(every time.Duration, max int) *History {
	if every <= 0 {
		every = DefaultSnapEvery
	}
	if max <= 0 {
		max = DefaultMaxSnaps
	}
	return &History{every: every, max: max}
}

// Observe records q if a sample is due at now.
func (h *History) Observe(now time.Time, q Quote) {
	if !h.lastAt.IsZero() && now.Sub(h.lastAt) < h.every {
		return
	}
	h.snaps = append(h.snaps, q)
	if len(h.snaps) > h.max {
		copy(h.snaps, h.snaps[1:])
		h.snaps = h.snaps[:h.max]
	}
	h.lastAt = now
}

func (h *History) Len() int { return len(h.snaps) }

// Return is the log return of the current mid against the n-th latest sample.
// A sample taken less than half an interval ago is skipped so the horizon stays
// close to n intervals.
func (h *History) Return(now time.Time, cur Quote, n int) float64 {
	if n <= 0 {
		n = 1
	}
	if !h.lastAt.IsZero() && now.Sub(h.lastAt) < h.every/2 {
		n++
	}
	if len(h.snaps) < n {
		return 0
	}
	past := h.snaps[len(h.snaps)-n].Mid()
	mid := cur.Mid()
	if past == 0 || mid == 0 {
		return 0
	}
	return math.Log(mid / past)
}

// OFI is the order flow imbalance between the n-th latest sample and cur.
func (h *History) OFI(cur Quote, n int) float64 {
	if n <= 0 {
		n = 2
	}
	if len(h.snaps) < n {
		return 0
	}
	last := h.snaps[len(h.snaps)-n]
	var ofi float64
	if cur.BidPrice > last.BidPrice {
		ofi += cur.BidSize
	}
	if cur.BidPrice < last.BidPrice {
		ofi -= last.BidSize
	}
	if cur.AskPrice < last.AskPrice {
		ofi -= cur.AskSize
	}
	if cur.AskPrice > last.AskPrice {
		ofi += last.AskSize
	}
	return ofi
}

// SpreadMean averages the wider half of the last n sampled spreads, in bps.
func (h *History) SpreadMean(n int) float64 {
	if n <= 0 {
		n = 60
	}
	snaps := h.snaps
	if len(snaps) > n {
		snaps = snaps[len(snaps)-n:]
	}
	if len(snaps) == 0 {
		return 0
	}
	spreads := make([]float64, 0, len(snaps))
	for _, q := range snaps {
		spreads = append(spreads, q.SpreadBps())
	}
	sort.Float64s(spreads)
	upper := spreads[len(spreads)/2:]
	var sum float64
	for _, s := range upper {
		sum += s
	}
	return sum / float64(len(upper))
}
