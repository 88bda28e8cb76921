package dispatch

import (
	"context"
	"time"

	"tradecore/internal/bus"
	"tradecore/internal/core"
)

// DefaultDrainLimit caps the values one ChanSource hands over per tick.
const DefaultDrainLimit = 1024

// ChanSource drains a bus queue into a handler on the dispatcher goroutine.
type ChanSource[T any] struct {
	name    string
	queue   *bus.Queue[T]
	handler func(T) error
	limit   int
	onError func(v T, err error)
}

// NewChanSource drains at most limit values per Poll. limit <= 0 uses DefaultDrainLimit.
func NewChanSource[T any](name string, queue *bus.Queue[T], limit int, handler func(T) error) *ChanSource[T] {
	if limit <= 0 {
		limit = DefaultDrainLimit
	}
	return &ChanSource[T]{name: name, queue: queue, handler: handler, limit: limit}
}

// OnError sets the callback for handler failures. Without one the first failure is returned from Poll.
func (s *ChanSource[T]) OnError(fn func(v T, err error)) *ChanSource[T] {
	s.onError = fn
	return s
}

func (s *ChanSource[T]) Name() string { return s.name }

func (s *ChanSource[T]) Poll(context.Context) error {
	var first error
	s.queue.Drain(s.limit, func(v T) {
		err := s.handler(v)
		if err == nil {
			return
		}
		if s.onError != nil {
			s.onError(v, err)
			return
		}
		if first == nil {
			first = err
		}
	})
	return first
}

// Done reports a closed and empty queue.
func (s *ChanSource[T]) Done() bool {
	return s.queue.Closed() && s.queue.Len() == 0
}

// TimerSource calls fn every Every on the loop clock. A tick that falls behind
// fires once and reschedules from now.
type TimerSource struct {
	name  string
	clock core.Clock
	every time.Duration
	fn    func(now time.Time) error
	next  time.Time
	fired uint64
}

func NewTimerSource(name string, clock core.Clock, every time.Duration, fn func(now time.Time) error) *TimerSource {
	if clock == nil {
		clock = core.WallClock{}
	}
	return &TimerSource{name: name, clock: clock, every: every, fn: fn}
}

func (t *TimerSource) Name() string { return t.name }

func (t *TimerSource) Fired() uint64 { return t.fired }

func (t *TimerSource) Poll(context.Context) error {
	now := t.clock.Now()
	if t.next.IsZero() {
		t.next = now.Add(t.every)
		return nil
	}
	if now.Before(t.next) {
		return nil
	}
	t.next = now.Add(t.every)
	t.fired++
	return t.fn(now)
}
