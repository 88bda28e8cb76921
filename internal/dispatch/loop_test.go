package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/bus"
	"tradecore/internal/core"
	"tradecore/pkg/exception"
)

var testStart = time.UnixMilli(1_700_000_000_000)

type countSource struct {
	name   string
	polls  int
	limit  int
	closed bool
}

func (s *countSource) Name() string { return s.name }

func (s *countSource) Poll(context.Context) error {
	s.polls++
	return nil
}

func (s *countSource) Done() bool { return s.limit > 0 && s.polls >= s.limit }

func (s *countSource) Close() error {
	s.closed = true
	return nil
}

type panicSource struct{ polls int }

func (s *panicSource) Name() string { return "panic" }

func (s *panicSource) Poll(context.Context) error {
	s.polls++
	if s.polls%2 == 1 {
		panic("boom")
	}
	return nil
}

func simLoop(end time.Duration) (*Loop, *core.SimClock) {
	clock := core.NewSimClock(testStart)
	return NewLoop(core.Context{Clock: clock}, Option{Sleep: time.Millisecond, EndTime: testStart.Add(end)}), clock
}

func TestLoopEndTimeAndTimer(t *testing.T) {
	loop, clock := simLoop(10 * time.Millisecond)
	forever := &countSource{name: "forever"}
	timer := NewTimerSource("timer", clock, 3*time.Millisecond, func(time.Time) error { return nil })
	loop.Add(forever)
	loop.Add(timer)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, uint64(10), loop.Ticks())
	assert.Equal(t, 10, forever.polls)
	assert.Equal(t, uint64(3), timer.Fired())
	assert.True(t, forever.closed)
	assert.Equal(t, testStart.Add(10*time.Millisecond), clock.Now())
}

func TestLoopRecoversPanics(t *testing.T) {
	loop, _ := simLoop(4 * time.Millisecond)
	bad := &panicSource{}
	good := &countSource{name: "good"}
	loop.Add(bad)
	loop.Add(good)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 4, bad.polls)
	assert.Equal(t, 4, good.polls)
	assert.Equal(t, uint64(2), loop.Errors("panic"))
	assert.Zero(t, loop.Errors("good"))
}

func TestLoopRemovesDoneSources(t *testing.T) {
	loop, _ := simLoop(0)
	loop.opt.EndTime = time.Time{}
	short := &countSource{name: "short", limit: 2}
	long := &countSource{name: "long", limit: 5}
	loop.Add(short)
	loop.Add(long)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 2, short.polls)
	assert.Equal(t, 5, long.polls)
	assert.True(t, short.closed)
	assert.True(t, long.closed)
	assert.Zero(t, loop.Len())
}

func TestLoopStop(t *testing.T) {
	loop, _ := simLoop(time.Hour)
	var n int
	loop.Add(PollFunc(func(context.Context) error {
		n++
		if n == 3 {
			loop.Stop()
		}
		return nil
	}))

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 3, n)
}

func TestLoopContextCancelAndJoin(t *testing.T) {
	loop := NewLoop(core.Context{}, Option{Sleep: time.Millisecond, JoinTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	var helperDone atomic.Bool
	loop.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		helperDone.Store(true)
	})
	var polls atomic.Int64
	loop.Add(PollFunc(func(context.Context) error {
		if polls.Add(1) == 5 {
			cancel()
		}
		return nil
	}))

	require.NoError(t, loop.Run(ctx))
	assert.True(t, helperDone.Load())
	assert.GreaterOrEqual(t, polls.Load(), int64(5))

	assert.Error(t, loop.Run(context.Background()))
}

func TestLoopStopCancelsHelpers(t *testing.T) {
	loop := NewLoop(core.Context{}, Option{Sleep: -1, JoinTimeout: time.Second})

	var helperDone atomic.Bool
	loop.Go(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		helperDone.Store(true)
	})
	loop.Add(PollFunc(func(context.Context) error {
		loop.Stop()
		return nil
	}))

	require.NoError(t, loop.Run(context.Background()))
	assert.True(t, helperDone.Load())
}

func TestLoopJoinTimeout(t *testing.T) {
	loop := NewLoop(core.Context{}, Option{JoinTimeout: 10 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	loop.Go(context.Background(), func(context.Context) { <-release })

	err := loop.join()
	assert.ErrorIs(t, err, exception.ErrJoinTimeout)
}

func TestChanSource(t *testing.T) {
	loop, _ := simLoop(time.Hour)
	q := bus.NewQueue[int](16)
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.TryPublish(i))
	}
	q.Close()

	var got []int
	src := NewChanSource("ints", q, 2, func(v int) error {
		got = append(got, v)
		if v == 3 {
			return exception.ErrInvalidArgument
		}
		return nil
	})
	loop.Add(src)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	assert.True(t, src.Done())
	assert.Equal(t, uint64(1), loop.Errors("ints"))
	assert.Equal(t, uint64(3), loop.Ticks())
}

func TestChanSourceOnError(t *testing.T) {
	q := bus.NewQueue[int](4)
	require.NoError(t, q.TryPublish(7))

	var failed []int
	src := NewChanSource("ints", q, 0, func(int) error { return exception.ErrInternal }).
		OnError(func(v int, err error) { failed = append(failed, v) })

	assert.NoError(t, src.Poll(context.Background()))
	assert.Equal(t, []int{7}, failed)
	assert.False(t, src.Done())
}

func TestLoopDuplicateNames(t *testing.T) {
	loop, _ := simLoop(time.Millisecond)
	a := &countSource{name: "feed"}
	b := &countSource{name: "feed"}
	loop.Add(a)
	loop.Add(b)
	require.NoError(t, loop.Run(context.Background()))

	loop.mu.Lock()
	defer loop.mu.Unlock()
	require.Len(t, loop.retired, 2)
	assert.Equal(t, "feed", loop.retired[0].name)
	assert.Equal(t, "feed#1", loop.retired[1].name)
}
