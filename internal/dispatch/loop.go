/*
Dispatch runs every event source of a process on one goroutine.

# Module
  - loop: poll each source per tick, recover panics, drop finished sources, bounded sleep
  - sources: bus queue drain, periodic timers
  - shutdown: ctx cancel, Stop, EndTime or no sources left; sources are closed and helpers joined

# Ownership
  - books, OMS and strategies are touched only from Run; producers hand values over bus queues
*/
package dispatch

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

const (
	DefaultSleep       = time.Millisecond
	DefaultJoinTimeout = 5 * time.Second
)

// Pollable is a source the loop drives once per tick. Poll must not block.
type Pollable interface {
	Poll(ctx context.Context) error
}

// Finite sources report Done once they will produce nothing more.
type Finite interface {
	Done() bool
}

// Named sources are logged and counted under their name.
type Named interface {
	Name() string
}

// Starter sources are started by Run before the first tick.
type Starter interface {
	Start(ctx context.Context) error
}

// PollFunc adapts a function to Pollable.
type PollFunc func(ctx context.Context) error

func (f PollFunc) Poll(ctx context.Context) error { return f(ctx) }

// Option configures a Loop.
type Option struct {
	// Sleep is the pause between ticks. Negative spins.
	Sleep time.Duration
	// EndTime stops the loop once the clock reaches it. Zero runs forever.
	EndTime     time.Time
	JoinTimeout time.Duration
	Metrics     *obs.Metrics
}

func (o Option) withDefaults() Option {
	if o.Sleep == 0 {
		o.Sleep = DefaultSleep
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	return o
}

type entry struct {
	name   string
	src    Pollable
	errors uint64
}

// Loop is the single threaded event loop.
type Loop struct {
	ctx core.Context
	opt Option

	mu      sync.Mutex
	pending []*entry
	sources []*entry
	names   map[string]uint64
	retired []*entry

	running atomic.Bool
	stopped atomic.Bool
	ticks   atomic.Uint64
	wg      sync.WaitGroup

	halt     chan struct{}
	haltOnce sync.Once
}

func NewLoop(ctx core.Context, opt Option) *Loop {
	return &Loop{
		ctx:   core.Resolve(ctx).Named("dispatch"),
		opt:   opt.withDefaults(),
		names: make(map[string]uint64),
		halt:  make(chan struct{}),
	}
}

// Add registers a source. Sources added while running join on the next tick.
func (l *Loop) Add(src Pollable) {
	if src == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	name := nameOf(src)
	if n := l.names[name]; n > 0 {
		name = fmt.Sprintf("%s#%d", name, n)
	}
	l.names[nameOf(src)]++
	l.pending = append(l.pending, &entry{name: name, src: src})
}

// Go runs fn on a helper goroutine. Its ctx is cancelled when Run returns and the
// helper is joined. fn must return once ctx is done.
func (l *Loop) Go(ctx context.Context, fn func(ctx context.Context)) {
	hctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-l.halt:
			cancel()
		case <-hctx.Done():
		}
	}()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		fn(hctx)
	}()
}

// Stop ends Run after the current tick.
func (l *Loop) Stop() { l.stopped.Store(true) }

func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Len returns the number of sources still polled.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources) + len(l.pending)
}

// Errors returns how many polls of the named source failed.
func (l *Loop) Errors(name string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, group := range [][]*entry{l.sources, l.retired} {
		for _, e := range group {
			if e.name == name {
				return e.errors
			}
		}
	}
	return 0
}

// Run drives the sources until ctx is done, Stop is called, EndTime passes
// or every source is done. It closes all sources and joins helpers before returning.
func (l *Loop) Run(ctx context.Context) error {
	if l.running.Swap(true) {
		return errors.Wrap(exception.ErrInvalidArgument, "loop already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		l.shutdown()
	}()

	l.ctx.Log.Infof("loop started")
	for {
		if err := l.admit(runCtx); err != nil {
			return err
		}
		if l.finished(runCtx) {
			l.ctx.Log.Infof("loop stopped after %d ticks", l.ticks.Load())
			return nil
		}

		start := time.Now()
		l.tick(runCtx)
		l.ticks.Add(1)
		l.opt.Metrics.ObserveTick(time.Since(start))

		if err := l.sleep(runCtx); err != nil {
			return nil
		}
	}
}

// admit moves sources added since the last tick into the poll set, starting them first.
func (l *Loop) admit(ctx context.Context) error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, e := range pending {
		if s, ok := e.src.(Starter); ok {
			if err := s.Start(ctx); err != nil {
				closeSource(l.ctx, e)
				return errors.Wrapf(err, "start %s", e.name)
			}
		}
	}

	l.mu.Lock()
	l.sources = append(l.sources, pending...)
	l.mu.Unlock()
	return nil
}

func (l *Loop) finished(ctx context.Context) bool {
	if ctx.Err() != nil || l.stopped.Load() {
		return true
	}
	if !l.opt.EndTime.IsZero() && !l.ctx.Clock.Now().Before(l.opt.EndTime) {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources) == 0 && len(l.pending) == 0
}

func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	sources := append([]*entry(nil), l.sources...)
	l.mu.Unlock()

	var done []*entry
	for _, e := range sources {
		if err := poll(ctx, e.src); err != nil {
			l.mu.Lock()
			e.errors++
			l.mu.Unlock()
			l.opt.Metrics.IncDispatchError(e.name)
			l.ctx.Log.Errorf("poll %s, err: %+v", e.name, err)
		}
		if f, ok := e.src.(Finite); ok && f.Done() {
			done = append(done, e)
		}
	}

	for _, e := range done {
		l.ctx.Log.Infof("source %s done", e.name)
		closeSource(l.ctx, e)
		l.retire(e)
	}
}

// sleep pauses between ticks without passing EndTime.
func (l *Loop) sleep(ctx context.Context) error {
	d := l.opt.Sleep
	if d < 0 {
		return ctx.Err()
	}
	if !l.opt.EndTime.IsZero() {
		if left := l.opt.EndTime.Sub(l.ctx.Clock.Now()); left < d {
			d = left
		}
	}
	if d <= 0 {
		return ctx.Err()
	}
	return l.ctx.Clock.Sleep(ctx, d)
}

func (l *Loop) retire(e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.sources {
		if s == e {
			l.sources = append(l.sources[:i], l.sources[i+1:]...)
			break
		}
	}
	l.retired = append(l.retired, e)
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	sources := append(l.sources, l.pending...)
	l.sources, l.pending = nil, nil
	l.retired = append(l.retired, sources...)
	l.mu.Unlock()

	for _, e := range sources {
		closeSource(l.ctx, e)
	}

	l.haltOnce.Do(func() { close(l.halt) })
	if err := l.join(); err != nil {
		l.ctx.Log.Warnf("shutdown, err: %+v", err)
	}
}

// join waits for helper goroutines up to JoinTimeout.
func (l *Loop) join() error {
	joined := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
		return nil
	case <-time.After(l.opt.JoinTimeout):
		return errors.Wrapf(exception.ErrJoinTimeout, "helpers still running after %s", l.opt.JoinTimeout)
	}
}

// poll runs one Poll and converts a panic into an error.
func poll(ctx context.Context, src Pollable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(exception.ErrPanic, "%v", r).With("stack", string(debug.Stack()))
		}
	}()
	return src.Poll(ctx)
}

func closeSource(ctx core.Context, e *entry) {
	c, ok := e.src.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		ctx.Log.Warnf("close %s, err: %+v", e.name, err)
	}
}

func nameOf(src Pollable) string {
	if n, ok := src.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", src)
}
