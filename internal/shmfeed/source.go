package shmfeed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/codec"
	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/ring"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

const (
	defaultQueueSize = 4096
	defaultMinSleep  = time.Microsecond
	defaultMaxSleep  = time.Millisecond
	defaultMaxAge    = 5 * time.Second
)

// Sink receives decoded updates on the dispatcher goroutine.
type Sink interface {
	OnBBO(bbo schema.BBO)
}

// SourceOption configures a ring reader.
type SourceOption struct {
	Ring ring.Option
	// MaxAge drops records whose receive time is older than now - MaxAge. Negative disables.
	MaxAge    time.Duration
	QueueSize int
	MinSleep  time.Duration
	MaxSleep  time.Duration
	Metrics   *obs.Metrics
}

func (o SourceOption) withDefaults() SourceOption {
	if o.MaxAge == 0 {
		o.MaxAge = defaultMaxAge
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.MinSleep <= 0 {
		o.MinSleep = defaultMinSleep
	}
	if o.MaxSleep < o.MinSleep {
		o.MaxSleep = defaultMaxSleep
		if o.MaxSleep < o.MinSleep {
			o.MaxSleep = o.MinSleep
		}
	}
	return o
}

// Source attaches to a ring owned by another process. A background goroutine
// drains the ring into a bounded queue and Poll hands the updates to the sink.
type Source struct {
	ctx  core.Context
	opt  SourceOption
	sink Sink

	queue chan schema.BBO
	ch    *ring.Channel

	// reader goroutine only
	lastRecv map[string]int64

	dropped atomic.Uint64
	stale   atomic.Uint64
	done    atomic.Bool
	err     atomic.Value

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSource builds a source. Start must be called before the first Poll.
func NewSource(ctx core.Context, opt SourceOption, sink Sink) *Source {
	opt = opt.withDefaults()
	return &Source{
		ctx:      core.Resolve(ctx).Named("shmfeed." + opt.Ring.Name),
		opt:      opt,
		sink:     sink,
		queue:    make(chan schema.BBO, opt.QueueSize),
		lastRecv: make(map[string]int64),
	}
}

// Name identifies the source in dispatcher logs.
func (s *Source) Name() string { return "shmfeed." + s.opt.Ring.Name }

// Start attaches to the ring and spawns the reader. A missing segment is logged
// and ends this source only.
func (s *Source) Start(ctx context.Context) error {
	ch, err := ring.Open(s.ctx, s.opt.Ring)
	if err != nil {
		s.err.Store(err)
		s.done.Store(true)
		if errors.Is(err, exception.ErrSegmentNotFound) {
			s.ctx.Log.Errorf("source ends, err: %+v", err)
			return nil
		}
		return err
	}
	s.ch = ch

	readCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(readCtx)
	}()
	return nil
}

func (s *Source) readLoop(ctx context.Context) {
	var (
		buf   = make([]byte, codec.BBORecordSize)
		sleep = s.opt.MinSleep
		timer = time.NewTimer(sleep)
	)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		ok, err := s.ch.ReadInto(buf)
		if err != nil {
			s.err.Store(err)
			s.ctx.Log.Errorf("read ring, err: %+v", err)
			s.done.Store(true)
			return
		}
		if ok {
			sleep = s.opt.MinSleep
			if bbo, valid := codec.DecodeBBO(buf); valid {
				s.accept(bbo)
			}
			continue
		}

		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if sleep *= 2; sleep > s.opt.MaxSleep {
			sleep = s.opt.MaxSleep
		}
	}
}

func (s *Source) accept(bbo schema.BBO) {
	if last, ok := s.lastRecv[bbo.Symbol]; ok && bbo.TsRecv <= last {
		s.stale.Add(1)
		return
	}
	if s.opt.MaxAge > 0 {
		if age := s.ctx.Clock.Now().UnixNano() - bbo.TsRecv; age > int64(s.opt.MaxAge) {
			s.stale.Add(1)
			return
		}
	}
	s.lastRecv[bbo.Symbol] = bbo.TsRecv

	for {
		select {
		case s.queue <- bbo:
			return
		default:
		}
		// newest wins
		select {
		case <-s.queue:
			s.dropped.Add(1)
			s.opt.Metrics.IncQueueDrop(s.Name())
		default:
		}
	}
}

// Poll hands every queued update to the sink.
func (s *Source) Poll(ctx context.Context) error {
	for i := len(s.queue); i > 0; i-- {
		select {
		case bbo := <-s.queue:
			s.sink.OnBBO(bbo)
		default:
			return nil
		}
	}
	return nil
}

// Done reports that the reader stopped and the queue is empty.
func (s *Source) Done() bool {
	return s.done.Load() && len(s.queue) == 0
}

// Err returns the error that ended the source, if any.
func (s *Source) Err() error {
	if v := s.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Dropped counts updates lost to a full queue; Stale counts filtered records.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }
func (s *Source) Stale() uint64   { return s.stale.Load() }

// Close stops the reader and detaches from the ring.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.done.Store(true)
		if s.ch != nil {
			err = s.ch.Close()
		}
	})
	return err
}
