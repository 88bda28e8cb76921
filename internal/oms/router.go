package oms

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/errors"

	"tradecore/internal/bus"
	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
)

// Router forwards submissions to a venue without blocking the caller.
type Router interface {
	Route(sub schema.Submission) error
}

// Venue executes a submission. It may block on the network.
type Venue interface {
	Route(sub schema.Submission) error
}

// RouterFunc adapts a function to Router.
type RouterFunc func(sub schema.Submission) error

func (f RouterFunc) Route(sub schema.Submission) error { return f(sub) }

const (
	DefaultRouterWorkers   = 1
	DefaultRouterQueueSize = 256
)

// AsyncRouterOption tunes an AsyncRouter.
type AsyncRouterOption struct {
	// Workers above 1 lose submission order between workers.
	Workers   int
	QueueSize int
	// OnError is called from a worker goroutine when the venue fails a submission.
	OnError func(sub schema.Submission, err error)
	Metrics *obs.Metrics
}

// AsyncRouter queues submissions and hands them to a Venue from worker goroutines.
type AsyncRouter struct {
	ctx   core.Context
	opt   AsyncRouterOption
	venue Venue
	queue *bus.Queue[schema.Submission]

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
	failed  atomic.Uint64
}

func NewAsyncRouter(ctx core.Context, venue Venue, opt AsyncRouterOption) *AsyncRouter {
	if opt.Workers <= 0 {
		opt.Workers = DefaultRouterWorkers
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = DefaultRouterQueueSize
	}
	return &AsyncRouter{
		ctx:   core.Resolve(ctx).Named("router"),
		opt:   opt,
		venue: venue,
		queue: bus.NewQueue[schema.Submission](opt.QueueSize),
		done:  make(chan struct{}),
	}
}

// Route queues sub. A full queue is reported to the caller.
func (r *AsyncRouter) Route(sub schema.Submission) error {
	if err := r.queue.TryPublish(sub); err != nil {
		r.opt.Metrics.IncQueueDrop("router")
		return errors.Wrapf(err, "route %s", sub.Kind)
	}
	return nil
}

// Run hands queued submissions to the venue until ctx is done or Close is
// called, then routes what is still queued and returns.
func (r *AsyncRouter) Run(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer close(r.done)
	for range r.opt.Workers {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.queue.Run(context.Background(), r.execute)
		}()
	}

	stopped := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(stopped)
	}()
	select {
	case <-ctx.Done():
		r.queue.Close()
		<-stopped
	case <-stopped:
	}
}

func (r *AsyncRouter) execute(sub schema.Submission) {
	if err := r.venue.Route(sub); err != nil {
		r.failed.Add(1)
		r.ctx.Log.Errorf("route %s with %d orders, err: %+v", sub.Kind, len(sub.Orders), err)
		if r.opt.OnError != nil {
			r.opt.OnError(sub, err)
		}
	}
}

func (r *AsyncRouter) Pending() int    { return r.queue.Len() }
func (r *AsyncRouter) Failed() uint64  { return r.failed.Load() }
func (r *AsyncRouter) Dropped() uint64 { return r.queue.Dropped() }

// Close stops accepting submissions. Once Run has started it waits until the
// queued submissions have been routed.
func (r *AsyncRouter) Close() error {
	r.queue.Close()
	if r.running.Load() {
		<-r.done
	}
	return nil
}
