package store

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/yanun0323/errors"

	"tradecore/internal/bus"
	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
)

const (
	defaultBBOQueueSize = 4096
	defaultBBOTTL       = 30 * time.Minute
)

// BBOPublisherOption tunes the redis BBO publisher.
type BBOPublisherOption struct {
	Venue     string
	QueueSize int
	// TTL expires a symbol hash once its feed goes quiet.
	TTL     time.Duration
	Metrics *obs.Metrics
}

// BBOPublisher writes the latest top of book of each symbol into a redis hash
// and announces it on a channel. OnBBOUpdate never blocks the dispatcher.
type BBOPublisher struct {
	ctx    core.Context
	opt    BBOPublisherOption
	client redis.UniversalClient
	queue  *bus.Queue[schema.BBO]

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewBBOPublisher(ctx core.Context, client redis.UniversalClient, opt BBOPublisherOption) *BBOPublisher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = defaultBBOQueueSize
	}
	if opt.TTL <= 0 {
		opt.TTL = defaultBBOTTL
	}
	return &BBOPublisher{
		ctx:    core.Resolve(ctx).Named("redis.bbo"),
		opt:    opt,
		client: client,
		queue:  bus.NewQueue[schema.BBO](opt.QueueSize),
	}
}

func (p *BBOPublisher) OnBBOUpdate(bbo schema.BBO) {
	if err := p.queue.TryPublish(bbo); err != nil {
		p.opt.Metrics.IncQueueDrop("redis.bbo")
	}
}

// Run writes queued updates until ctx is done or Close is called.
func (p *BBOPublisher) Run(ctx context.Context) {
	p.queue.Run(ctx, func(bbo schema.BBO) {
		if err := p.write(ctx, bbo); err != nil {
			p.failed.Add(1)
			p.ctx.Log.Warnf("write %s, err: %+v", bbo.Symbol, err)
			return
		}
		p.written.Add(1)
	})
}

func (p *BBOPublisher) write(ctx context.Context, bbo schema.BBO) error {
	key := BBOKey(p.opt.Venue, bbo.Symbol)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, BBOFields(bbo))
		pipe.Expire(ctx, key, p.opt.TTL)
		pipe.Publish(ctx, BBOChannel(p.opt.Venue), bbo.Symbol)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis pipeline").With("key", key)
	}
	return nil
}

func (p *BBOPublisher) Written() uint64 { return p.written.Load() }
func (p *BBOPublisher) Failed() uint64  { return p.failed.Load() }
func (p *BBOPublisher) Dropped() uint64 { return p.queue.Dropped() }

// Close stops accepting updates; Run returns once the queue is drained.
func (p *BBOPublisher) Close() error {
	p.queue.Close()
	return nil
}

// BBOKey is the hash holding the latest quote of symbol.
func BBOKey(venue, symbol string) string {
	return "bbo:" + venue + ":" + symbol
}

// BBOChannel announces the symbol whose hash changed.
func BBOChannel(venue string) string {
	return "bbo:" + venue
}

// BBOFields renders bbo as hash fields.
func BBOFields(bbo schema.BBO) map[string]any {
	return map[string]any{
		"seq":     strconv.FormatUint(bbo.Sequence, 10),
		"bid":     strconv.FormatFloat(bbo.BidPrice, 'f', -1, 64),
		"bid_qty": strconv.FormatFloat(bbo.BidQty, 'f', -1, 64),
		"ask":     strconv.FormatFloat(bbo.AskPrice, 'f', -1, 64),
		"ask_qty": strconv.FormatFloat(bbo.AskQty, 'f', -1, 64),
		"ts":      strconv.FormatInt(bbo.TsEvent, 10),
		"recv":    strconv.FormatInt(bbo.TsRecv, 10),
	}
}

// ParseBBOFields reads a hash written by BBOPublisher.
func ParseBBOFields(symbol string, fields map[string]string) (schema.BBO, error) {
	bbo := schema.BBO{Symbol: symbol}
	var err error
	parseF := func(k string) float64 {
		if err != nil {
			return 0
		}
		var v float64
		v, err = strconv.ParseFloat(fields[k], 64)
		if err != nil {
			err = errors.Wrapf(err, "field %s", k)
		}
		return v
	}
	parseI := func(k string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(fields[k], 10, 64)
		if err != nil {
			err = errors.Wrapf(err, "field %s", k)
		}
		return v
	}
	bbo.Sequence = uint64(parseI("seq"))
	bbo.BidPrice = parseF("bid")
	bbo.BidQty = parseF("bid_qty")
	bbo.AskPrice = parseF("ask")
	bbo.AskQty = parseF("ask_qty")
	bbo.TsEvent = parseI("ts")
	bbo.TsRecv = parseI("recv")
	return bbo, err
}

// LoadBBO reads the latest quote of symbol back from redis.
func LoadBBO(ctx context.Context, client redis.UniversalClient, venue, symbol string) (schema.BBO, bool, error) {
	fields, err := client.HGetAll(ctx, BBOKey(venue, symbol)).Result()
	if err != nil {
		return schema.BBO{}, false, errors.Wrap(err, "hgetall").With("symbol", symbol)
	}
	if len(fields) == 0 {
		return schema.BBO{}, false, nil
	}
	bbo, err := ParseBBOFields(symbol, fields)
	if err != nil {
		return schema.BBO{}, false, err
	}
	return bbo, true, nil
}
