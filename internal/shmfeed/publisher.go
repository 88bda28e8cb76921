package shmfeed

import (
	"sync"

	"tradecore/internal/codec"
	"tradecore/internal/core"
	"tradecore/internal/ring"
	"tradecore/internal/schema"
)

// Publisher packs top of book updates into ring records. It is the owner side of the ring.
type Publisher struct {
	ctx core.Context
	ch  *ring.Channel

	mu  sync.Mutex
	buf []byte
}

// NewPublisher writes into ch. The caller keeps ownership of ch.
func NewPublisher(ctx core.Context, ch *ring.Channel) *Publisher {
	return &Publisher{
		ctx: core.Resolve(ctx).Named("shmfeed.pub"),
		ch:  ch,
		buf: make([]byte, codec.BBORecordSize),
	}
}

// Publish writes one record and reports whether unread data was overwritten.
func (p *Publisher) Publish(bbo schema.BBO) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = codec.EncodeBBO(p.buf, bbo)
	return p.ch.Write(p.buf)
}

// OnBBO publishes and logs failures, so the publisher can sit behind a feed handler.
func (p *Publisher) OnBBO(bbo schema.BBO) {
	if _, err := p.Publish(bbo); err != nil {
		p.ctx.Log.Errorf("publish %s, err: %+v", bbo.Symbol, err)
	}
}
