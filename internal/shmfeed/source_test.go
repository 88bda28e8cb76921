package shmfeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/codec"
	"tradecore/internal/core"
	"tradecore/internal/ring"
	"tradecore/internal/schema"
)

type collector struct {
	mu   sync.Mutex
	bbos []schema.BBO
}

func (c *collector) OnBBO(bbo schema.BBO) {
	c.mu.Lock()
	c.bbos = append(c.bbos, bbo)
	c.mu.Unlock()
}

func (c *collector) snapshot() []schema.BBO {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.BBO(nil), c.bbos...)
}

func TestSourceDeliversNewerRecords(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	cctx := core.Context{Clock: core.NewSimClock(now)}
	opt := ring.Option{Dir: t.TempDir(), Name: "bbo", Capacity: 64 * codec.BBORecordSize}

	owner, err := ring.Create(cctx, opt)
	require.NoError(t, err)
	defer owner.Close()
	pub := NewPublisher(cctx, owner)

	sink := &collector{}
	src := NewSource(cctx, SourceOption{Ring: opt, MaxAge: time.Second}, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, src.Start(ctx))
	defer src.Close()

	recv := now.UnixNano()
	updates := []schema.BBO{
		{Symbol: "BTCUSDT", Sequence: 1, BidPrice: 100, AskPrice: 101, TsRecv: recv},
		// same receive time
		{Symbol: "BTCUSDT", Sequence: 2, BidPrice: 100, AskPrice: 101, TsRecv: recv},
		// older than MaxAge
		{Symbol: "ETHUSDT", Sequence: 1, BidPrice: 10, AskPrice: 11, TsRecv: recv - int64(time.Hour)},
		{Symbol: "BTCUSDT", Sequence: 3, BidPrice: 101, AskPrice: 102, TsRecv: recv + int64(time.Millisecond)},
	}
	for _, u := range updates {
		_, err := pub.Publish(u)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		_ = src.Poll(ctx)
		return len(sink.snapshot()) == 2
	}, 2*time.Second, time.Millisecond)

	got := sink.snapshot()
	assert.Equal(t, uint64(1), got[0].Sequence)
	assert.Equal(t, uint64(3), got[1].Sequence)
	assert.Equal(t, 101.0, got[1].BidPrice)
	assert.Equal(t, uint64(2), src.Stale())
	assert.False(t, src.Done())
}

func TestSourceMissingSegmentEndsOnlyItself(t *testing.T) {
	src := NewSource(core.Context{}, SourceOption{Ring: ring.Option{Dir: t.TempDir(), Name: "absent"}}, &collector{})
	require.NoError(t, src.Start(context.Background()))
	assert.True(t, src.Done())
	assert.Error(t, src.Err())
	assert.NoError(t, src.Poll(context.Background()))
	assert.NoError(t, src.Close())
}
