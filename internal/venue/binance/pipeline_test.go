package binance_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/book"
	"tradecore/internal/bus"
	"tradecore/internal/core"
	"tradecore/internal/dispatch"
	"tradecore/internal/schema"
	"tradecore/internal/venue/binance"
	"tradecore/pkg/websocket"
)

type pipeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
}

func (c *pipeConn) Read(ctx context.Context) ([]byte, websocket.MessageType, error) {
	select {
	case p := <-c.inbound:
		return p, websocket.MessageText, nil
	case <-c.closed:
		return nil, 0, io.EOF
	}
}

func (c *pipeConn) Write(context.Context, websocket.MessageType, []byte) error { return nil }

func (c *pipeConn) Close(websocket.CloseCode, string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type pipeDialer struct {
	conn  *pipeConn
	dials int
	mu    sync.Mutex
}

func (d *pipeDialer) Dial(context.Context) (websocket.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return d.conn, nil
}

type snapshotRequests struct{ n int }

func (r *snapshotRequests) RequestSnapshot(string) { r.n++ }

func depthFrame(id uint64) []byte {
	return []byte(fmt.Sprintf(
		`{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","E":1700000000000,"T":1700000000000,"s":"BTCUSDT","U":%d,"u":%d,"pu":%d,"b":[["100.%d","1"]],"a":[["101.%d","2"]]}}`,
		id, id, id-1, id, id,
	))
}

func TestSupervisorToBookPipeline(t *testing.T) {
	ctx := core.Context{}
	events := bus.NewQueue[schema.Event](64)
	requests := &snapshotRequests{}
	books := book.NewRegistry(ctx, requests, book.ReconstructorOption{}, book.NewBBOBook(ctx, book.BBOOption{}))
	rc := books.Add("BTCUSDT")
	require.NoError(t, books.OnSnapshot(schema.BookSnapshot{
		Symbol:       "BTCUSDT",
		Bids:         []schema.BookLevel{{Price: 99, Size: 1}},
		Asks:         []schema.BookLevel{{Price: 102, Size: 1}},
		LastUpdateID: 100,
	}))
	require.True(t, rc.Synced())

	dialer := &pipeDialer{conn: &pipeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}}
	sup, err := websocket.NewSupervisor(ctx, websocket.Config{
		Name:          "depth",
		Dialer:        dialer,
		Encoder:       binance.Codec{},
		Handler:       binance.NewHandler(ctx, nil, events),
		Topics:        binance.Streams([]string{"BTCUSDT"}, binance.StreamDepth),
		StatsInterval: -1,
	})
	require.NoError(t, err)

	loop := dispatch.NewLoop(ctx, dispatch.Option{Sleep: time.Millisecond, EndTime: time.Now().Add(2 * time.Second)})
	loop.Go(context.Background(), func(ctx context.Context) { _ = sup.Run(ctx) })
	loop.Add(dispatch.NewChanSource("events", events, 0, books.Handle))
	loop.Add(dispatch.PollFunc(func(context.Context) error {
		if books.Updates() >= 5 {
			loop.Stop()
		}
		return nil
	}))

	for id := uint64(101); id <= 105; id++ {
		dialer.conn.inbound <- depthFrame(id)
	}
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, uint64(5), rc.Updates())
	assert.Equal(t, uint64(0), rc.Resyncs())
	assert.Equal(t, uint64(105), rc.UpdateID())
	assert.True(t, rc.Synced())
	assert.Zero(t, requests.n)
	assert.Equal(t, uint64(5), sup.Stats().Messages)
}
