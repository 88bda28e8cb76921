package oms

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/core"
	"tradecore/internal/dispatch"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

type captureRouter struct {
	subs []schema.Submission
	err  error
}

func (r *captureRouter) Route(sub schema.Submission) error {
	if r.err != nil {
		return r.err
	}
	r.subs = append(r.subs, sub)
	return nil
}

type recordingListener struct {
	NopListener
	fills   []schema.Fill
	rejects []*exception.OrderRejectError
	updates []schema.Order
}

func (l *recordingListener) OnOrderUpdate(o schema.Order) { l.updates = append(l.updates, o) }
func (l *recordingListener) OnFill(f schema.Fill, _ schema.Position) {
	l.fills = append(l.fills, f)
}
func (l *recordingListener) OnReject(err *exception.OrderRejectError) {
	l.rejects = append(l.rejects, err)
}

type staticMarks map[string]float64

func (m staticMarks) Mark(symbol string) (float64, bool) {
	px, ok := m[symbol]
	return px, ok
}

type journalRecorder struct {
	fills []schema.Fill
}

func (j *journalRecorder) RecordFill(f schema.Fill) error {
	j.fills = append(j.fills, f)
	return nil
}

var testStart = time.UnixMilli(1_700_000_000_000)

func newTestManager(t *testing.T, cfg Config) (*Manager, *captureRouter, *core.SimClock) {
	t.Helper()
	clock := core.NewSimClock(testStart)
	router := &captureRouter{}
	cfg.Venue = "sim"
	if cfg.IDs == nil {
		cfg.IDs = NewSequentialGenerator("c")
	}
	m := NewManager(core.Context{Clock: clock}, cfg, router)
	m.OnAccountSnapshot(schema.AccountSnapshot{Balances: []schema.Balance{{Asset: "USDT", Wallet: 10_000, Available: 10_000}}})
	return m, router, clock
}

func limitBuy(qty, px float64) schema.OrderRequest {
	return schema.OrderRequest{Symbol: "BTCUSDT", Side: schema.SideBuy, Kind: schema.OrderKindLimitPostOnly, Qty: qty, Price: px}
}

func TestManagerOrderLifecycle(t *testing.T) {
	journal := &journalRecorder{}
	m, router, _ := newTestManager(t, Config{Journal: journal})
	lst := &recordingListener{}
	m.AddListener(lst)

	orders, err := m.Submit([]schema.OrderRequest{limitBuy(10, 100)})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	id := orders[0].ClientOrderID
	assert.Equal(t, "c1", id)
	assert.Equal(t, schema.OrderStatusPendingNew, orders[0].Status)
	require.Len(t, router.subs, 1)
	assert.Equal(t, schema.SubmissionBulk, router.subs[0].Kind)

	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, VenueOrderID: "v1", Status: schema.ResponseResting}))
	o, _ := m.Order(id)
	assert.Equal(t, schema.OrderStatusActive, o.Status)
	assert.Equal(t, "v1", o.VenueOrderID)

	require.NoError(t, m.OnFill(schema.Fill{ClientOrderID: id, VenueOrderID: "v1", VenueFillID: "f1", Symbol: "BTCUSDT", Side: schema.SideBuy, Qty: 4, Price: 100, Ts: 1}))
	o, _ = m.Order(id)
	assert.Equal(t, schema.OrderStatusPartiallyFilled, o.Status)
	assert.Equal(t, 6.0, o.Remaining)
	assert.Equal(t, o.Qty, o.Remaining+o.FilledQty)

	// a fill located by venue id only
	require.NoError(t, m.OnFill(schema.Fill{VenueOrderID: "v1", VenueFillID: "f2", Qty: 6, Price: 100, Ts: 2}))
	o, ok := m.Order(id)
	require.True(t, ok)
	assert.Equal(t, schema.OrderStatusFilled, o.Status)
	assert.Zero(t, o.Remaining)
	assert.Empty(t, m.OpenOrders(""))

	pos := m.Position("BTCUSDT")
	assert.Equal(t, 10.0, pos.Qty)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Len(t, lst.fills, 2)
	assert.Len(t, journal.fills, 2)
	assert.Equal(t, "BTCUSDT", journal.fills[1].Symbol, "fill is completed from the order")
}

func TestManagerFillIdempotence(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	orders, err := m.Submit([]schema.OrderRequest{limitBuy(10, 100)})
	require.NoError(t, err)
	id := orders[0].ClientOrderID
	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, VenueOrderID: "v1", Status: schema.ResponseResting}))

	fill := schema.Fill{ClientOrderID: id, VenueFillID: "f1", Symbol: "BTCUSDT", Side: schema.SideBuy, Qty: 4, Price: 100}
	require.NoError(t, m.OnFill(fill))
	require.NoError(t, m.OnFill(fill))
	require.NoError(t, m.OnFill(fill))

	o, _ := m.Order(id)
	assert.Equal(t, 6.0, o.Remaining)
	assert.Equal(t, 4.0, m.Position("BTCUSDT").Qty)
	assert.Equal(t, uint64(2), m.DuplicateFills())
}

func TestManagerRejectsOverfill(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	orders, err := m.Submit([]schema.OrderRequest{limitBuy(5, 100)})
	require.NoError(t, err)
	id := orders[0].ClientOrderID

	err = m.OnFill(schema.Fill{ClientOrderID: id, VenueFillID: "f1", Symbol: "BTCUSDT", Side: schema.SideBuy, Qty: 6, Price: 100})
	assert.ErrorIs(t, err, exception.ErrOrderInvalidFill)

	o, _ := m.Order(id)
	assert.Equal(t, 5.0, o.Remaining)
	assert.Zero(t, m.Position("BTCUSDT").Qty)

	// the rejected fill id was not consumed
	require.NoError(t, m.OnFill(schema.Fill{ClientOrderID: id, VenueFillID: "f1", Symbol: "BTCUSDT", Side: schema.SideBuy, Qty: 5, Price: 100}))
	assert.Equal(t, 5.0, m.Position("BTCUSDT").Qty)
}

func TestManagerCancelFailureReverts(t *testing.T) {
	m, router, _ := newTestManager(t, Config{})
	orders, err := m.Submit([]schema.OrderRequest{limitBuy(1, 100)})
	require.NoError(t, err)
	id := orders[0].ClientOrderID
	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, VenueOrderID: "v1", Status: schema.ResponseResting}))

	require.NoError(t, m.Cancel([]string{id}))
	o, _ := m.Order(id)
	assert.Equal(t, schema.OrderStatusPendingCancel, o.Status)
	assert.Equal(t, schema.SubmissionCancel, router.subs[len(router.subs)-1].Kind)

	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, Status: schema.ResponseCancelFailed, ErrorMsg: "unknown order"}))
	o, _ = m.Order(id)
	assert.Equal(t, schema.OrderStatusActive, o.Status)

	require.NoError(t, m.Cancel([]string{id}))
	require.NoError(t, m.OnCancelAck(schema.OrderResponse{ClientOrderID: id, Status: schema.ResponseCanceled}))
	o, _ = m.Order(id)
	assert.Equal(t, schema.OrderStatusCanceled, o.Status)
	assert.Empty(t, m.OpenOrders("BTCUSDT"))

	// late events for the closed order are ignored
	assert.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, Status: schema.ResponseResting}))
	o, _ = m.Order(id)
	assert.Equal(t, schema.OrderStatusCanceled, o.Status)

	err = m.Cancel([]string{id, "missing"})
	var batch *exception.PartialBatchFailure
	require.ErrorAs(t, err, &batch)
	assert.Len(t, batch.Failures, 2)
	assert.ErrorIs(t, err, exception.ErrOrderUnknown)
}

func TestManagerCancelBeforeAckKeepsVenueID(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	orders, err := m.Submit([]schema.OrderRequest{limitBuy(1, 100)})
	require.NoError(t, err)
	id := orders[0].ClientOrderID

	require.NoError(t, m.Cancel([]string{id}))
	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, VenueOrderID: "v1", Status: schema.ResponseResting}))
	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, VenueOrderID: "v2", Status: schema.ResponseResting}))

	o, _ := m.Order(id)
	assert.Equal(t, schema.OrderStatusPendingCancel, o.Status)
	assert.Equal(t, "v1", o.VenueOrderID, "a bound venue id never changes")

	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, Status: schema.ResponseCancelFailed}))
	o, _ = m.Order(id)
	assert.Equal(t, schema.OrderStatusActive, o.Status)
}

func TestManagerPartialBatch(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	lst := &recordingListener{}
	m.AddListener(lst)

	orders, err := m.Submit([]schema.OrderRequest{limitBuy(1, 100), limitBuy(1, 99), limitBuy(1, 98)})
	require.NoError(t, err)

	err = m.OnBatch(schema.BatchResponse{Kind: schema.SubmissionBulk, Results: []schema.OrderResponse{
		{ClientOrderID: orders[0].ClientOrderID, VenueOrderID: "v1", Status: schema.ResponseResting},
		{ClientOrderID: orders[1].ClientOrderID, Status: schema.ResponseRejected, ErrorMsg: "would take"},
		{ClientOrderID: orders[2].ClientOrderID, VenueOrderID: "v3", Status: schema.ResponseResting},
	}})

	var batch *exception.PartialBatchFailure
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, 3, batch.Total)
	require.Len(t, batch.Failures, 1)

	var reject *exception.OrderRejectError
	require.ErrorAs(t, batch.Failures[0], &reject)
	assert.Equal(t, orders[1].ClientOrderID, reject.ClientOrderID)
	assert.Equal(t, "would take", reject.Reason)
	assert.ErrorIs(t, err, exception.ErrOrderRejected)

	assert.Len(t, m.OpenOrders("BTCUSDT"), 2)
	o, _ := m.Order(orders[1].ClientOrderID)
	assert.Equal(t, schema.OrderStatusRejected, o.Status)
	require.Len(t, lst.rejects, 1)
	assert.Equal(t, uint64(1), m.Rejects())
}

func TestManagerBatchesSubmissions(t *testing.T) {
	m, router, _ := newTestManager(t, Config{})
	reqs := make([]schema.OrderRequest, 12)
	for i := range reqs {
		reqs[i] = limitBuy(1, 100-float64(i))
	}
	_, err := m.Submit(reqs)
	require.NoError(t, err)

	require.Len(t, router.subs, 3)
	assert.Len(t, router.subs[0].Orders, 5)
	assert.Len(t, router.subs[1].Orders, 5)
	assert.Len(t, router.subs[2].Orders, 2)
	assert.Equal(t, "sim", router.subs[0].Venue)
}

func TestManagerRouteFailureRejectsBatch(t *testing.T) {
	m, router, _ := newTestManager(t, Config{})
	router.err = exception.ErrQueueFull

	orders, err := m.Submit([]schema.OrderRequest{limitBuy(1, 100)})
	assert.ErrorIs(t, err, exception.ErrQueueFull)
	require.Len(t, orders, 1)
	assert.Equal(t, schema.OrderStatusRejected, orders[0].Status)
	assert.Empty(t, m.OpenOrders(""))
}

func TestManagerReadiness(t *testing.T) {
	clock := core.NewSimClock(testStart)
	m := NewManager(core.Context{Clock: clock}, Config{Venue: "sim"}, &captureRouter{})

	assert.False(t, m.Ready())
	_, err := m.Submit([]schema.OrderRequest{limitBuy(1, 100)})
	assert.ErrorIs(t, err, exception.ErrOMSNotReady)

	m.OnAccountSnapshot(schema.AccountSnapshot{})
	assert.True(t, m.Ready())

	clock.Advance(59 * time.Second)
	assert.True(t, m.Ready())
	m.Touch()
	clock.Advance(59 * time.Second)
	assert.True(t, m.Ready())
	clock.Advance(2 * time.Second)
	assert.False(t, m.Ready())
}

func TestManagerValidationAndRisk(t *testing.T) {
	m, router, _ := newTestManager(t, Config{
		Risk:  risk.NewEngine(risk.Config{MaxPosition: 3}),
		Marks: staticMarks{"BTCUSDT": 100},
	})

	_, err := m.Submit([]schema.OrderRequest{{Symbol: "BTCUSDT", Side: schema.SideBuy, Kind: schema.OrderKindLimitGTC, Qty: 1}})
	assert.ErrorIs(t, err, exception.ErrOrderInvalidRequest)

	_, err = m.Submit([]schema.OrderRequest{limitBuy(2, 100), limitBuy(2, 100)})
	assert.ErrorIs(t, err, exception.ErrOrderRiskDenied, "pending quantity of the same call counts")
	assert.Empty(t, router.subs)
	assert.Empty(t, m.OpenOrders(""))
}

func TestManagerModify(t *testing.T) {
	m, router, _ := newTestManager(t, Config{})
	orders, err := m.Submit([]schema.OrderRequest{limitBuy(2, 100)})
	require.NoError(t, err)
	id := orders[0].ClientOrderID
	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, VenueOrderID: "v1", Status: schema.ResponseResting}))

	require.NoError(t, m.Modify([]ModifyRequest{{ClientOrderID: id, Price: 101, Qty: 3}}))
	last := router.subs[len(router.subs)-1]
	assert.Equal(t, schema.SubmissionModify, last.Kind)
	assert.Equal(t, 101.0, last.Orders[0].Price)
	o, _ := m.Order(id)
	assert.Equal(t, 100.0, o.Price, "unchanged until acknowledged")

	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: id, VenueOrderID: "v1", Status: schema.ResponseResting}))
	o, _ = m.Order(id)
	assert.Equal(t, 101.0, o.Price)
	assert.Equal(t, 3.0, o.Remaining)

	require.NoError(t, m.Modify([]ModifyRequest{{ClientOrderID: id, Price: 105}}))
	err = m.OnAck(schema.OrderResponse{ClientOrderID: id, Status: schema.ResponseModifyFailed, ErrorMsg: "no change"})
	var reject *exception.OrderRejectError
	require.ErrorAs(t, err, &reject)
	assert.True(t, reject.Modify)
	assert.ErrorIs(t, err, exception.ErrOrderCannotModify)

	o, _ = m.Order(id)
	assert.Equal(t, schema.OrderStatusActive, o.Status, "a failed modify keeps the order live")
	assert.Equal(t, 101.0, o.Price)
}

func TestManagerOpenOrdersReconcile(t *testing.T) {
	m, _, clock := newTestManager(t, Config{})
	orders, err := m.Submit([]schema.OrderRequest{limitBuy(1, 100), limitBuy(1, 99), limitBuy(1, 98)})
	require.NoError(t, err)
	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: orders[0].ClientOrderID, VenueOrderID: "v1", Status: schema.ResponseResting}))
	require.NoError(t, m.OnAck(schema.OrderResponse{ClientOrderID: orders[1].ClientOrderID, VenueOrderID: "v2", Status: schema.ResponseResting}))

	clock.Advance(time.Second)
	m.OnOpenOrders(schema.OpenOrders{Orders: []schema.Order{
		{ClientOrderID: orders[0].ClientOrderID, VenueOrderID: "v1", Symbol: "BTCUSDT", Side: schema.SideBuy, Qty: 1, FilledQty: 0.5, Price: 100},
		{ClientOrderID: "external", VenueOrderID: "v9", Symbol: "ETHUSDT", Side: schema.SideSell, Qty: 2, Price: 5},
	}})

	first, ok := m.Order(orders[0].ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, orders[0].CreatedAt, first.CreatedAt)
	assert.Equal(t, schema.OrderStatusPartiallyFilled, first.Status)
	assert.Equal(t, 0.5, first.Remaining)

	second, _ := m.Order(orders[1].ClientOrderID)
	assert.Equal(t, schema.OrderStatusCanceled, second.Status, "acked order missing at the venue")

	third, _ := m.Order(orders[2].ClientOrderID)
	assert.Equal(t, schema.OrderStatusPendingNew, third.Status, "pending orders survive")

	ext, ok := m.Order("external")
	require.True(t, ok)
	assert.Equal(t, 2.0, ext.Remaining)
	assert.Len(t, m.OpenOrders(""), 3)
}

func TestManagerAccountViews(t *testing.T) {
	m, _, _ := newTestManager(t, Config{Marks: staticMarks{"BTCUSDT": 110}})
	m.OnAccountSnapshot(schema.AccountSnapshot{
		Positions: []schema.Position{{Symbol: "BTCUSDT", Qty: 2, EntryPrice: 100}},
		Balances:  []schema.Balance{{Asset: "USDT", Wallet: 1000}, {Asset: "BNB", Wallet: 50}},
	})

	assert.Equal(t, 1020.0, m.Equity())
	assert.Equal(t, 220.0, m.PositionDelta())
	assert.Equal(t, 220.0, m.TotalNotional())
	assert.InDelta(t, 220.0/1020.0, m.Leverage(), 1e-12)

	m.Mark("BTCUSDT", 90)
	assert.Equal(t, 980.0, m.Equity())

	snap := m.Snapshot()
	assert.Equal(t, "sim", snap.Venue)
	require.Len(t, snap.Positions, 1)
	assert.Len(t, snap.Balances, 2)
}

func TestManagerBalanceAssetCase(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	m.OnAccountSnapshot(schema.AccountSnapshot{
		Balances: []schema.Balance{{Asset: "usdt", Wallet: 500}, {Asset: "Bnb", Wallet: 2}},
	})

	b, ok := m.Balance("USDT")
	require.True(t, ok)
	assert.Equal(t, 500.0, b.Wallet)
	b, ok = m.Balance("bnb")
	require.True(t, ok)
	assert.Equal(t, 2.0, b.Wallet)
	assert.Equal(t, 500.0, m.Equity())
	assert.Len(t, m.Balances(), 2)
}

type blockingVenue struct {
	mu   sync.Mutex
	subs []schema.Submission
}

func (v *blockingVenue) Route(sub schema.Submission) error {
	v.mu.Lock()
	v.subs = append(v.subs, sub)
	v.mu.Unlock()
	return nil
}

func TestAsyncRouterDeliversInOrder(t *testing.T) {
	venue := &blockingVenue{}
	r := NewAsyncRouter(core.Context{}, venue, AsyncRouterOption{QueueSize: 8})
	go r.Run(context.Background())
	require.Eventually(t, r.running.Load, time.Second, time.Millisecond)

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Route(schema.Submission{Kind: schema.SubmissionBulk, SubmittedAt: int64(i)}))
	}
	require.NoError(t, r.Close())

	venue.mu.Lock()
	defer venue.mu.Unlock()
	require.Len(t, venue.subs, 4)
	for i, sub := range venue.subs {
		assert.Equal(t, int64(i), sub.SubmittedAt)
	}
	assert.Error(t, r.Route(schema.Submission{}), "closed router rejects")
}

func TestAsyncRouterUnderLoopHelper(t *testing.T) {
	venue := &blockingVenue{}
	r := NewAsyncRouter(core.Context{}, venue, AsyncRouterOption{})
	routed := func() int {
		venue.mu.Lock()
		defer venue.mu.Unlock()
		return len(venue.subs)
	}

	loop := dispatch.NewLoop(core.Context{}, dispatch.Option{
		Sleep:       time.Millisecond,
		EndTime:     time.Now().Add(2 * time.Second),
		JoinTimeout: time.Second,
	})
	loop.Go(context.Background(), r.Run)
	require.NoError(t, r.Route(schema.Submission{Kind: schema.SubmissionBulk}))
	loop.Add(dispatch.PollFunc(func(context.Context) error {
		if routed() == 1 {
			loop.Stop()
		}
		return nil
	}))

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 1, routed())
	assert.Zero(t, r.Pending())
}

func TestAsyncRouterDrainsOnCancel(t *testing.T) {
	venue := &blockingVenue{}
	r := NewAsyncRouter(core.Context{}, venue, AsyncRouterOption{QueueSize: 8})
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Route(schema.Submission{Kind: schema.SubmissionCancel, SubmittedAt: int64(i)}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	venue.mu.Lock()
	defer venue.mu.Unlock()
	assert.Len(t, venue.subs, 3)
	assert.NoError(t, r.Close())
}

func TestUUIDGenerator(t *testing.T) {
	var g UUIDGenerator
	a, b := g.Next(), g.Next()
	assert.Len(t, a, ClientIDLength)
	assert.NotEqual(t, a, b)
}
