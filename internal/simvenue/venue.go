/*
Simvenue is an in-process venue that rests orders and fills them against public trades.

# Module
  - route: bulk, cancel, modify and market submissions answered synchronously
  - match: aggressor trades take resting orders in price-time priority at the resting price
  - account: positions by weighted average entry, cash net of maker fees, pnl

# Ownership
  - Route may run on a router goroutine while OnTrade runs on the dispatcher; state is guarded by one mutex
  - events are emitted after the lock is released so the sink may call back into Route
*/
package simvenue

import (
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/schema"
	"tradecore/internal/state"
	"tradecore/pkg/exception"
)

const (
	DefaultVenue          = "sim"
	DefaultMakerFee       = 1e-4
	DefaultInitialBalance = 1e4
	DefaultAsset          = "USDT"
)

// EventSink receives the acks and fills the venue produces.
type EventSink interface {
	Emit(ev schema.Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev schema.Event)

func (f SinkFunc) Emit(ev schema.Event) { f(ev) }

// MarkSource supplies mark prices for unrealized PnL.
type MarkSource interface {
	Mark(symbol string) (float64, bool)
}

// Config controls the simulated venue.
type Config struct {
	Venue          string
	MakerFee       float64
	InitialBalance float64
	Asset          string
	// Session keeps fill ids unique across restarts that share a journal.
	Session string
}

func (c Config) withDefaults() Config {
	if c.Venue == "" {
		c.Venue = DefaultVenue
	}
	if c.MakerFee == 0 {
		c.MakerFee = DefaultMakerFee
	}
	if c.MakerFee < 0 {
		c.MakerFee = 0
	}
	if c.InitialBalance == 0 {
		c.InitialBalance = DefaultInitialBalance
	}
	if c.Asset == "" {
		c.Asset = DefaultAsset
	}
	return c
}

type restingOrder struct {
	schema.Order
	// seq orders equal prices by arrival; a modify takes a new one
	seq uint64
}

// Venue is the simulated venue.
type Venue struct {
	ctx   core.Context
	cfg   Config
	sink  EventSink
	marks MarkSource

	mu        sync.Mutex
	nextID    uint64
	nextSeq   uint64
	nextFill  uint64
	bids      []*restingOrder
	asks      []*restingOrder
	lastTrade map[string]float64
	positions *state.PositionBook
	cash      float64
	volume    float64
	fees      float64
	fillCount uint64
}

// New creates a venue emitting into sink. marks may be nil, then the last trade price is used.
func New(ctx core.Context, cfg Config, sink EventSink, marks MarkSource) *Venue {
	cfg = cfg.withDefaults()
	return &Venue{
		ctx:       core.Resolve(ctx).Named("sim." + cfg.Venue),
		cfg:       cfg,
		sink:      sink,
		marks:     marks,
		lastTrade: make(map[string]float64),
		positions: state.NewPositionBook(),
		cash:      cfg.InitialBalance,
	}
}

// Restore seeds positions and the cash balance from recovered state. A missing
// balance for the settlement asset keeps the current cash.
func (v *Venue) Restore(positions []schema.Position, balances []schema.Balance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions.ApplySnapshot(positions)
	for _, b := range balances {
		if b.Asset == v.cfg.Asset {
			v.cash = b.Wallet
		}
	}
}

// SetSink replaces the event sink.
func (v *Venue) SetSink(sink EventSink) {
	v.mu.Lock()
	v.sink = sink
	v.mu.Unlock()
}

func (v *Venue) Name() string { return v.cfg.Venue }

// Route answers a submission. Acks and fills are emitted before Route returns.
func (v *Venue) Route(sub schema.Submission) error {
	v.mu.Lock()
	var (
		events []schema.Event
		err    error
	)
	switch sub.Kind {
	case schema.SubmissionBulk:
		events = v.bulk(sub.Orders)
	case schema.SubmissionCancel:
		events = v.cancel(sub.Orders)
	case schema.SubmissionModify:
		events = v.modify(sub.Orders)
	case schema.SubmissionMarket:
		events = v.market(sub.Orders)
	default:
		err = errors.Wrapf(exception.ErrSimUnsupportedKind, "%s", sub.Kind)
	}
	sink := v.sink
	v.mu.Unlock()

	emit(sink, events)
	return err
}

func (v *Venue) bulk(orders []schema.Order) []schema.Event {
	results := make([]schema.OrderResponse, 0, len(orders))
	now := v.now()
	for _, o := range orders {
		if o.Qty <= 0 || o.Price <= 0 || (o.Side != schema.SideBuy && o.Side != schema.SideSell) {
			results = append(results, schema.OrderResponse{
				ClientOrderID: o.ClientOrderID,
				Status:        schema.ResponseRejected,
				UpdateTime:    now,
				ErrorMsg:      "invalid order",
			})
			continue
		}
		r := &restingOrder{Order: o}
		r.VenueOrderID = v.newOrderID()
		r.Remaining = o.Qty - o.FilledQty
		r.Status = schema.OrderStatusActive
		v.rest(r)
		results = append(results, resting(r, now))
	}
	return []schema.Event{schema.BatchResponse{Kind: schema.SubmissionBulk, Results: results}}
}

func (v *Venue) cancel(orders []schema.Order) []schema.Event {
	results := make([]schema.OrderResponse, 0, len(orders))
	now := v.now()
	for _, o := range orders {
		r, ok := v.remove(o.ClientOrderID)
		if !ok {
			results = append(results, schema.OrderResponse{
				ClientOrderID: o.ClientOrderID,
				VenueOrderID:  o.VenueOrderID,
				Status:        schema.ResponseCancelFailed,
				UpdateTime:    now,
				ErrorMsg:      "unknown order",
			})
			continue
		}
		results = append(results, schema.OrderResponse{
			ClientOrderID: r.ClientOrderID,
			VenueOrderID:  r.VenueOrderID,
			Status:        schema.ResponseCanceled,
			UpdateTime:    now,
		})
	}
	return []schema.Event{schema.BatchResponse{Kind: schema.SubmissionCancel, Results: results}}
}

// modify reprices or resizes in place. The venue id is kept and the order
// loses its time priority.
func (v *Venue) modify(orders []schema.Order) []schema.Event {
	results := make([]schema.OrderResponse, 0, len(orders))
	now := v.now()
	for _, o := range orders {
		r, ok := v.remove(o.ClientOrderID)
		if !ok {
			results = append(results, schema.OrderResponse{
				ClientOrderID: o.ClientOrderID,
				Status:        schema.ResponseModifyFailed,
				UpdateTime:    now,
				ErrorMsg:      "unknown order",
			})
			continue
		}
		if o.Price > 0 {
			r.Price = o.Price
		}
		if o.Qty > r.FilledQty {
			r.Qty = o.Qty
			r.Remaining = o.Qty - r.FilledQty
		}
		v.rest(r)
		results = append(results, resting(r, now))
	}
	return []schema.Event{schema.BatchResponse{Kind: schema.SubmissionModify, Results: results}}
}

// market fills immediately at the last trade price or rejects without one.
func (v *Venue) market(orders []schema.Order) []schema.Event {
	var (
		results []schema.OrderResponse
		fills   []schema.Event
	)
	now := v.now()
	for _, o := range orders {
		px, ok := v.lastTrade[o.Symbol]
		if !ok || o.Qty <= 0 {
			results = append(results, schema.OrderResponse{
				ClientOrderID: o.ClientOrderID,
				Status:        schema.ResponseRejected,
				UpdateTime:    now,
				ErrorMsg:      exception.ErrSimNoReferencePrice.Error(),
			})
			continue
		}
		r := &restingOrder{Order: o}
		r.VenueOrderID = v.newOrderID()
		results = append(results, resting(r, now))
		fills = append(fills, v.fill(r, o.Qty, px, now))
	}
	return append([]schema.Event{schema.BatchResponse{Kind: schema.SubmissionMarket, Results: results}}, fills...)
}

// OnTrade matches an aggressor trade against the resting orders of the other side.
func (v *Venue) OnTrade(trade schema.Trade) {
	v.mu.Lock()
	v.lastTrade[trade.Symbol] = trade.Price
	ts := trade.TsEvent
	if ts == 0 {
		ts = v.now()
	}

	var events []schema.Event
	qty := trade.Qty
	switch trade.Aggressor {
	case schema.SideBuy:
		events, v.asks = v.match(v.asks, trade.Symbol, qty, ts, func(px float64) bool { return px <= trade.Price })
	case schema.SideSell:
		events, v.bids = v.match(v.bids, trade.Symbol, qty, ts, func(px float64) bool { return px >= trade.Price })
	}
	sink := v.sink
	v.mu.Unlock()

	emit(sink, events)
}

// match walks a side in priority order and fills while crosses and qty remain.
func (v *Venue) match(side []*restingOrder, symbol string, qty float64, ts int64, crosses func(px float64) bool) ([]schema.Event, []*restingOrder) {
	var events []schema.Event
	kept := side[:0]
	for _, r := range side {
		if qty <= 0 || r.Symbol != symbol || !crosses(r.Price) {
			kept = append(kept, r)
			continue
		}
		n := math.Min(qty, r.Remaining)
		qty -= n
		events = append(events, v.fill(r, n, r.Price, ts))
		if r.Remaining > 0 {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(side); i++ {
		side[i] = nil
	}
	return events, kept
}

func (v *Venue) fill(r *restingOrder, qty, px float64, ts int64) schema.Fill {
	r.FilledQty += qty
	r.Remaining = r.Qty - r.FilledQty
	if r.Remaining < 1e-12 {
		r.Remaining = 0
	}

	v.nextFill++
	fee := qty * px * v.cfg.MakerFee
	f := schema.Fill{
		ClientOrderID: r.ClientOrderID,
		VenueOrderID:  r.VenueOrderID,
		VenueFillID:   v.fillID(),
		Symbol:        r.Symbol,
		Side:          r.Side,
		Qty:           qty,
		Price:         px,
		Fee:           fee,
		Maker:         true,
		Ts:            ts,
	}

	before := v.positions.Position(r.Symbol).RealizedPnL
	after := v.positions.ApplyFill(f).RealizedPnL
	v.cash += after - before - fee
	v.fees += fee
	v.volume += math.Abs(qty * px)
	v.fillCount++
	return f
}

func (v *Venue) rest(r *restingOrder) {
	v.nextSeq++
	r.seq = v.nextSeq
	if r.Side == schema.SideBuy {
		v.bids = insert(v.bids, r, func(a, b *restingOrder) bool {
			return a.Price > b.Price || (a.Price == b.Price && a.seq < b.seq)
		})
		return
	}
	v.asks = insert(v.asks, r, func(a, b *restingOrder) bool {
		return a.Price < b.Price || (a.Price == b.Price && a.seq < b.seq)
	})
}

func insert(side []*restingOrder, r *restingOrder, before func(a, b *restingOrder) bool) []*restingOrder {
	i := sort.Search(len(side), func(i int) bool { return before(r, side[i]) })
	side = append(side, nil)
	copy(side[i+1:], side[i:])
	side[i] = r
	return side
}

func (v *Venue) remove(clientID string) (*restingOrder, bool) {
	for _, side := range []*[]*restingOrder{&v.bids, &v.asks} {
		for i, r := range *side {
			if r.ClientOrderID == clientID {
				*side = append((*side)[:i], (*side)[i+1:]...)
				return r, true
			}
		}
	}
	return nil, false
}

func (v *Venue) newOrderID() string {
	v.nextID++
	return strconv.FormatUint(v.nextID, 10)
}

func (v *Venue) now() int64 {
	return v.ctx.Clock.Now().UnixNano()
}

func resting(r *restingOrder, ts int64) schema.OrderResponse {
	return schema.OrderResponse{
		ClientOrderID: r.ClientOrderID,
		VenueOrderID:  r.VenueOrderID,
		Status:        schema.ResponseResting,
		UpdateTime:    ts,
	}
}

func emit(sink EventSink, events []schema.Event) {
	if sink == nil {
		return
	}
	for _, ev := range events {
		sink.Emit(ev)
	}
}

// mark returns the mark for symbol, falling back to the last trade.
func (v *Venue) mark(symbol string) (float64, bool) {
	if v.marks != nil {
		if px, ok := v.marks.Mark(symbol); ok && px > 0 {
			return px, true
		}
	}
	px, ok := v.lastTrade[symbol]
	return px, ok
}

func (v *Venue) markPositions() {
	for _, p := range v.positions.Positions() {
		if px, ok := v.mark(p.Symbol); ok {
			v.positions.Mark(p.Symbol, px)
		}
	}
}

func (v *Venue) fillID() string {
	if v.cfg.Session == "" {
		return v.cfg.Venue + "-" + strconv.FormatUint(v.nextFill, 10)
	}
	return v.cfg.Venue + "-" + v.cfg.Session + "-" + strconv.FormatUint(v.nextFill, 10)
}

// UnrealizedPnL sums mark to market PnL over open positions.
func (v *Venue) UnrealizedPnL() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markPositions()
	return v.positions.Unrealized()
}

// PnL is cash minus the initial balance plus unrealized PnL.
func (v *Venue) PnL() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markPositions()
	return v.cash - v.cfg.InitialBalance + v.positions.Unrealized()
}

func (v *Venue) Position(symbol string) schema.Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positions.Position(symbol)
}

func (v *Venue) Cash() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cash
}

func (v *Venue) Volume() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

func (v *Venue) Fees() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fees
}

func (v *Venue) Fills() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fillCount
}

// AccountSnapshot returns positions and the cash balance as the venue sees them.
func (v *Venue) AccountSnapshot() schema.AccountSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markPositions()
	return schema.AccountSnapshot{
		Venue:     v.cfg.Venue,
		Positions: v.positions.Positions(),
		Balances:  []schema.Balance{{Asset: v.cfg.Asset, Wallet: v.cash, Available: v.cash}},
		Ts:        v.now(),
	}
}

// OpenOrders lists resting orders, bids first.
func (v *Venue) OpenOrders() schema.OpenOrders {
	v.mu.Lock()
	defer v.mu.Unlock()
	orders := make([]schema.Order, 0, len(v.bids)+len(v.asks))
	for _, r := range v.bids {
		orders = append(orders, r.Order)
	}
	for _, r := range v.asks {
		orders = append(orders, r.Order)
	}
	return schema.OpenOrders{Venue: v.cfg.Venue, Orders: orders, Ts: v.now()}
}

// PublishAccount emits an account snapshot followed by the open orders.
func (v *Venue) PublishAccount() {
	snap := v.AccountSnapshot()
	open := v.OpenOrders()
	v.mu.Lock()
	sink := v.sink
	v.mu.Unlock()
	emit(sink, []schema.Event{snap, open})
}

// Handle feeds public trades into the matcher and ignores other events.
func (v *Venue) Handle(ev schema.Event) bool {
	trade, ok := ev.(schema.Trade)
	if !ok {
		return false
	}
	v.OnTrade(trade)
	return true
}
