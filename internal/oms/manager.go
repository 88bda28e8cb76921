/*
Oms owns the local view of orders, positions and balances for one venue.

# Module
  - submit: readiness gate, pre-trade risk, client id, batched routing
  - reconcile: acks, batch results, fills, cancels, expiries, account and open order snapshots
  - account: positions by weighted average entry, balances, equity and leverage

# Ownership
  - every method runs on the dispatcher goroutine; the manager holds no lock
  - venue events arrive through the bus queue or synchronously from the simulated venue
*/
package oms

import (
	"math"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/state"
	"tradecore/pkg/exception"
)

const (
	DefaultBatchSize      = 5
	DefaultStaleAfter     = 60 * time.Second
	DefaultClosedCapacity = 10_000
	DefaultFillCapacity   = 100_000
)

// DefaultStableAssets count one to one towards equity.
var DefaultStableAssets = []string{"USDT", "USDC", "BUSD", "FDUSD", "USD"}

// MarkSource supplies reference prices for risk checks and unrealized PnL.
type MarkSource interface {
	Mark(symbol string) (float64, bool)
}

// FillRecorder journals distinct fills.
type FillRecorder interface {
	RecordFill(fill schema.Fill) error
}

// Reconcilable is the side of the manager a venue talks to.
type Reconcilable interface {
	OnAck(resp schema.OrderResponse) error
	OnBatch(resp schema.BatchResponse) error
	OnFill(fill schema.Fill) error
	OnAccountSnapshot(snap schema.AccountSnapshot)
	OnOpenOrders(list schema.OpenOrders)
}

// Listener observes order and position changes.
type Listener interface {
	OnOrderUpdate(order schema.Order)
	OnFill(fill schema.Fill, pos schema.Position)
	OnReject(err *exception.OrderRejectError)
}

// NopListener can be embedded to implement only part of Listener.
type NopListener struct{}

func (NopListener) OnOrderUpdate(schema.Order)           {}
func (NopListener) OnFill(schema.Fill, schema.Position)  {}
func (NopListener) OnReject(*exception.OrderRejectError) {}

// ModifyRequest changes price and total quantity of a live order.
type ModifyRequest struct {
	ClientOrderID string
	Price         float64
	Qty           float64
}

// Config holds the manager settings.
type Config struct {
	Venue          string
	BatchSize      int
	StaleAfter     time.Duration
	ClosedCapacity int
	FillCapacity   int
	StableAssets   []string
	IDs            IDGenerator
	Risk           *risk.Engine
	Marks          MarkSource
	Journal        FillRecorder
	Metrics        *obs.Metrics
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.ClosedCapacity <= 0 {
		c.ClosedCapacity = DefaultClosedCapacity
	}
	if c.FillCapacity <= 0 {
		c.FillCapacity = DefaultFillCapacity
	}
	if len(c.StableAssets) == 0 {
		c.StableAssets = DefaultStableAssets
	}
	if c.IDs == nil {
		c.IDs = UUIDGenerator{}
	}
	return c
}

// Manager is the order manager of one venue.
type Manager struct {
	ctx       core.Context
	cfg       Config
	router    Router
	orders    *StateMachine
	positions *state.PositionBook
	balances  map[string]schema.Balance
	fills     *boundedSet[struct{}]
	listeners []Listener

	ready         bool
	lastUserEvent time.Time
	lastFillTs    int64

	duplicateFills uint64
	rejects        uint64
}

var _ Reconcilable = (*Manager)(nil)

func NewManager(ctx core.Context, cfg Config, router Router) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		ctx:       core.Resolve(ctx).Named("oms." + cfg.Venue),
		cfg:       cfg,
		router:    router,
		orders:    NewStateMachine(cfg.ClosedCapacity),
		positions: state.NewPositionBook(),
		balances:  make(map[string]schema.Balance),
		fills:     newBoundedSet[struct{}](cfg.FillCapacity),
	}
}

// SetRouter replaces the router. Used when the venue needs the manager before it exists.
func (m *Manager) SetRouter(r Router) { m.router = r }

func (m *Manager) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

func (m *Manager) Venue() string { return m.cfg.Venue }

// Submit places limit orders. Either every request passes validation and risk
// or none is placed. Submissions are routed in batches of BatchSize.
func (m *Manager) Submit(reqs []schema.OrderRequest) ([]schema.Order, error) {
	return m.submit(reqs, schema.SubmissionBulk)
}

// SubmitMarket places immediate-or-cancel market orders.
func (m *Manager) SubmitMarket(reqs []schema.OrderRequest) ([]schema.Order, error) {
	for i := range reqs {
		reqs[i].Kind = schema.OrderKindMarketIOC
	}
	return m.submit(reqs, schema.SubmissionMarket)
}

func (m *Manager) submit(reqs []schema.OrderRequest, kind schema.SubmissionKind) ([]schema.Order, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if !m.Ready() {
		return nil, exception.ErrOMSNotReady
	}

	now := m.ctx.Clock.Now().UnixNano()
	pending := make(map[string]float64, len(reqs))
	gross := m.positions.GrossNotional()
	equity := m.Equity()
	for _, req := range reqs {
		if err := validate(req); err != nil {
			return nil, err
		}
		ref, _ := m.mark(req.Symbol)
		view := risk.StateView{
			Position:       m.positions.Position(req.Symbol).Qty + pending[req.Symbol],
			ReferencePrice: ref,
			GrossNotional:  gross,
			Equity:         equity,
			Now:            now,
		}
		if d := m.cfg.Risk.Evaluate(req, view); !d.Allow {
			return nil, errors.Wrapf(exception.ErrOrderRiskDenied, "%s %s %v: %s", req.Symbol, req.Side, req.Qty, d.Reason)
		}
		pending[req.Symbol] += req.Side.Sign() * req.Qty
	}

	out := make([]schema.Order, 0, len(reqs))
	for _, req := range reqs {
		o := schema.Order{
			ClientOrderID: m.cfg.IDs.Next(),
			Symbol:        req.Symbol,
			Side:          req.Side,
			Kind:          req.Kind,
			Qty:           req.Qty,
			Price:         req.Price,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := m.orders.ApplyNew(o); err != nil {
			return nil, err
		}
		o, _ = m.orders.Order(o.ClientOrderID)
		out = append(out, o)
	}

	var failures []error
	for _, batch := range chunk(out, m.cfg.BatchSize) {
		err := m.route(kind, batch, now)
		if err == nil {
			continue
		}
		// the venue never saw these orders
		for _, o := range batch {
			if t, ok := m.orders.lookup(o.ClientOrderID, ""); ok {
				m.orders.ApplyTerminal(t, schema.OrderStatusRejected, now)
				m.notifyOrder(t.Order)
			}
		}
		failures = append(failures, err)
	}
	for i := range out {
		out[i], _ = m.orders.Order(out[i].ClientOrderID)
	}
	if len(failures) > 0 {
		return out, &exception.PartialBatchFailure{Total: len(out), Failures: failures}
	}
	return out, nil
}

func validate(req schema.OrderRequest) error {
	switch {
	case req.Symbol == "":
		return errors.Wrap(exception.ErrOrderInvalidRequest, "empty symbol")
	case req.Side != schema.SideBuy && req.Side != schema.SideSell:
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "side %s", req.Side)
	case !(req.Qty > 0) || math.IsInf(req.Qty, 0):
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "qty %v", req.Qty)
	case req.Kind == schema.OrderKindUnknown:
		return errors.Wrap(exception.ErrOrderInvalidRequest, "unknown order kind")
	case req.Kind != schema.OrderKindMarketIOC && !(req.Price > 0):
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "price %v", req.Price)
	}
	return nil
}

// Cancel requests cancellation of live orders. Unknown or terminal ids are
// reported together; the rest are still forwarded.
func (m *Manager) Cancel(clientIDs []string) error {
	now := m.ctx.Clock.Now().UnixNano()
	var (
		batch    []schema.Order
		failures []error
	)
	for _, id := range clientIDs {
		o, ok := m.orders.lookup(id, "")
		if !ok {
			failures = append(failures, errors.Wrap(exception.ErrOrderUnknown, id))
			continue
		}
		if err := m.orders.ApplyCancelRequest(o, now); err != nil {
			failures = append(failures, err)
			continue
		}
		batch = append(batch, o.Order)
		m.notifyOrder(o.Order)
	}

	for _, b := range chunk(batch, m.cfg.BatchSize) {
		if err := m.route(schema.SubmissionCancel, b, now); err != nil {
			for _, o := range b {
				if t, ok := m.orders.lookup(o.ClientOrderID, ""); ok {
					m.orders.ApplyCancelFailed(t, now)
				}
			}
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return &exception.PartialBatchFailure{Total: len(clientIDs), Failures: failures}
	}
	return nil
}

// CancelAll cancels every live order of symbol, or all orders when symbol is empty.
func (m *Manager) CancelAll(symbol string) error {
	var ids []string
	for _, o := range m.orders.Orders(symbol) {
		if o.Status != schema.OrderStatusPendingCancel {
			ids = append(ids, o.ClientOrderID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return m.Cancel(ids)
}

// Modify asks the venue to reprice or resize live orders. The local order
// changes once the venue acknowledges.
func (m *Manager) Modify(reqs []ModifyRequest) error {
	now := m.ctx.Clock.Now().UnixNano()
	var (
		batch    []schema.Order
		failures []error
	)
	for _, req := range reqs {
		o, ok := m.orders.lookup(req.ClientOrderID, "")
		if !ok {
			failures = append(failures, errors.Wrap(exception.ErrOrderUnknown, req.ClientOrderID))
			continue
		}
		if o.Status != schema.OrderStatusActive && o.Status != schema.OrderStatusPartiallyFilled {
			failures = append(failures, errors.Wrapf(exception.ErrOrderInvalidState, "modify %s while %s", o.ClientOrderID, o.Status))
			continue
		}
		if req.Qty != 0 && req.Qty <= o.FilledQty {
			failures = append(failures, errors.Wrapf(exception.ErrOrderInvalidRequest, "modify %s qty %v below filled %v", o.ClientOrderID, req.Qty, o.FilledQty))
			continue
		}
		r := req
		o.modify = &r
		wire := o.Order
		if req.Price > 0 {
			wire.Price = req.Price
		}
		if req.Qty > 0 {
			wire.Qty = req.Qty
			wire.Remaining = req.Qty - o.FilledQty
		}
		batch = append(batch, wire)
	}

	for _, b := range chunk(batch, m.cfg.BatchSize) {
		if err := m.route(schema.SubmissionModify, b, now); err != nil {
			for _, o := range b {
				if t, ok := m.orders.lookup(o.ClientOrderID, ""); ok {
					t.modify = nil
				}
			}
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return &exception.PartialBatchFailure{Total: len(reqs), Failures: failures}
	}
	return nil
}

func (m *Manager) route(kind schema.SubmissionKind, orders []schema.Order, now int64) error {
	if m.router == nil {
		return errors.Wrap(exception.ErrNilInstance, "router")
	}
	sub := schema.Submission{
		Kind:        kind,
		Venue:       m.cfg.Venue,
		Orders:      orders,
		SubmittedAt: now,
	}
	if err := m.router.Route(sub); err != nil {
		return err
	}
	m.cfg.Metrics.AddSubmits(m.cfg.Venue, len(orders))
	return nil
}

// OnAck reconciles one venue response. A rejection returns the
// *exception.OrderRejectError also handed to listeners.
func (m *Manager) OnAck(resp schema.OrderResponse) error {
	m.touch()
	switch resp.Status {
	case schema.ResponseCanceled, schema.ResponseCancelFailed:
		return m.OnCancelAck(resp)
	case schema.ResponseExpired:
		return m.OnExpired(resp)
	}

	o, ok := m.orders.lookup(resp.ClientOrderID, resp.VenueOrderID)
	if !ok {
		return m.unknown(resp)
	}
	ts := m.eventTs(resp.UpdateTime)

	switch resp.Status {
	case schema.ResponseResting:
		if o.VenueOrderID != "" && resp.VenueOrderID != "" && o.VenueOrderID != resp.VenueOrderID {
			m.ctx.Log.Warnf("ack for %s carries venue id %s, keep %s", o.ClientOrderID, resp.VenueOrderID, o.VenueOrderID)
		}
		m.orders.ApplyResting(o, resp.VenueOrderID, ts)
		m.notifyOrder(o.Order)
		return nil
	case schema.ResponseRejected:
		order := o.Order
		m.orders.ApplyTerminal(o, schema.OrderStatusRejected, ts)
		order.Status = schema.OrderStatusRejected
		return m.reject(order, resp.ErrorMsg, false)
	case schema.ResponseModifyFailed:
		o.modify = nil
		return m.reject(o.Order, resp.ErrorMsg, true)
	default:
		return errors.Wrapf(exception.ErrOrderInvalidState, "%s response %s", o.ClientOrderID, resp.Status)
	}
}

// OnBatch reconciles every result independently. Failures are collected into
// a *exception.PartialBatchFailure; successful results stay applied.
func (m *Manager) OnBatch(resp schema.BatchResponse) error {
	var failures []error
	for _, r := range resp.Results {
		if err := m.OnAck(r); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return &exception.PartialBatchFailure{Total: len(resp.Results), Failures: failures}
	}
	return nil
}

// OnCancelAck closes a canceled order or restores the status held before the
// cancel request when the venue refused.
func (m *Manager) OnCancelAck(resp schema.OrderResponse) error {
	m.touch()
	o, ok := m.orders.lookup(resp.ClientOrderID, resp.VenueOrderID)
	if !ok {
		return m.unknown(resp)
	}
	ts := m.eventTs(resp.UpdateTime)
	switch resp.Status {
	case schema.ResponseCanceled:
		m.orders.bind(o, resp.VenueOrderID)
		m.orders.ApplyTerminal(o, schema.OrderStatusCanceled, ts)
	case schema.ResponseCancelFailed:
		m.orders.ApplyCancelFailed(o, ts)
		m.ctx.Log.Warnf("cancel %s failed: %s", o.ClientOrderID, resp.ErrorMsg)
	default:
		return errors.Wrapf(exception.ErrOrderInvalidState, "%s cancel response %s", o.ClientOrderID, resp.Status)
	}
	m.notifyOrder(o.Order)
	return nil
}

// OnExpired closes an order the venue expired.
func (m *Manager) OnExpired(resp schema.OrderResponse) error {
	m.touch()
	o, ok := m.orders.lookup(resp.ClientOrderID, resp.VenueOrderID)
	if !ok {
		return m.unknown(resp)
	}
	m.orders.ApplyTerminal(o, schema.OrderStatusExpired, m.eventTs(resp.UpdateTime))
	m.notifyOrder(o.Order)
	return nil
}

// unknown ignores late events for closed orders.
func (m *Manager) unknown(resp schema.OrderResponse) error {
	if m.orders.Closed(resp.ClientOrderID) {
		return nil
	}
	return errors.Wrapf(exception.ErrOrderUnknown, "%s/%s", resp.ClientOrderID, resp.VenueOrderID)
}

// OnFill applies a distinct fill exactly once. Repeated venue fill ids are
// dropped before any state changes.
func (m *Manager) OnFill(fill schema.Fill) error {
	m.touch()
	if fill.VenueFillID != "" && m.fills.has(fill.VenueFillID) {
		m.duplicateFills++
		m.cfg.Metrics.IncDuplicateFill(m.cfg.Venue)
		return nil
	}

	o, ok := m.orders.lookup(fill.ClientOrderID, fill.VenueOrderID)
	if !ok {
		if !m.orders.Closed(fill.ClientOrderID) {
			return errors.Wrapf(exception.ErrOrderUnknown, "fill %s for %s/%s", fill.VenueFillID, fill.ClientOrderID, fill.VenueOrderID)
		}
		// the venue executed an order already closed locally, the position still moves
		m.ctx.Log.Warnf("fill %s for closed order %s", fill.VenueFillID, fill.ClientOrderID)
	} else {
		if fill.Symbol == "" {
			fill.Symbol = o.Symbol
		}
		if fill.Side == schema.SideUnknown {
			fill.Side = o.Side
		}
		if fill.ClientOrderID == "" {
			fill.ClientOrderID = o.ClientOrderID
		}
		if err := m.orders.ApplyFill(o, fill); err != nil {
			return err
		}
	}

	if fill.VenueFillID != "" {
		m.fills.put(fill.VenueFillID, struct{}{})
	}
	if fill.Ts > m.lastFillTs {
		m.lastFillTs = fill.Ts
	}
	pos := m.positions.ApplyFill(fill)
	if px, ok := m.mark(fill.Symbol); ok {
		m.positions.Mark(fill.Symbol, px)
		pos = m.positions.Position(fill.Symbol)
	}
	m.cfg.Metrics.IncFill(m.cfg.Venue)

	if m.cfg.Journal != nil {
		if err := m.cfg.Journal.RecordFill(fill); err != nil {
			m.ctx.Log.Errorf("journal fill %s, err: %+v", fill.VenueFillID, err)
		}
	}
	if ok {
		m.notifyOrder(o.Order)
	}
	for _, l := range m.listeners {
		l.OnFill(fill, pos)
	}
	return nil
}

// OnAccountSnapshot replaces positions and balances and marks the manager ready.
func (m *Manager) OnAccountSnapshot(snap schema.AccountSnapshot) {
	m.touch()
	m.positions.ApplySnapshot(snap.Positions)
	clear(m.balances)
	for _, b := range snap.Balances {
		m.setBalance(b)
	}
	for _, p := range snap.Positions {
		if px, ok := m.mark(p.Symbol); ok {
			m.positions.Mark(p.Symbol, px)
		}
	}
	if !m.ready {
		m.ctx.Log.Infof("ready with %d positions, equity %.2f", len(snap.Positions), m.Equity())
	}
	m.ready = true
}

// OnOpenOrders replaces the active set with the venue list.
func (m *Manager) OnOpenOrders(list schema.OpenOrders) {
	m.touch()
	m.orders.Replace(list.Orders, m.eventTs(list.Ts))
}

// Handle routes a decoded venue event.
func (m *Manager) Handle(ev schema.Event) error {
	switch e := ev.(type) {
	case schema.OrderResponse:
		return m.OnAck(e)
	case schema.BatchResponse:
		return m.OnBatch(e)
	case schema.Fill:
		return m.OnFill(e)
	case schema.AccountSnapshot:
		m.OnAccountSnapshot(e)
	case schema.OpenOrders:
		m.OnOpenOrders(e)
	case schema.MarkPrice:
		m.Mark(e.Symbol, e.Mark)
	}
	return nil
}

// Emit handles ev and logs failures. It lets the manager sit behind an event sink.
func (m *Manager) Emit(ev schema.Event) {
	if err := m.Handle(ev); err != nil {
		m.ctx.Log.Warnf("handle %s, err: %+v", ev.Kind(), err)
	}
}

// Ready is false before the first account snapshot and while no user event
// arrived within StaleAfter.
func (m *Manager) Ready() bool {
	if !m.ready {
		return false
	}
	return m.ctx.Clock.Now().Sub(m.lastUserEvent) < m.cfg.StaleAfter
}

// Touch counts as a user event, e.g. a user stream keepalive.
func (m *Manager) Touch() { m.touch() }

func (m *Manager) touch() {
	m.lastUserEvent = m.ctx.Clock.Now()
}

// Mark updates the mark price used for unrealized PnL.
func (m *Manager) Mark(symbol string, px float64) {
	m.positions.Mark(symbol, px)
}

// Equity is the stable asset wallet balance plus unrealized PnL.
func (m *Manager) Equity() float64 {
	var wallet float64
	for _, asset := range m.cfg.StableAssets {
		if b, ok := m.balances[assetKey(asset)]; ok {
			wallet += b.Wallet
		}
	}
	return wallet + m.positions.Unrealized()
}

// Balance looks asset up case-insensitively.
func (m *Manager) Balance(asset string) (schema.Balance, bool) {
	b, ok := m.balances[assetKey(asset)]
	return b, ok
}

func (m *Manager) setBalance(b schema.Balance) {
	m.balances[assetKey(b.Asset)] = b
}

func assetKey(asset string) string { return strings.ToUpper(asset) }

func (m *Manager) Balances() []schema.Balance {
	out := make([]schema.Balance, 0, len(m.balances))
	for _, b := range m.balances {
		out = append(out, b)
	}
	return out
}

func (m *Manager) Position(symbol string) schema.Position { return m.positions.Position(symbol) }
func (m *Manager) Positions() []schema.Position           { return m.positions.Positions() }

// PositionDelta is the signed notional of all positions.
func (m *Manager) PositionDelta() float64 { return m.positions.Notional() }

// TotalNotional is the gross notional of all positions.
func (m *Manager) TotalNotional() float64 { return m.positions.GrossNotional() }

// Leverage is gross notional over equity, 0 without positive equity.
func (m *Manager) Leverage() float64 {
	equity := m.Equity()
	if equity <= 0 {
		return 0
	}
	return m.TotalNotional() / equity
}

// OpenOrders returns the live orders of symbol, oldest first. Empty symbol returns all.
func (m *Manager) OpenOrders(symbol string) []schema.Order { return m.orders.Orders(symbol) }

func (m *Manager) Order(clientID string) (schema.Order, bool) { return m.orders.Order(clientID) }

func (m *Manager) DuplicateFills() uint64 { return m.duplicateFills }
func (m *Manager) Rejects() uint64        { return m.rejects }

// Snapshot captures positions and balances for the periodic state dump.
func (m *Manager) Snapshot() state.Snapshot {
	snap := m.positions.Snapshot(m.ctx.Clock.Now().UnixNano(), m.lastFillTs).WithBalances(m.Balances())
	snap.Venue = m.cfg.Venue
	return snap
}

// Restore seeds positions and balances from a recovered state.
func (m *Manager) Restore(res state.RecoverResult) {
	if res.Positions != nil {
		m.positions = res.Positions
	}
	for _, b := range res.Balances {
		m.setBalance(b)
	}
	for id := range res.Seen {
		m.fills.put(id, struct{}{})
	}
	m.lastFillTs = res.LastFillTs
}

func (m *Manager) mark(symbol string) (float64, bool) {
	if m.cfg.Marks == nil {
		return 0, false
	}
	return m.cfg.Marks.Mark(symbol)
}

func (m *Manager) eventTs(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return m.ctx.Clock.Now().UnixNano()
}

func (m *Manager) reject(order schema.Order, reason string, modify bool) error {
	m.rejects++
	m.cfg.Metrics.IncReject(m.cfg.Venue)
	err := &exception.OrderRejectError{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Reason:        reason,
		Modify:        modify,
	}
	m.ctx.Log.Warnf("%v", err)
	m.notifyOrder(order)
	for _, l := range m.listeners {
		l.OnReject(err)
	}
	return err
}

func (m *Manager) notifyOrder(o schema.Order) {
	for _, l := range m.listeners {
		l.OnOrderUpdate(o)
	}
}

func chunk(orders []schema.Order, size int) [][]schema.Order {
	if len(orders) == 0 {
		return nil
	}
	out := make([][]schema.Order, 0, (len(orders)+size-1)/size)
	for len(orders) > size {
		out = append(out, orders[:size:size])
		orders = orders[size:]
	}
	return append(out, orders)
}
