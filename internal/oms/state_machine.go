package oms

import (
	"math"
	"sort"

	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

// qtyEpsilon absorbs float noise when comparing fill quantities.
const qtyEpsilon = 1e-9

// trackedOrder is an active order with the bookkeeping the venue protocol needs.
type trackedOrder struct {
	schema.Order
	// prior is the status to restore when a cancel fails
	prior schema.OrderStatus
	// modify holds a requested change until the venue answers
	modify *ModifyRequest
}

// StateMachine updates orders from submit, ack, cancel and fill events.
// Every transition is one directional; terminal orders move to a bounded closed set.
type StateMachine struct {
	active  map[string]*trackedOrder
	byVenue map[string]string
	closed  *boundedSet[schema.Order]
}

// NewStateMachine creates an empty state machine remembering up to closedCap terminal orders.
func NewStateMachine(closedCap int) *StateMachine {
	return &StateMachine{
		active:  make(map[string]*trackedOrder),
		byVenue: make(map[string]string),
		closed:  newBoundedSet[schema.Order](closedCap),
	}
}

// Order returns the current order state, looking at closed orders too.
func (m *StateMachine) Order(clientID string) (schema.Order, bool) {
	if o, ok := m.active[clientID]; ok {
		return o.Order, true
	}
	return m.closed.get(clientID)
}

// Active reports whether the order is still live locally.
func (m *StateMachine) Active(clientID string) bool {
	_, ok := m.active[clientID]
	return ok
}

// Closed reports whether the order reached a terminal state recently.
func (m *StateMachine) Closed(clientID string) bool {
	return m.closed.has(clientID)
}

func (m *StateMachine) Len() int { return len(m.active) }

// Orders returns active orders of symbol, oldest first. An empty symbol returns all.
func (m *StateMachine) Orders(symbol string) []schema.Order {
	out := make([]schema.Order, 0, len(m.active))
	for _, o := range m.active {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o.Order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ClientOrderID < out[j].ClientOrderID
	})
	return out
}

// lookup resolves an order by client id, then by venue id.
func (m *StateMachine) lookup(clientID, venueID string) (*trackedOrder, bool) {
	if o, ok := m.active[clientID]; ok {
		return o, true
	}
	if venueID != "" {
		if cid, ok := m.byVenue[venueID]; ok {
			o, ok := m.active[cid]
			return o, ok
		}
	}
	return nil, false
}

// known reports whether ids name an order that is active or recently closed.
func (m *StateMachine) known(clientID, venueID string) bool {
	if _, ok := m.lookup(clientID, venueID); ok {
		return true
	}
	return m.closed.has(clientID)
}

// ApplyNew registers a PendingNew order.
func (m *StateMachine) ApplyNew(o schema.Order) error {
	if o.ClientOrderID == "" {
		return errors.Wrap(exception.ErrOrderInvalidRequest, "empty client order id")
	}
	if m.known(o.ClientOrderID, "") {
		return errors.Wrap(exception.ErrOrderDuplicate, o.ClientOrderID)
	}
	o.Status = schema.OrderStatusPendingNew
	o.Remaining = o.Qty
	o.FilledQty = 0
	m.active[o.ClientOrderID] = &trackedOrder{Order: o}
	return nil
}

// ApplyResting binds the venue id and activates a pending order.
// A venue id once bound is never replaced.
func (m *StateMachine) ApplyResting(o *trackedOrder, venueID string, ts int64) {
	m.bind(o, venueID)
	switch o.Status {
	case schema.OrderStatusPendingNew:
		o.Status = schema.OrderStatusActive
	case schema.OrderStatusPendingCancel:
		if o.prior == schema.OrderStatusPendingNew {
			o.prior = schema.OrderStatusActive
		}
	}
	if o.modify != nil {
		if o.modify.Price > 0 {
			o.Price = o.modify.Price
		}
		if o.modify.Qty > o.FilledQty {
			o.Qty = o.modify.Qty
			o.Remaining = o.Qty - o.FilledQty
		}
		o.modify = nil
	}
	o.UpdatedAt = ts
}

// ApplyCancelRequest moves a live order to PendingCancel, remembering its status.
func (m *StateMachine) ApplyCancelRequest(o *trackedOrder, ts int64) error {
	switch o.Status {
	case schema.OrderStatusPendingNew, schema.OrderStatusActive, schema.OrderStatusPartiallyFilled:
		o.prior = o.Status
		o.Status = schema.OrderStatusPendingCancel
		o.UpdatedAt = ts
		return nil
	case schema.OrderStatusPendingCancel:
		return errors.Wrapf(exception.ErrOrderInvalidState, "%s already pending cancel", o.ClientOrderID)
	default:
		return errors.Wrapf(exception.ErrOrderInvalidState, "%s is %s", o.ClientOrderID, o.Status)
	}
}

// ApplyCancelFailed restores the status held before the cancel request.
func (m *StateMachine) ApplyCancelFailed(o *trackedOrder, ts int64) {
	if o.Status != schema.OrderStatusPendingCancel {
		return
	}
	o.Status = o.prior
	if o.Status == schema.OrderStatusUnknown {
		o.Status = schema.OrderStatusActive
	}
	o.prior = schema.OrderStatusUnknown
	o.UpdatedAt = ts
}

// ApplyFill reduces the remaining quantity. An overfill is rejected without mutation.
func (m *StateMachine) ApplyFill(o *trackedOrder, fill schema.Fill) error {
	if fill.Qty <= 0 {
		return errors.Wrapf(exception.ErrOrderInvalidFill, "qty %v", fill.Qty)
	}
	if fill.Qty > o.Remaining+qtyEpsilon {
		return errors.Wrapf(exception.ErrOrderInvalidFill, "%s fill %v exceeds remaining %v", o.ClientOrderID, fill.Qty, o.Remaining)
	}
	m.bind(o, fill.VenueOrderID)

	o.FilledQty += fill.Qty
	o.Remaining = o.Qty - o.FilledQty
	if math.Abs(o.Remaining) < qtyEpsilon {
		o.Remaining = 0
		o.FilledQty = o.Qty
	}
	o.UpdatedAt = fill.Ts

	switch {
	case o.Remaining == 0:
		o.Status = schema.OrderStatusFilled
		m.close(o)
	case o.Status == schema.OrderStatusPendingCancel:
		o.prior = schema.OrderStatusPartiallyFilled
	default:
		o.Status = schema.OrderStatusPartiallyFilled
	}
	return nil
}

// ApplyTerminal ends an order with a venue driven status.
func (m *StateMachine) ApplyTerminal(o *trackedOrder, status schema.OrderStatus, ts int64) {
	o.Status = status
	o.UpdatedAt = ts
	m.close(o)
}

func (m *StateMachine) bind(o *trackedOrder, venueID string) {
	if venueID == "" || o.VenueOrderID != "" {
		return
	}
	o.VenueOrderID = venueID
	m.byVenue[venueID] = o.ClientOrderID
}

func (m *StateMachine) close(o *trackedOrder) {
	delete(m.active, o.ClientOrderID)
	if o.VenueOrderID != "" {
		delete(m.byVenue, o.VenueOrderID)
	}
	m.closed.put(o.ClientOrderID, o.Order)
}

// Replace swaps the active set for the venue view. Orders still PendingNew are
// kept since the venue may not have seen them yet; other local orders missing
// from the venue list are closed as canceled.
func (m *StateMachine) Replace(venue []schema.Order, ts int64) {
	seen := make(map[string]struct{}, len(venue))
	for _, vo := range venue {
		o, ok := m.lookup(vo.ClientOrderID, vo.VenueOrderID)
		if !ok {
			if m.closed.has(vo.ClientOrderID) || vo.ClientOrderID == "" {
				continue
			}
			vo.Status = liveStatus(vo)
			if vo.Remaining == 0 {
				vo.Remaining = vo.Qty - vo.FilledQty
			}
			o = &trackedOrder{Order: vo}
			m.active[vo.ClientOrderID] = o
			if vo.VenueOrderID != "" {
				m.byVenue[vo.VenueOrderID] = vo.ClientOrderID
			}
		} else {
			m.bind(o, vo.VenueOrderID)
			if vo.Qty > 0 {
				o.Qty = vo.Qty
			}
			if vo.Price > 0 {
				o.Price = vo.Price
			}
			if vo.FilledQty > o.FilledQty {
				o.FilledQty = vo.FilledQty
			}
			o.Remaining = o.Qty - o.FilledQty
			if o.Status != schema.OrderStatusPendingCancel {
				o.Status = liveStatus(o.Order)
			}
			o.UpdatedAt = ts
		}
		seen[o.ClientOrderID] = struct{}{}
	}

	for id, o := range m.active {
		if _, ok := seen[id]; ok || o.Status == schema.OrderStatusPendingNew {
			continue
		}
		m.ApplyTerminal(o, schema.OrderStatusCanceled, ts)
	}
}

func liveStatus(o schema.Order) schema.OrderStatus {
	if o.FilledQty > 0 {
		return schema.OrderStatusPartiallyFilled
	}
	return schema.OrderStatusActive
}
