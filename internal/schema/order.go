package schema

// Side describes order direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Sign returns +1 for buys, -1 for sells and 0 otherwise.
func (s Side) Sign() float64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// OrderKind describes how the venue should treat the order.
type OrderKind uint8

const (
	OrderKindUnknown OrderKind = iota
	OrderKindLimitPostOnly
	OrderKindLimitGTC
	OrderKindMarketIOC
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindLimitPostOnly:
		return "limit_post_only"
	case OrderKindLimitGTC:
		return "limit_gtc"
	case OrderKindMarketIOC:
		return "market_ioc"
	default:
		return "unknown"
	}
}

// OrderStatus is the local lifecycle state of an order.
type OrderStatus uint8

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPendingNew
	OrderStatusActive
	OrderStatusPartiallyFilled
	OrderStatusPendingCancel
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
	OrderStatusExpired
)

var orderStatusNames = [...]string{
	OrderStatusUnknown:         "unknown",
	OrderStatusPendingNew:      "pending_new",
	OrderStatusActive:          "active",
	OrderStatusPartiallyFilled: "partially_filled",
	OrderStatusPendingCancel:   "pending_cancel",
	OrderStatusFilled:          "filled",
	OrderStatusCanceled:        "canceled",
	OrderStatusRejected:        "rejected",
	OrderStatusExpired:         "expired",
}

func (s OrderStatus) String() string {
	if int(s) < len(orderStatusNames) {
		return orderStatusNames[s]
	}
	return orderStatusNames[OrderStatusUnknown]
}

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Live reports whether the order may still trade at the venue.
func (s OrderStatus) Live() bool {
	switch s {
	case OrderStatusPendingNew, OrderStatusActive, OrderStatusPartiallyFilled, OrderStatusPendingCancel:
		return true
	default:
		return false
	}
}

// OrderRequest is what a strategy asks the OMS to place.
type OrderRequest struct {
	Symbol string
	Side   Side
	Kind   OrderKind
	Qty    float64
	Price  float64
}

// Order holds the OMS view of an order.
type Order struct {
	ClientOrderID string
	VenueOrderID  string
	Symbol        string
	Side          Side
	Kind          OrderKind
	Qty           float64
	Remaining     float64
	FilledQty     float64
	Price         float64
	Status        OrderStatus
	CreatedAt     int64
	UpdatedAt     int64
}

// Fill is an execution reported by the venue. VenueFillID is unique per venue.
type Fill struct {
	ClientOrderID string
	VenueOrderID  string
	VenueFillID   string
	Symbol        string
	Side          Side
	Qty           float64
	Price         float64
	Fee           float64
	Maker         bool
	Ts            int64
}

// Notional returns qty * price.
func (f Fill) Notional() float64 {
	return f.Qty * f.Price
}

// SubmissionKind is the envelope type sent to a venue adapter.
type SubmissionKind uint8

const (
	SubmissionUnknown SubmissionKind = iota
	SubmissionBulk
	SubmissionMarket
	SubmissionCancel
	SubmissionModify
)

func (k SubmissionKind) String() string {
	switch k {
	case SubmissionBulk:
		return "bulk"
	case SubmissionMarket:
		return "market"
	case SubmissionCancel:
		return "cancel"
	case SubmissionModify:
		return "modify"
	default:
		return "unknown"
	}
}

// Submission is the order envelope forwarded to a venue.
type Submission struct {
	Kind        SubmissionKind
	Venue       string
	Orders      []Order
	SubmittedAt int64
}

// ResponseStatus is the venue outcome for one order.
type ResponseStatus uint8

const (
	ResponseUnknown ResponseStatus = iota
	ResponseResting
	ResponseRejected
	ResponseCanceled
	ResponseCancelFailed
	ResponseModifyFailed
	ResponseExpired
)

func (s ResponseStatus) String() string {
	switch s {
	case ResponseResting:
		return "resting"
	case ResponseRejected:
		return "rejected"
	case ResponseCanceled:
		return "canceled"
	case ResponseCancelFailed:
		return "cancel_failed"
	case ResponseModifyFailed:
		return "modify_failed"
	case ResponseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// OrderResponse is the venue answer for a single order.
type OrderResponse struct {
	ClientOrderID string
	VenueOrderID  string
	Status        ResponseStatus
	UpdateTime    int64
	ErrorMsg      string
}

// BatchResponse groups the per-order results of one submission.
type BatchResponse struct {
	Kind    SubmissionKind
	Results []OrderResponse
}
