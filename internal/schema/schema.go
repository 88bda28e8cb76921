package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventKind defines the category of an event handed from the venue boundary to the dispatcher.
type EventKind uint16

const (
	EventUnknown EventKind = iota
	EventBBO
	EventDepth
	EventSnapshot
	EventTrade
	EventLiquidation
	EventMarkPrice
	EventOrderResponse
	EventBatchResponse
	EventFill
	EventAccount
	EventOpenOrders
)

var eventKindNames = [...]string{
	EventUnknown:       "unknown",
	EventBBO:           "bbo",
	EventDepth:         "depth",
	EventSnapshot:      "snapshot",
	EventTrade:         "trade",
	EventLiquidation:   "liquidation",
	EventMarkPrice:     "mark_price",
	EventOrderResponse: "order_response",
	EventBatchResponse: "batch_response",
	EventFill:          "fill",
	EventAccount:       "account",
	EventOpenOrders:    "open_orders",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return eventKindNames[EventUnknown]
}

// Event is a parsed, immutable wire event. Concrete types are defined in this package.
type Event interface {
	Kind() EventKind
}

func (BBO) Kind() EventKind             { return EventBBO }
func (DepthDiff) Kind() EventKind       { return EventDepth }
func (BookSnapshot) Kind() EventKind    { return EventSnapshot }
func (Trade) Kind() EventKind           { return EventTrade }
func (Liquidation) Kind() EventKind     { return EventLiquidation }
func (MarkPrice) Kind() EventKind       { return EventMarkPrice }
func (OrderResponse) Kind() EventKind   { return EventOrderResponse }
func (BatchResponse) Kind() EventKind   { return EventBatchResponse }
func (Fill) Kind() EventKind            { return EventFill }
func (AccountSnapshot) Kind() EventKind { return EventAccount }
func (OpenOrders) Kind() EventKind      { return EventOpenOrders }
