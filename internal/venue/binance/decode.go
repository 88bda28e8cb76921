package binance

import (
	"strconv"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/schema"
	"tradecore/pkg/exception"
	"tradecore/pkg/scanner"
)

var (
	keyStream = []byte(`"stream"`)
	keyEvent  = []byte(`"e"`)
	keyResult = []byte(`"result"`)
	keyID     = []byte(`"id"`)
	keyCode   = []byte(`"code"`)
	keyBid    = []byte(`"b"`)
	keyAsk    = []byte(`"a"`)
	keyUpdate = []byte(`"u"`)
)

const (
	eventBookTicker  = "bookTicker"
	eventDepth       = "depthUpdate"
	eventAggTrade    = "aggTrade"
	eventForceOrder  = "forceOrder"
	eventMarkPrice   = "markPriceUpdate"
	eventOrderUpdate = "ORDER_TRADE_UPDATE"
	eventAccount     = "ACCOUNT_UPDATE"
)

// Decoder turns venue payloads into schema events. Safe for concurrent use.
type Decoder struct {
	acks    atomic.Uint64
	unknown atomic.Uint64
}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Acks counts subscription acknowledgements seen.
func (d *Decoder) Acks() uint64 { return d.acks.Load() }

// Unknown counts payloads with an event type the decoder does not handle.
func (d *Decoder) Unknown() uint64 { return d.unknown.Load() }

// Decode parses one payload. recvTs is the local receipt time in unix
// nanoseconds. Control acknowledgements return a nil event and no error.
func (d *Decoder) Decode(payload []byte, recvTs int64) (schema.Event, error) {
	if len(payload) == 0 {
		return nil, exception.ErrMalformedPayload
	}

	data := payload
	if scanner.Has(payload, keyStream) {
		var env envelope
		if err := sonic.ConfigFastest.Unmarshal(payload, &env); err != nil {
			return nil, errors.Wrap(exception.ErrMalformedPayload, err.Error())
		}
		data = env.Data
	}

	event, ok := scanner.String(data, keyEvent)
	if !ok {
		return d.decodeUntyped(data, recvTs)
	}

	switch string(event) {
	case eventBookTicker:
		return decodeBookTicker(data, recvTs)
	case eventDepth:
		return decodeDepth(data, recvTs)
	case eventAggTrade:
		return decodeAggTrade(data, recvTs)
	case eventForceOrder:
		return decodeForceOrder(data, recvTs)
	case eventMarkPrice:
		return decodeMarkPrice(data, recvTs)
	case eventOrderUpdate:
		return decodeOrderUpdate(data)
	case eventAccount:
		return decodeAccountUpdate(data)
	default:
		d.unknown.Add(1)
		return nil, errors.Wrap(exception.ErrUnknownEvent, string(event))
	}
}

// decodeUntyped handles payloads without "e": control acks, errors and the
// spot style book ticker.
func (d *Decoder) decodeUntyped(data []byte, recvTs int64) (schema.Event, error) {
	if scanner.Has(data, keyResult) && scanner.Has(data, keyID) {
		if scanner.IsNull(data, keyResult) {
			d.acks.Add(1)
			return nil, nil
		}
	}
	if scanner.Has(data, keyCode) {
		var p errorPayload
		if err := sonic.ConfigFastest.Unmarshal(data, &p); err == nil && p.Code != 0 {
			return nil, errors.Wrapf(exception.ErrWebSocketProtocol, "code: %d, msg: %s", p.Code, p.Msg)
		}
	}
	if scanner.Has(data, keyUpdate) && scanner.Has(data, keyBid) && scanner.Has(data, keyAsk) {
		return decodeBookTicker(data, recvTs)
	}
	d.unknown.Add(1)
	return nil, exception.ErrUnknownEvent
}

func decodeBookTicker(data []byte, recvTs int64) (schema.Event, error) {
	var p bookTickerPayload
	if err := sonic.ConfigFastest.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedPayload, err.Error())
	}
	ts := p.TradeTime
	if ts == 0 {
		ts = p.EventTime
	}
	return schema.BBO{
		Symbol:   p.Symbol,
		Sequence: p.UpdateID,
		BidPrice: p.BidPrice.InexactFloat64(),
		BidQty:   p.BidQty.InexactFloat64(),
		AskPrice: p.AskPrice.InexactFloat64(),
		AskQty:   p.AskQty.InexactFloat64(),
		TsEvent:  millis(ts),
		TsRecv:   recvTs,
	}, nil
}

func decodeDepth(data []byte, recvTs int64) (schema.Event, error) {
	var p depthPayload
	if err := sonic.ConfigFastest.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedPayload, err.Error())
	}
	bids, err := levels(p.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := levels(p.Asks)
	if err != nil {
		return nil, err
	}
	return schema.DepthDiff{
		Symbol:        p.Symbol,
		FirstUpdateID: p.FirstUpdateID,
		FinalUpdateID: p.FinalUpdateID,
		PrevUpdateID:  p.PrevUpdateID,
		Bids:          bids,
		Asks:          asks,
		TsEvent:       millis(p.EventTime),
		TsRecv:        recvTs,
	}, nil
}

func decodeAggTrade(data []byte, recvTs int64) (schema.Event, error) {
	var p aggTradePayload
	if err := sonic.ConfigFastest.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedPayload, err.Error())
	}
	// the buyer being the maker means the seller crossed the spread
	aggressor := schema.SideBuy
	if p.BuyerIsMaker {
		aggressor = schema.SideSell
	}
	return schema.Trade{
		Symbol:    p.Symbol,
		TradeID:   p.AggTradeID,
		Price:     p.Price.InexactFloat64(),
		Qty:       p.Qty.InexactFloat64(),
		Aggressor: aggressor,
		TsEvent:   millis(p.TradeTime),
		TsRecv:    recvTs,
	}, nil
}

func decodeForceOrder(data []byte, recvTs int64) (schema.Event, error) {
	var p forceOrderPayload
	if err := sonic.ConfigFastest.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedPayload, err.Error())
	}
	price := p.Order.AvgPrice
	if price.IsZero() {
		price = p.Order.Price
	}
	return schema.Liquidation{
		Symbol:  p.Order.Symbol,
		Side:    parseSide(p.Order.Side),
		Price:   price.InexactFloat64(),
		Qty:     p.Order.Qty.InexactFloat64(),
		Status:  p.Order.Status,
		TsEvent: millis(p.Order.TradeTime),
		TsRecv:  recvTs,
	}, nil
}

func decodeMarkPrice(data []byte, recvTs int64) (schema.Event, error) {
	var p markPricePayload
	if err := sonic.ConfigFastest.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedPayload, err.Error())
	}
	return schema.MarkPrice{
		Symbol:        p.Symbol,
		Mark:          p.Mark.InexactFloat64(),
		Index:         p.Index.InexactFloat64(),
		FundingRate:   p.FundingRate.InexactFloat64(),
		NextFundingTs: millis(p.NextFunding),
		TsEvent:       millis(p.EventTime),
		TsRecv:        recvTs,
	}, nil
}

func decodeOrderUpdate(data []byte) (schema.Event, error) {
	var p orderUpdatePayload
	if err := sonic.ConfigFastest.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedPayload, err.Error())
	}
	o := p.Order
	venueID := strconv.FormatUint(o.OrderID, 10)
	ts := millis(o.TradeTime)
	if ts == 0 {
		ts = millis(p.EventTime)
	}

	resp := schema.OrderResponse{
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  venueID,
		UpdateTime:    ts,
	}
	switch o.ExecType {
	case "TRADE":
		return schema.Fill{
			ClientOrderID: o.ClientOrderID,
			VenueOrderID:  venueID,
			VenueFillID:   strconv.FormatUint(o.TradeID, 10),
			Symbol:        o.Symbol,
			Side:          parseSide(o.Side),
			Qty:           o.LastQty.InexactFloat64(),
			Price:         o.LastPrice.InexactFloat64(),
			Fee:           o.Commission.InexactFloat64(),
			Maker:         o.Maker,
			Ts:            ts,
		}, nil
	case "NEW", "AMENDMENT":
		resp.Status = schema.ResponseResting
	case "CANCELED":
		resp.Status = schema.ResponseCanceled
	case "EXPIRED":
		resp.Status = schema.ResponseExpired
	case "REJECTED":
		resp.Status = schema.ResponseRejected
		resp.ErrorMsg = o.Status
	default:
		return nil, errors.Wrap(exception.ErrUnknownEvent, "execution type "+o.ExecType)
	}
	return resp, nil
}

func decodeAccountUpdate(data []byte) (schema.Event, error) {
	var p accountUpdatePayload
	if err := sonic.ConfigFastest.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedPayload, err.Error())
	}
	snap := schema.AccountSnapshot{
		Venue:     VenueName,
		Positions: make([]schema.Position, 0, len(p.Account.Positions)),
		Balances:  make([]schema.Balance, 0, len(p.Account.Balances)),
		Ts:        millis(p.EventTime),
	}
	for _, b := range p.Account.Balances {
		snap.Balances = append(snap.Balances, schema.Balance{
			Asset:     b.Asset,
			Wallet:    b.Wallet.InexactFloat64(),
			Available: b.CrossWallet.InexactFloat64(),
		})
	}
	for _, pos := range p.Account.Positions {
		snap.Positions = append(snap.Positions, schema.Position{
			Symbol:        pos.Symbol,
			Qty:           pos.Amount.InexactFloat64(),
			EntryPrice:    pos.EntryPrice.InexactFloat64(),
			UnrealizedPnL: pos.Unrealized.InexactFloat64(),
		})
	}
	return snap, nil
}

func levels(raw [][]decimal.Decimal) ([]schema.BookLevel, error) {
	out := make([]schema.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			return nil, errors.Wrapf(exception.ErrMalformedPayload, "level with %d fields", len(lvl))
		}
		out = append(out, schema.BookLevel{
			Price: lvl[0].InexactFloat64(),
			Size:  lvl[1].InexactFloat64(),
		})
	}
	return out, nil
}

func parseSide(s string) schema.Side {
	switch s {
	case "BUY":
		return schema.SideBuy
	case "SELL":
		return schema.SideSell
	default:
		return schema.SideUnknown
	}
}

func millis(ms int64) int64 {
	return ms * 1_000_000
}
