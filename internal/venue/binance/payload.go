package binance

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerPayload struct {
	Event     string          `json:"e"`
	UpdateID  uint64          `json:"u"`
	EventTime int64           `json:"E"`
	TradeTime int64           `json:"T"`
	Symbol    string          `json:"s"`
	BidPrice  decimal.Decimal `json:"b"`
	BidQty    decimal.Decimal `json:"B"`
	AskPrice  decimal.Decimal `json:"a"`
	AskQty    decimal.Decimal `json:"A"`
}

type depthPayload struct {
	Event         string              `json:"e"`
	EventTime     int64               `json:"E"`
	TradeTime     int64               `json:"T"`
	Symbol        string              `json:"s"`
	FirstUpdateID uint64              `json:"U"`
	FinalUpdateID uint64              `json:"u"`
	PrevUpdateID  uint64              `json:"pu"`
	Bids          [][]decimal.Decimal `json:"b"`
	Asks          [][]decimal.Decimal `json:"a"`
}

type aggTradePayload struct {
	Event        string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	AggTradeID   uint64          `json:"a"`
	Price        decimal.Decimal `json:"p"`
	Qty          decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	BuyerIsMaker bool            `json:"m"`
}

type forceOrderPayload struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol    string          `json:"s"`
		Side      string          `json:"S"`
		Price     decimal.Decimal `json:"p"`
		AvgPrice  decimal.Decimal `json:"ap"`
		Qty       decimal.Decimal `json:"q"`
		Status    string          `json:"X"`
		TradeTime int64           `json:"T"`
	} `json:"o"`
}

type markPricePayload struct {
	Event       string          `json:"e"`
	EventTime   int64           `json:"E"`
	Symbol      string          `json:"s"`
	Mark        decimal.Decimal `json:"p"`
	Index       decimal.Decimal `json:"i"`
	FundingRate decimal.Decimal `json:"r"`
	NextFunding int64           `json:"T"`
}

type orderUpdatePayload struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	TxTime    int64  `json:"T"`
	Order     struct {
		Symbol        string          `json:"s"`
		ClientOrderID string          `json:"c"`
		Side          string          `json:"S"`
		Type          string          `json:"o"`
		TimeInForce   string          `json:"f"`
		Qty           decimal.Decimal `json:"q"`
		Price         decimal.Decimal `json:"p"`
		ExecType      string          `json:"x"`
		Status        string          `json:"X"`
		OrderID       uint64          `json:"i"`
		LastQty       decimal.Decimal `json:"l"`
		CumQty        decimal.Decimal `json:"z"`
		LastPrice     decimal.Decimal `json:"L"`
		Commission    decimal.Decimal `json:"n"`
		TradeTime     int64           `json:"T"`
		TradeID       uint64          `json:"t"`
		Maker         bool            `json:"m"`
	} `json:"o"`
}

type accountUpdatePayload struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	TxTime    int64  `json:"T"`
	Account   struct {
		Reason   string `json:"m"`
		Balances []struct {
			Asset       string          `json:"a"`
			Wallet      decimal.Decimal `json:"wb"`
			CrossWallet decimal.Decimal `json:"cw"`
		} `json:"B"`
		Positions []struct {
			Symbol     string          `json:"s"`
			Amount     decimal.Decimal `json:"pa"`
			EntryPrice decimal.Decimal `json:"ep"`
			Unrealized decimal.Decimal `json:"up"`
		} `json:"P"`
	} `json:"a"`
}

type depthSnapshotPayload struct {
	LastUpdateID uint64              `json:"lastUpdateId"`
	EventTime    int64               `json:"E"`
	TxTime       int64               `json:"T"`
	Bids         [][]decimal.Decimal `json:"bids"`
	Asks         [][]decimal.Decimal `json:"asks"`
}

type errorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
