package risk

import (
	"math"
	"time"

	"tradecore/internal/schema"
)

// Config defines static pre-trade limits. Zero disables a limit.
type Config struct {
	KillSwitch           bool          `json:"killSwitch"`
	MaxOrderQty          float64       `json:"maxOrderQty"`
	MaxOrderNotional     float64       `json:"maxOrderNotional"`
	MaxPosition          float64       `json:"maxPosition"`
	MaxGrossNotional     float64       `json:"maxGrossNotional"`
	MaxLeverage          float64       `json:"maxLeverage"`
	OrderRateLimit       int           `json:"orderRateLimit"`
	OrderRateWindow      time.Duration `json:"orderRateWindow"`
	MaxPriceDeviationBps float64       `json:"maxPriceDeviationBps"`
}

// Reason names the limit that denied an order.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonRateLimit
	ReasonMaxQty
	ReasonPriceBand
	ReasonMaxNotional
	ReasonPositionLimit
	ReasonGrossLimit
	ReasonLeverage
)

var reasonNames = [...]string{
	ReasonNone:          "none",
	ReasonKillSwitch:    "kill switch",
	ReasonRateLimit:     "rate limit",
	ReasonMaxQty:        "max order qty",
	ReasonPriceBand:     "price band",
	ReasonMaxNotional:   "max order notional",
	ReasonPositionLimit: "position limit",
	ReasonGrossLimit:    "gross notional limit",
	ReasonLeverage:      "leverage limit",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// StateView provides the account state an order is checked against.
type StateView struct {
	Position       float64
	ReferencePrice float64
	GrossNotional  float64
	Equity         float64
	Now            int64
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Engine evaluates risk decisions.
type Engine struct {
	cfg             Config
	rateWindowStart int64
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// SetKillSwitch flips the kill switch at runtime.
func (e *Engine) SetKillSwitch(on bool) {
	e.cfg.KillSwitch = on
}

// Evaluate applies the configured checks to req. Market orders are checked at
// the reference price.
func (e *Engine) Evaluate(req schema.OrderRequest, state StateView) Decision {
	if e == nil {
		return Decision{Allow: true}
	}
	if e.cfg.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	now := state.Now
	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		window := int64(e.cfg.OrderRateWindow)
		if e.rateWindowStart == 0 || now-e.rateWindowStart >= window {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return deny(ReasonRateLimit)
		}
	}

	if e.cfg.MaxOrderQty > 0 && req.Qty > e.cfg.MaxOrderQty {
		return deny(ReasonMaxQty)
	}

	px := req.Price
	if req.Kind == schema.OrderKindMarketIOC || px <= 0 {
		px = state.ReferencePrice
	}

	if e.cfg.MaxPriceDeviationBps > 0 && req.Kind != schema.OrderKindMarketIOC && req.Price > 0 && state.ReferencePrice > 0 {
		dev := math.Abs(req.Price-state.ReferencePrice) / state.ReferencePrice * 1e4
		if dev > e.cfg.MaxPriceDeviationBps {
			return deny(ReasonPriceBand)
		}
	}

	notional := math.Abs(px * req.Qty)
	if e.cfg.MaxOrderNotional > 0 && notional > e.cfg.MaxOrderNotional {
		return deny(ReasonMaxNotional)
	}

	nextPos := state.Position + req.Side.Sign()*req.Qty
	if e.cfg.MaxPosition > 0 && math.Abs(nextPos) > e.cfg.MaxPosition {
		return deny(ReasonPositionLimit)
	}

	// only orders that grow exposure count against the gross limits
	growing := math.Abs(nextPos) > math.Abs(state.Position)
	gross := state.GrossNotional
	if growing {
		gross += notional
	}
	if growing && e.cfg.MaxGrossNotional > 0 && gross > e.cfg.MaxGrossNotional {
		return deny(ReasonGrossLimit)
	}
	if growing && e.cfg.MaxLeverage > 0 {
		if state.Equity <= 0 || gross/state.Equity > e.cfg.MaxLeverage {
			return deny(ReasonLeverage)
		}
	}

	return Decision{Allow: true}
}

func deny(reason Reason) Decision {
	return Decision{Allow: false, Reason: reason}
}
