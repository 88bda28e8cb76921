package binance

import (
	"tradecore/internal/core"
	"tradecore/internal/schema"
	"tradecore/pkg/websocket"
)

// Publisher accepts decoded events without blocking.
type Publisher interface {
	TryPublish(ev schema.Event) error
}

// Handler decodes supervisor frames and hands the events to the dispatcher.
type Handler struct {
	ctx core.Context
	dec *Decoder
	out Publisher
}

// NewHandler publishes into out. dec may be shared between handlers.
func NewHandler(ctx core.Context, dec *Decoder, out Publisher) *Handler {
	if dec == nil {
		dec = NewDecoder()
	}
	return &Handler{
		ctx: core.Resolve(ctx).Named("binance"),
		dec: dec,
		out: out,
	}
}

func (h *Handler) OnFrame(frame websocket.Frame) error {
	ev, err := h.dec.Decode(frame.Payload, frame.ReceivedAt.UnixNano())
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}
	return h.out.TryPublish(ev)
}
