package main

import (
	"context"

	"tradecore/internal/bus"
	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/schema"
	"tradecore/internal/simvenue"
)

// venueSink queues venue acks, fills and account snapshots for the OMS. It
// waits for room until ctx is done; market data travels on its own queue.
func venueSink(ctx context.Context, base core.Context, orders *bus.Queue[schema.Event], metrics *obs.Metrics) simvenue.SinkFunc {
	return func(ev schema.Event) {
		if err := orders.Publish(ctx, ev); err != nil {
			metrics.IncQueueDrop("orders")
			base.Log.Errorf("drop venue %s, err: %+v", ev.Kind(), err)
		}
	}
}
