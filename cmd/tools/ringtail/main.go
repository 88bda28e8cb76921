package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"tradecore/internal/codec"
	"tradecore/internal/core"
	"tradecore/internal/ops"
	"tradecore/internal/ring"
)

func main() {
	dir := flag.String("dir", ring.DefaultDir, "Ring segment directory")
	name := flag.String("name", "bbo", "Ring segment name")
	count := flag.Int("count", 0, "Stop after N records (0=unlimited)")
	idle := flag.Duration("idle", time.Millisecond, "Sleep when caught up with the writer")
	flag.Parse()

	base := core.New()
	ctx, cancel := ops.ShutdownContext(context.Background())
	defer cancel()

	// the read position is shared, so records read here are not seen by a trader on the same ring
	ch, err := ring.Open(base, ring.Option{Dir: *dir, Name: *name})
	if err != nil {
		log.Fatalf("ring open failed: %+v", err)
	}
	defer ch.Close()

	buf := make([]byte, codec.BBORecordSize)
	var index, invalid int
	for ctx.Err() == nil && (*count == 0 || index < *count) {
		ok, err := ch.ReadInto(buf)
		if err != nil {
			log.Fatalf("ring read failed: %+v", err)
		}
		if !ok {
			_ = base.Clock.Sleep(ctx, *idle)
			continue
		}
		bbo, valid := codec.DecodeBBO(buf)
		if !valid {
			invalid++
			continue
		}
		index++
		fmt.Printf("%06d %s seq=%d bid=%v x %v ask=%v x %v ts_event=%d ts_recv=%d\n",
			index, bbo.Symbol, bbo.Sequence, bbo.BidPrice, bbo.BidQty, bbo.AskPrice, bbo.AskQty, bbo.TsEvent, bbo.TsRecv)
	}

	stats := ch.Stats()
	write, read := ch.Positions()
	fmt.Printf("records=%d invalid=%d laps=%d write=%d read=%d\n", index, invalid, stats.Laps, write, read)
}
