package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"

	"tradecore/internal/book"
	"tradecore/internal/bus"
	"tradecore/internal/core"
	"tradecore/internal/market"
	"tradecore/internal/ops"
	"tradecore/internal/recorder"
	"tradecore/internal/schema"
	"tradecore/internal/simvenue"
	"tradecore/internal/venue/binance"
)

func main() {
	dir := flag.String("dir", "testdata/capture", "Capture directory")
	prefix := flag.String("prefix", "", "Capture file prefix (default: feed)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	fetch := flag.Bool("fetch", false, "Fetch depth snapshots over REST instead of leaving books unsynced")
	restURL := flag.String("rest-url", binance.DefaultRESTURL, "REST base URL for -fetch")
	verbose := flag.Bool("v", false, "Print every decoded event")
	flag.Parse()

	base := core.New()
	ctx, cancel := ops.ShutdownContext(context.Background())
	defer cancel()

	pb, err := recorder.NewPlayback(base, recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %+v", err)
	}

	fetched := bus.NewQueue[schema.Event](64)
	requests := &requestCounter{}
	var requester book.SnapshotRequester = requests
	if *fetch {
		fetcher := binance.NewSnapshotFetcher(base, binance.SnapshotOption{BaseURL: *restURL}, fetched)
		defer fetcher.Close()
		requester = requests.wrap(fetcher)
	}

	books := book.NewRegistry(base, requester, book.ReconstructorOption{}, book.NewBBOBook(base, book.BBOOption{}))
	hub := market.NewHub(1024)
	venue := simvenue.New(base, simvenue.Config{}, simvenue.SinkFunc(func(schema.Event) {}), hub.Marks)
	dec := binance.NewDecoder()

	kinds := make(map[schema.EventKind]int)
	var decodeErrors, bookErrors int
	handle := func(ev schema.Event) {
		kinds[ev.Kind()]++
		if *verbose {
			fmt.Printf("%s %+v\n", ev.Kind(), ev)
		}
		switch e := ev.(type) {
		case schema.DepthDiff:
			books.Add(e.Symbol)
		case schema.BookSnapshot:
			books.Add(e.Symbol)
		case schema.Trade:
			venue.OnTrade(e)
		}
		if err := books.Handle(ev); err != nil {
			bookErrors++
		}
		hub.Handle(ev)
	}

	n, err := pb.Run(ctx, func(rec recorder.Record) error {
		ev, err := dec.Decode(rec.Payload, rec.RecvTs)
		if err != nil {
			decodeErrors++
		} else if ev != nil {
			handle(ev)
		}
		fetched.Drain(0, handle)
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %+v", err)
	}

	fmt.Printf("records=%d decode_errors=%d book_errors=%d acks=%d unknown=%d snapshot_requests=%d\n",
		n, decodeErrors, bookErrors, dec.Acks(), dec.Unknown(), requests.n)
	names := make([]string, 0, len(kinds))
	counts := make(map[string]int, len(kinds))
	for k, c := range kinds {
		names = append(names, k.String())
		counts[k.String()] = c
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-16s %d\n", name, counts[name])
	}
	for _, symbol := range books.Symbols() {
		rc, _ := books.Get(symbol)
		fmt.Printf("  book %-12s state=%s updates=%d resyncs=%d stale=%d buffered=%d update_id=%d\n",
			symbol, rc.State(), rc.Updates(), rc.Resyncs(), rc.StaleDiffs(), rc.Buffered(), rc.UpdateID())
	}
}

// requestCounter counts snapshot requests and forwards them when wrapping a fetcher.
type requestCounter struct {
	n    int
	next book.SnapshotRequester
}

func (r *requestCounter) wrap(next book.SnapshotRequester) *requestCounter {
	r.next = next
	return r
}

func (r *requestCounter) RequestSnapshot(symbol string) {
	r.n++
	if r.next != nil {
		r.next.RequestSnapshot(symbol)
	}
}
