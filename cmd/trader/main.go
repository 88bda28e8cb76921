package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"tradecore/internal/book"
	"tradecore/internal/bus"
	"tradecore/internal/core"
	"tradecore/internal/dispatch"
	"tradecore/internal/market"
	"tradecore/internal/obs"
	"tradecore/internal/oms"
	"tradecore/internal/ops"
	"tradecore/internal/recorder"
	"tradecore/internal/ring"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/shmfeed"
	"tradecore/internal/simvenue"
	"tradecore/internal/state"
	"tradecore/internal/store"
	"tradecore/internal/venue/binance"
	"tradecore/pkg/conn"
	"tradecore/pkg/websocket"
)

const (
	captureFeedDepth    uint16 = 2
	defaultTradeHistory        = 4096
	accountEvery               = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	recoverState := flag.Bool("recover", true, "Rebuild positions from the state file and fill journal")
	quoteQty := flag.Float64("quote-qty", 0, "Quote size at the touch of every symbol (0=disable)")
	requote := flag.Duration("requote", 10*time.Second, "Cancel and requote after resting this long")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %+v", err)
	}

	base := core.New()
	ctx, cancel := ops.ShutdownContext(context.Background())
	defer cancel()

	stopProfiler, err := ops.StartProfiler(base, cfg.Env, map[string]string{"binary": "trader", "venue": cfg.Venue.Name})
	if err != nil {
		log.Fatalf("profiler start failed: %+v", err)
	}
	defer stopProfiler()

	metrics := obs.NewMetrics()
	events := bus.NewQueue[schema.Event](cfg.Feed.QueueSize)
	orders := bus.NewQueue[schema.Event](cfg.Feed.QueueSize)

	fetcher := binance.NewSnapshotFetcher(base, cfg.Snapshot, events)
	defer fetcher.Close()

	cfg.Book.Metrics = metrics
	bbo := book.NewBBOBook(base, book.BBOOption{SnapEvery: cfg.Book.SnapEvery, MaxSnaps: cfg.Book.MaxSnaps, Metrics: metrics})
	books := book.NewRegistry(base, fetcher, cfg.Book, bbo)
	for _, symbol := range cfg.Symbols {
		books.Add(symbol)
	}
	hub := market.NewHub(defaultTradeHistory)
	marks := market.Fallback{hub.Marks, bbo}

	cfg.Sim.Session = strconv.FormatInt(base.Clock.Now().Unix(), 36)
	venue := simvenue.New(base, cfg.Sim, venueSink(ctx, base, orders, metrics), marks)
	router := oms.NewAsyncRouter(base, venue, oms.AsyncRouterOption{Metrics: metrics})

	var journal *store.Journal
	if cfg.Env.SQLitePath != "" {
		journal, err = store.OpenJournal(base, cfg.Env.SQLitePath, cfg.Venue.Name)
		if err != nil {
			log.Fatalf("journal open failed: %+v", err)
		}
		defer journal.Close()
	}

	var snapshots *store.SnapshotStore
	if cfg.Env.PostgresDSN != "" {
		pg, err := conn.NewPostgres(conn.PostgresOption{ConnString: cfg.Env.PostgresDSN})
		if err != nil {
			log.Fatalf("postgres connect failed: %+v", err)
		}
		defer pg.Close()
		snapshots, err = store.NewSnapshotStore(pg.DB())
		if err != nil {
			log.Fatalf("snapshot store init failed: %+v", err)
		}
	}

	omsCfg := cfg.OMS
	omsCfg.Risk = risk.NewEngine(cfg.Risk)
	omsCfg.Marks = marks
	omsCfg.Metrics = metrics
	if journal != nil {
		omsCfg.Journal = journal
	}
	manager := oms.NewManager(base, omsCfg, router)

	if *recoverState {
		res, err := recoverAccount(ctx, cfg, journal, snapshots)
		if err != nil {
			log.Fatalf("recover failed: %+v", err)
		}
		manager.Restore(res)
		venue.Restore(res.Positions.Positions(), res.Balances)
		base.Log.Infof("recovered %d positions, replayed %d fills", res.Positions.Count(), res.Replayed)
	}

	var tap func(websocket.Frame)
	if cfg.Capture != nil {
		capCfg := *cfg.Capture
		capCfg.Metrics = metrics
		writer, err := recorder.NewWriter(base, capCfg)
		if err != nil {
			log.Fatalf("capture init failed: %+v", err)
		}
		if err := writer.Start(ctx); err != nil {
			log.Fatalf("capture start failed: %+v", err)
		}
		defer writer.Close()
		tap = writer.Tap(captureFeedDepth)
	}

	depth, err := websocket.NewSupervisor(base, websocket.Config{
		Name:    "depth",
		Dialer:  websocket.NewDialer(cfg.Venue.StreamURL, base.TLS),
		Encoder: binance.Codec{},
		Handler: binance.NewHandler(base, nil, events),
		Topics: binance.Streams(cfg.Symbols,
			binance.StreamDepth, binance.StreamAggTrade, binance.StreamForceOrder, binance.StreamMarkPrice),
		WarnThreshold:    cfg.Feed.WarnThreshold,
		TimeoutThreshold: cfg.Feed.TimeoutThreshold,
		PingInterval:     cfg.Feed.PingInterval,
		MaxConnectionAge: cfg.Feed.MaxConnectionAge,
		Tap:              tap,
		Metrics:          metrics,
	})
	if err != nil {
		log.Fatalf("supervisor init failed: %+v", err)
	}

	dispatchOpt := cfg.Dispatch
	dispatchOpt.Metrics = metrics
	if cfg.Duration > 0 {
		dispatchOpt.EndTime = base.Clock.Now().Add(cfg.Duration)
	}
	loop := dispatch.NewLoop(base, dispatchOpt)

	route := func(ev schema.Event) error {
		switch ev.Kind() {
		case schema.EventDepth, schema.EventSnapshot, schema.EventBBO:
			return books.Handle(ev)
		case schema.EventTrade:
			hub.Handle(ev)
			venue.Handle(ev)
			return nil
		case schema.EventLiquidation:
			hub.Handle(ev)
			return nil
		case schema.EventMarkPrice:
			hub.Handle(ev)
		}
		return manager.Handle(ev)
	}

	dumpState := func(time.Time) error {
		snap := manager.Snapshot()
		if err := state.WriteSnapshot(cfg.State.Path, snap); err != nil {
			return err
		}
		if snapshots != nil {
			return snapshots.Save(ctx, snap)
		}
		return nil
	}

	loop.Add(shmfeed.NewSource(base, shmfeed.SourceOption{
		Ring:    ring.Option{Dir: cfg.Ring.Dir, Name: cfg.Ring.Name, Metrics: metrics},
		MaxAge:  cfg.Ring.MaxAge,
		Metrics: metrics,
	}, books))
	loop.Add(dispatch.NewChanSource("orders", orders, 0, manager.Handle))
	loop.Add(dispatch.NewChanSource("events", events, 0, route))
	loop.Add(dispatch.NewTimerSource("account", base.Clock, accountEvery, func(time.Time) error {
		venue.PublishAccount()
		return nil
	}))
	loop.Add(dispatch.NewTimerSource("state", base.Clock, cfg.State.Every, dumpState))
	if *quoteQty > 0 {
		q := newQuoter(manager, bbo, cfg.Symbols, *quoteQty, *requote)
		loop.Add(dispatch.NewTimerSource("quoter", base.Clock, time.Second, q.tick))
	}

	loop.Go(ctx, router.Run)
	loop.Go(ctx, func(ctx context.Context) {
		if err := depth.Run(ctx); err != nil && ctx.Err() == nil {
			base.Log.Errorf("depth supervisor stopped, err: %+v", err)
		}
	})
	if cfg.Metrics.Addr != "" {
		loop.Go(ctx, func(ctx context.Context) {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				base.Log.Errorf("metrics server, err: %+v", err)
			}
		})
	}

	// the account snapshot makes the OMS ready before the first timer fires
	venue.PublishAccount()

	base.Log.Infof("trader %d symbols on %s, paper venue %s", len(cfg.Symbols), cfg.Venue.StreamURL, venue.Name())
	if err := loop.Run(ctx); err != nil {
		base.Log.Errorf("dispatcher stopped, err: %+v", err)
	}
	cancel()
	_ = router.Close()

	if err := dumpState(base.Clock.Now()); err != nil {
		base.Log.Errorf("final state dump, err: %+v", err)
	}
	base.Log.Infof("trader stopped, book updates: %d, resyncs: %d, fills: %d, volume: %.2f, fees: %.4f, pnl: %.4f",
		books.Updates(), books.Resyncs(), venue.Fills(), venue.Volume(), venue.Fees(), venue.PnL())
}

// recoverAccount rebuilds the account from the state file and the journal tail.
// Without a state file the latest postgres snapshot seeds it.
func recoverAccount(ctx context.Context, cfg ops.Loaded, journal *store.Journal, snapshots *store.SnapshotStore) (state.RecoverResult, error) {
	rc := state.RecoverConfig{}
	if journal != nil {
		rc.Journal = journal
	}
	if _, err := os.Stat(cfg.State.Path); err == nil {
		rc.SnapshotPath = cfg.State.Path
	} else if snapshots != nil {
		snap, ok, err := snapshots.Latest(ctx, cfg.Venue.Name)
		if err != nil {
			return state.RecoverResult{}, err
		}
		if ok {
			if err := state.WriteSnapshot(cfg.State.Path, snap); err != nil {
				return state.RecoverResult{}, err
			}
			rc.SnapshotPath = cfg.State.Path
		}
	}
	return state.RecoverPositions(ctx, rc)
}
