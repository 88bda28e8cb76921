package main

import (
	"context"
	"flag"
	"log"
	"sync"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/recorder"
	"tradecore/internal/ring"
	"tradecore/internal/schema"
	"tradecore/internal/shmfeed"
	"tradecore/internal/store"
	"tradecore/internal/venue/binance"
	"tradecore/pkg/conn"
	"tradecore/pkg/websocket"
)

const captureFeedBookTicker uint16 = 1

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %+v", err)
	}

	base := core.New()
	ctx, cancel := ops.ShutdownContext(context.Background())
	defer cancel()

	stopProfiler, err := ops.StartProfiler(base, cfg.Env, map[string]string{"binary": "ingest", "venue": cfg.Venue.Name})
	if err != nil {
		log.Fatalf("profiler start failed: %+v", err)
	}
	defer stopProfiler()

	metrics := obs.NewMetrics()

	ch, err := ring.Create(base, ring.Option{
		Dir:      cfg.Ring.Dir,
		Name:     cfg.Ring.Name,
		Capacity: cfg.Ring.Capacity,
		Metrics:  metrics,
	})
	if err != nil {
		log.Fatalf("ring create failed: %+v", err)
	}
	defer ch.Close()

	out := &fanout{ring: shmfeed.NewPublisher(base, ch)}

	var wg sync.WaitGroup
	if cfg.Env.RedisAddr != "" {
		client, err := conn.NewRedis(ctx, conn.RedisOption{
			Addr:     cfg.Env.RedisAddr,
			Password: cfg.Env.RedisPassword,
			DB:       cfg.Env.RedisDB,
		})
		if err != nil {
			log.Fatalf("redis connect failed: %+v", err)
		}
		defer client.Close()

		out.redis = store.NewBBOPublisher(base, client, store.BBOPublisherOption{Venue: cfg.Venue.Name, Metrics: metrics})
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.redis.Run(ctx)
		}()
		defer out.redis.Close()
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
		tap = writer.Tap(captureFeedBookTicker)
	}

	sup, err := websocket.NewSupervisor(base, websocket.Config{
		Name:             "bookTicker",
		Dialer:           websocket.NewDialer(cfg.Venue.StreamURL, base.TLS),
		Encoder:          binance.Codec{},
		Handler:          binance.NewHandler(base, nil, out),
		Topics:           binance.Streams(cfg.Symbols, binance.StreamBookTicker),
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

	if cfg.Metrics.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				base.Log.Errorf("metrics server, err: %+v", err)
			}
		}()
	}

	base.Log.Infof("ingest %d symbols from %s into ring %s/%s", len(cfg.Symbols), cfg.Venue.StreamURL, cfg.Ring.Dir, cfg.Ring.Name)
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		base.Log.Errorf("supervisor stopped, err: %+v", err)
	}
	cancel()
	wg.Wait()

	stats := sup.Stats()
	base.Log.Infof("ingest stopped, connects: %d, messages: %d, handler errors: %d, ring writes: %d",
		stats.Connects, stats.Messages, stats.HandlerErrors, ch.Stats().Writes)
}

// fanout writes book ticker updates into the ring and, when configured, redis.
// It runs on the supervisor read goroutine, so the ring has a single writer.
type fanout struct {
	ring  *shmfeed.Publisher
	redis *store.BBOPublisher
}

func (f *fanout) TryPublish(ev schema.Event) error {
	bbo, ok := ev.(schema.BBO)
	if !ok {
		return nil
	}
	if _, err := f.ring.Publish(bbo); err != nil {
		return err
	}
	if f.redis != nil {
		f.redis.OnBBOUpdate(bbo)
	}
	return nil
}
