package obs

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
)

const namespace = "tradecore"

// Metrics collects the prometheus series of every component. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	feedMessages   *prometheus.CounterVec
	feedReconnects *prometheus.CounterVec
	feedStale      *prometheus.CounterVec
	feedState      *prometheus.GaugeVec

	ringWrites     *prometheus.CounterVec
	ringOverwrites *prometheus.CounterVec
	ringLaps       *prometheus.CounterVec

	bookUpdates *prometheus.CounterVec
	bookResyncs *prometheus.CounterVec
	bboDropped  *prometheus.CounterVec

	omsSubmits        *prometheus.CounterVec
	omsRejects        *prometheus.CounterVec
	omsFills          *prometheus.CounterVec
	omsDuplicateFills *prometheus.CounterVec

	dispatchErrors *prometheus.CounterVec
	queueDrops     *prometheus.CounterVec
	tickLatency    prometheus.Histogram
}

// NewMetrics registers every series on a private registry.
func NewMetrics() *Metrics {
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		feedMessages:   counter("feed", "messages_total", "Data frames received", "feed"),
		feedReconnects: counter("feed", "reconnects_total", "Connection attempts after the first", "feed"),
		feedStale:      counter("feed", "stale_total", "Connections closed by the staleness watchdog", "feed"),
		feedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "state",
			Help:      "Current supervisor state (0=connecting 1=open 2=stale 3=error 4=reconnecting 5=stopped)",
		}, []string{"feed"}),

		ringWrites:     counter("ring", "writes_total", "Records written", "ring"),
		ringOverwrites: counter("ring", "overwrites_total", "Writes that overwrote unread data", "ring"),
		ringLaps:       counter("ring", "laps_total", "Reads that found the writer a full lap ahead", "ring"),

		bookUpdates: counter("book", "updates_total", "Depth diffs applied", "symbol"),
		bookResyncs: counter("book", "resyncs_total", "Sequence gaps that forced a new snapshot", "symbol"),
		bboDropped:  counter("book", "bbo_dropped_total", "Out of order or duplicate top of book updates", "symbol"),

		omsSubmits:        counter("oms", "submits_total", "Orders forwarded to the venue", "venue"),
		omsRejects:        counter("oms", "rejects_total", "Orders rejected locally or by the venue", "venue"),
		omsFills:          counter("oms", "fills_total", "Fills applied", "venue"),
		omsDuplicateFills: counter("oms", "duplicate_fills_total", "Fills ignored by id deduplication", "venue"),

		dispatchErrors: counter("dispatch", "errors_total", "Source poll failures", "source"),
		queueDrops:     counter("dispatch", "queue_drops_total", "Events dropped by a full queue", "queue"),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tick_seconds",
			Help:      "Time spent polling all sources in one tick",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}

	m.registry.MustRegister(
		m.feedMessages, m.feedReconnects, m.feedStale, m.feedState,
		m.ringWrites, m.ringOverwrites, m.ringLaps,
		m.bookUpdates, m.bookResyncs, m.bboDropped,
		m.omsSubmits, m.omsRejects, m.omsFills, m.omsDuplicateFills,
		m.dispatchErrors, m.queueDrops, m.tickLatency,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (m *Metrics) IncFeedMessage(feed string) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(feed).Inc()
}

func (m *Metrics) IncFeedReconnect(feed string) {
	if m == nil {
		return
	}
	m.feedReconnects.WithLabelValues(feed).Inc()
}

func (m *Metrics) IncFeedStale(feed string) {
	if m == nil {
		return
	}
	m.feedStale.WithLabelValues(feed).Inc()
}

func (m *Metrics) SetFeedState(feed string, state int) {
	if m == nil {
		return
	}
	m.feedState.WithLabelValues(feed).Set(float64(state))
}

func (m *Metrics) IncRingWrite(ring string) {
	if m == nil {
		return
	}
	m.ringWrites.WithLabelValues(ring).Inc()
}

func (m *Metrics) IncRingOverwrite(ring string) {
	if m == nil {
		return
	}
	m.ringOverwrites.WithLabelValues(ring).Inc()
}

func (m *Metrics) IncRingLap(ring string) {
	if m == nil {
		return
	}
	m.ringLaps.WithLabelValues(ring).Inc()
}

func (m *Metrics) IncBookUpdate(symbol string) {
	if m == nil {
		return
	}
	m.bookUpdates.WithLabelValues(symbol).Inc()
}

func (m *Metrics) IncBookResync(symbol string) {
	if m == nil {
		return
	}
	m.bookResyncs.WithLabelValues(symbol).Inc()
}

func (m *Metrics) IncBBODropped(symbol string) {
	if m == nil {
		return
	}
	m.bboDropped.WithLabelValues(symbol).Inc()
}

func (m *Metrics) AddSubmits(venue string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.omsSubmits.WithLabelValues(venue).Add(float64(n))
}

func (m *Metrics) IncReject(venue string) {
	if m == nil {
		return
	}
	m.omsRejects.WithLabelValues(venue).Inc()
}

func (m *Metrics) IncFill(venue string) {
	if m == nil {
		return
	}
	m.omsFills.WithLabelValues(venue).Inc()
}

func (m *Metrics) IncDuplicateFill(venue string) {
	if m == nil {
		return
	}
	m.omsDuplicateFills.WithLabelValues(venue).Inc()
}

func (m *Metrics) IncDispatchError(source string) {
	if m == nil {
		return
	}
	m.dispatchErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) IncQueueDrop(queue string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(queue).Inc()
}

// ObserveTick measures one dispatcher iteration.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.tickLatency.Observe(d.Seconds())
}
