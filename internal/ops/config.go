package ops

import (
	"encoding/json"
	"os"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/book"
	"tradecore/internal/dispatch"
	"tradecore/internal/oms"
	"tradecore/internal/recorder"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/simvenue"
	"tradecore/internal/venue/binance"
	"tradecore/pkg/exception"
)

const (
	defaultRingDir      = "/dev/shm"
	defaultRingName     = "bbo"
	defaultRingCapacity = 1 << 20
	defaultQueueSize    = 8192
	defaultStatePath    = "state.json"
	defaultStateEvery   = time.Minute
	defaultMetricsAddr  = ":9100"
)

// FileConfig mirrors the JSON config layout. Durations are strings such as "5s".
type FileConfig struct {
	Venue    VenueConfig    `json:"venue"`
	Symbols  []SymbolConfig `json:"symbols"`
	Feed     FeedConfig     `json:"feed"`
	Ring     RingConfig     `json:"ring"`
	Book     BookConfig     `json:"book"`
	Risk     RiskConfig     `json:"risk"`
	OMS      OMSConfig      `json:"oms"`
	Sim      SimConfig      `json:"sim"`
	State    StateConfig    `json:"state"`
	Dispatch DispatchConfig `json:"dispatch"`
	Capture  CaptureConfig  `json:"capture"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// VenueConfig names the venue and its endpoints.
type VenueConfig struct {
	Name      string `json:"name"`
	StreamURL string `json:"streamUrl"`
	RESTURL   string `json:"restUrl"`
}

// SymbolConfig describes a symbol and its filters.
type SymbolConfig struct {
	Name     string  `json:"name"`
	TickSize float64 `json:"tickSize"`
	StepSize float64 `json:"stepSize"`
	MinQty   float64 `json:"minQty"`
}

// FeedConfig tunes the websocket supervisors.
type FeedConfig struct {
	WarnThreshold    string `json:"warnThreshold"`
	TimeoutThreshold string `json:"timeoutThreshold"`
	PingInterval     string `json:"pingInterval"`
	MaxConnectionAge string `json:"maxConnectionAge"`
	QueueSize        int    `json:"queueSize"`
}

// RingConfig locates the shared memory BBO ring.
type RingConfig struct {
	Dir      string `json:"dir"`
	Name     string `json:"name"`
	Capacity int64  `json:"capacity"`
	MaxAge   string `json:"maxAge"`
}

type BookConfig struct {
	MaxBuffered    int    `json:"maxBuffered"`
	RequestTimeout string `json:"requestTimeout"`
	SnapEvery      string `json:"snapEvery"`
	MaxSnaps       int    `json:"maxSnaps"`
	SnapshotLimit  int    `json:"snapshotLimit"`
}

type RiskConfig struct {
	KillSwitch           bool    `json:"killSwitch"`
	MaxOrderQty          float64 `json:"maxOrderQty"`
	MaxOrderNotional     float64 `json:"maxOrderNotional"`
	MaxPosition          float64 `json:"maxPosition"`
	MaxGrossNotional     float64 `json:"maxGrossNotional"`
	MaxLeverage          float64 `json:"maxLeverage"`
	OrderRateLimit       int     `json:"orderRateLimit"`
	OrderRateWindow      string  `json:"orderRateWindow"`
	MaxPriceDeviationBps float64 `json:"maxPriceDeviationBps"`
}

type OMSConfig struct {
	BatchSize    int      `json:"batchSize"`
	StaleAfter   string   `json:"staleAfter"`
	StableAssets []string `json:"stableAssets"`
}

type SimConfig struct {
	MakerFee       float64 `json:"makerFee"`
	InitialBalance float64 `json:"initialBalance"`
	Asset          string  `json:"asset"`
}

// StateConfig controls the periodic position dump.
type StateConfig struct {
	Path  string `json:"path"`
	Every string `json:"every"`
}

type DispatchConfig struct {
	Sleep       string `json:"sleep"`
	JoinTimeout string `json:"joinTimeout"`
	// Duration is how long the loop runs. Empty runs until shutdown.
	Duration string `json:"duration"`
}

// CaptureConfig enables raw frame capture when Dir is set.
type CaptureConfig struct {
	Dir             string `json:"dir"`
	SegmentMaxBytes int64  `json:"segmentMaxBytes"`
	SegmentDuration string `json:"segmentDuration"`
	FlushInterval   string `json:"flushInterval"`
}

type MetricsConfig struct {
	Addr string `json:"addr"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry *schema.Registry
	Venue    VenueConfig
	Symbols  []string
	Feed     Feed
	Ring     Ring
	Book     book.ReconstructorOption
	Snapshot binance.SnapshotOption
	Risk     risk.Config
	OMS      oms.Config
	Sim      simvenue.Config
	State    State
	Dispatch dispatch.Option
	Duration time.Duration
	Capture  *recorder.Config
	Metrics  MetricsConfig
	Env      Env
}

// Feed is the resolved supervisor tuning.
type Feed struct {
	WarnThreshold    time.Duration
	TimeoutThreshold time.Duration
	PingInterval     time.Duration
	MaxConnectionAge time.Duration
	QueueSize        int
}

type Ring struct {
	Dir      string
	Name     string
	Capacity int64
	MaxAge   time.Duration
}

type State struct {
	Path  string
	Every time.Duration
}

// Load reads a JSON config file, then the environment.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config").With("path", path)
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode config").With("path", path)
	}
	loaded, err := cfg.Resolve()
	if err != nil {
		return Loaded{}, errors.Wrap(err, "resolve config").With("path", path)
	}
	loaded.Env = LoadEnv()
	return loaded, nil
}

// Resolve applies defaults and validates the file config.
func (c FileConfig) Resolve() (Loaded, error) {
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return Loaded{}, err
	}

	registry, err := buildRegistry(c.Venue.Name, c.Symbols)
	if err != nil {
		return Loaded{}, err
	}
	symbols := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		symbols = append(symbols, s.Name)
	}

	var d durations
	out := Loaded{
		Registry: registry,
		Venue:    c.Venue,
		Symbols:  symbols,
		Feed: Feed{
			WarnThreshold:    d.parse("feed.warnThreshold", c.Feed.WarnThreshold),
			TimeoutThreshold: d.parse("feed.timeoutThreshold", c.Feed.TimeoutThreshold),
			PingInterval:     d.parse("feed.pingInterval", c.Feed.PingInterval),
			MaxConnectionAge: d.parse("feed.maxConnectionAge", c.Feed.MaxConnectionAge),
			QueueSize:        c.Feed.QueueSize,
		},
		Ring: Ring{
			Dir:      c.Ring.Dir,
			Name:     c.Ring.Name,
			Capacity: c.Ring.Capacity,
			MaxAge:   d.parse("ring.maxAge", c.Ring.MaxAge),
		},
		Book: book.ReconstructorOption{
			MaxBuffered:    c.Book.MaxBuffered,
			RequestTimeout: d.parse("book.requestTimeout", c.Book.RequestTimeout),
			SnapEvery:      d.parse("book.snapEvery", c.Book.SnapEvery),
			MaxSnaps:       c.Book.MaxSnaps,
		},
		Snapshot: binance.SnapshotOption{
			BaseURL: c.Venue.RESTURL,
			Limit:   c.Book.SnapshotLimit,
		},
		Risk: risk.Config{
			KillSwitch:           c.Risk.KillSwitch,
			MaxOrderQty:          c.Risk.MaxOrderQty,
			MaxOrderNotional:     c.Risk.MaxOrderNotional,
			MaxPosition:          c.Risk.MaxPosition,
			MaxGrossNotional:     c.Risk.MaxGrossNotional,
			MaxLeverage:          c.Risk.MaxLeverage,
			OrderRateLimit:       c.Risk.OrderRateLimit,
			OrderRateWindow:      d.parse("risk.orderRateWindow", c.Risk.OrderRateWindow),
			MaxPriceDeviationBps: c.Risk.MaxPriceDeviationBps,
		},
		OMS: oms.Config{
			Venue:        c.Venue.Name,
			BatchSize:    c.OMS.BatchSize,
			StaleAfter:   d.parse("oms.staleAfter", c.OMS.StaleAfter),
			StableAssets: c.OMS.StableAssets,
		},
		Sim: simvenue.Config{
			Venue:          c.Venue.Name,
			MakerFee:       c.Sim.MakerFee,
			InitialBalance: c.Sim.InitialBalance,
			Asset:          c.Sim.Asset,
		},
		State: State{
			Path:  c.State.Path,
			Every: d.parse("state.every", c.State.Every),
		},
		Dispatch: dispatch.Option{
			Sleep:       d.parse("dispatch.sleep", c.Dispatch.Sleep),
			JoinTimeout: d.parse("dispatch.joinTimeout", c.Dispatch.JoinTimeout),
		},
		Duration: d.parse("dispatch.duration", c.Dispatch.Duration),
		Metrics:  c.Metrics,
	}

	if c.Capture.Dir != "" {
		capture := recorder.DefaultConfig(c.Capture.Dir)
		if c.Capture.SegmentMaxBytes > 0 {
			capture.SegmentMaxBytes = c.Capture.SegmentMaxBytes
		}
		if v := d.parse("capture.segmentDuration", c.Capture.SegmentDuration); v > 0 {
			capture.SegmentMaxDuration = v
		}
		capture.FlushInterval = d.parse("capture.flushInterval", c.Capture.FlushInterval)
		if err := capture.Validate(); err != nil {
			return Loaded{}, err
		}
		out.Capture = &capture
	}

	if d.err != nil {
		return Loaded{}, d.err
	}
	return out, nil
}

func (c FileConfig) withDefaults() FileConfig {
	if c.Venue.Name == "" {
		c.Venue.Name = "binance"
	}
	if c.Venue.StreamURL == "" {
		c.Venue.StreamURL = binance.DefaultStreamURL
	}
	if c.Venue.RESTURL == "" {
		c.Venue.RESTURL = binance.DefaultRESTURL
	}
	if c.Feed.QueueSize <= 0 {
		c.Feed.QueueSize = defaultQueueSize
	}
	if c.Ring.Dir == "" {
		c.Ring.Dir = defaultRingDir
	}
	if c.Ring.Name == "" {
		c.Ring.Name = defaultRingName
	}
	if c.Ring.Capacity <= 0 {
		c.Ring.Capacity = defaultRingCapacity
	}
	if c.State.Path == "" {
		c.State.Path = defaultStatePath
	}
	if c.State.Every == "" {
		c.State.Every = defaultStateEvery.String()
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = defaultMetricsAddr
	}
	return c
}

// Validate checks values that defaults cannot repair.
func (c FileConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "no symbols")
	}
	if c.Sim.MakerFee < 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "sim.makerFee %v < 0", c.Sim.MakerFee)
	}
	if c.Sim.InitialBalance < 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "sim.initialBalance %v < 0", c.Sim.InitialBalance)
	}
	if c.OMS.BatchSize < 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "oms.batchSize %d < 0", c.OMS.BatchSize)
	}
	if c.Book.MaxBuffered < 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "book.maxBuffered %d < 0", c.Book.MaxBuffered)
	}
	if c.Risk.OrderRateLimit < 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "risk.orderRateLimit %d < 0", c.Risk.OrderRateLimit)
	}
	return nil
}

func buildRegistry(venue string, symbols []SymbolConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	if _, err := reg.AddVenue(venue); err != nil {
		return nil, errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	for _, sym := range symbols {
		err := reg.AddSymbol(schema.Symbol{
			Name:     sym.Name,
			Venue:    venue,
			TickSize: sym.TickSize,
			StepSize: sym.StepSize,
			MinQty:   sym.MinQty,
		})
		if err != nil {
			return nil, errors.Wrap(exception.ErrInvalidConfig, err.Error())
		}
	}
	return reg, nil
}

// durations parses duration strings and keeps the first failure.
type durations struct {
	err error
}

func (d *durations) parse(field, s string) time.Duration {
	if s == "" || d.err != nil {
		return 0
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		d.err = errors.Wrapf(exception.ErrInvalidConfig, "%s: %s", field, err.Error())
		return 0
	}
	if v < 0 {
		d.err = errors.Wrapf(exception.ErrInvalidConfig, "%s: %s is negative", field, s)
		return 0
	}
	return v
}
