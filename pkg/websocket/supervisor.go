package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/core"
	"tradecore/internal/obs"
	"tradecore/pkg/exception"
)

const (
	DefaultWatchdogInterval = time.Second
	DefaultWarnThreshold    = time.Second
	DefaultTimeoutThreshold = 10 * time.Second
	DefaultStatsInterval    = time.Minute
	DefaultWriteQueueSize   = 64
)

// Config defines the supervisor runtime configuration.
type Config struct {
	// Name labels logs and metrics.
	Name    string
	Dialer  Dialer
	Encoder ControlEncoder
	Handler Handler
	// Topics are subscribed on every connection.
	Topics []Topic

	WatchdogInterval time.Duration
	WarnThreshold    time.Duration
	TimeoutThreshold time.Duration
	// PingInterval of zero disables client pings.
	PingInterval time.Duration
	// MaxConnectionAge of zero keeps a healthy connection forever.
	MaxConnectionAge time.Duration
	// StatsInterval of zero uses DefaultStatsInterval, negative disables the report.
	StatsInterval time.Duration

	Backoff        Backoff
	WriteQueueSize int
	WriteOverflow  OverflowPolicy

	OnConnect    func(ctx context.Context, w *Writer) error
	OnDisconnect func(err error)
	OnState      func(state State)
	// Tap sees every data frame before the handler.
	Tap func(frame Frame)

	Metrics *obs.Metrics
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "feed"
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = DefaultWarnThreshold
	}
	if c.TimeoutThreshold <= 0 {
		c.TimeoutThreshold = DefaultTimeoutThreshold
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = DefaultWriteQueueSize
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Supervisor keeps one venue connection alive: it dials, replays the desired
// subscriptions, watches for silence and reconnects until stopped.
type Supervisor struct {
	ctx    core.Context
	cfg    Config
	subs   *subscriptions
	writer *Writer
	stats  *statsTracker

	state     atomic.Int32
	lastRecv  atomic.Int64
	connID    atomic.Uint64
	requestID atomic.Uint64
	connected atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	running atomic.Bool
}

// NewSupervisor validates cfg and builds a supervisor.
func NewSupervisor(ctx core.Context, cfg Config) (*Supervisor, error) {
	if cfg.Dialer == nil {
		return nil, exception.ErrWebSocketNoDialer
	}
	if cfg.Handler == nil {
		return nil, exception.ErrWebSocketNoHandler
	}
	cfg = cfg.withDefaults()
	ctx = core.Resolve(ctx).Named("ws." + cfg.Name)

	s := &Supervisor{
		ctx:    ctx,
		cfg:    cfg,
		subs:   newSubscriptions(cfg.Topics),
		writer: NewWriter(cfg.WriteQueueSize, cfg.WriteOverflow),
		stats:  newStatsTracker(ctx.Clock.Now()),
	}
	s.state.Store(int32(StateConnecting))
	return s, nil
}

// Name returns the configured feed name.
func (s *Supervisor) Name() string { return s.cfg.Name }

// State returns the current connection state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Stats returns the current counters.
func (s *Supervisor) Stats() Stats { return s.stats.snapshot(s.ctx.Clock.Now(), false) }

// Writer exposes the outbound queue, e.g. for authenticated venue requests.
func (s *Supervisor) Writer() *Writer { return s.writer }

// Run owns the connection lifecycle and blocks until ctx is done or Stop is called.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("websocket: supervisor already running")
	}
	defer s.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if s.cfg.StatsInterval > 0 {
		go s.reportLoop(runCtx)
	}

	attempt := 0
	for {
		if runCtx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}

		if attempt > 0 {
			s.setState(StateReconnecting)
			s.cfg.Metrics.IncFeedReconnect(s.cfg.Name)
			if err := s.sleep(runCtx, s.cfg.Backoff.Delay(attempt, s.cfg.WatchdogInterval)); err != nil {
				s.setState(StateStopped)
				return nil
			}
		}

		s.setState(StateConnecting)
		conn, err := s.cfg.Dialer.Dial(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				s.setState(StateStopped)
				return nil
			}
			attempt++
			s.stats.dialFailures.Add(1)
			s.setState(StateError)
			s.ctx.Log.Warnf("dial attempt %d, err: %+v", attempt, err)
			continue
		}

		openedAt := time.Now()
		opened, err := s.serve(runCtx, conn)
		if runCtx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}
		// only a session that stayed up for a watchdog tick earns an immediate redial
		if opened && time.Since(openedAt) >= s.cfg.WatchdogInterval {
			attempt = 1
		} else {
			attempt++
		}
		if err != nil {
			s.ctx.Log.Warnf("session %d ended, err: %+v", s.connID.Load(), err)
		}
	}
}

// Stop ends Run.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Subscribe adds topic to the desired set and subscribes it on the live connection.
func (s *Supervisor) Subscribe(topic Topic) error {
	if !s.subs.Add(topic) {
		return nil
	}
	if !s.connected.Load() {
		return nil
	}
	if err := s.sendControl(true, []Topic{topic}); err != nil {
		return err
	}
	s.subs.MarkActive(topic)
	return nil
}

// Unsubscribe removes topic from the desired set.
func (s *Supervisor) Unsubscribe(topic Topic) error {
	if !s.subs.Remove(topic) {
		return nil
	}
	if !s.connected.Load() {
		return nil
	}
	return s.sendControl(false, []Topic{topic})
}

// Topics returns the desired subscriptions.
func (s *Supervisor) Topics() []Topic { return s.subs.Desired() }

func (s *Supervisor) serve(ctx context.Context, conn Conn) (opened bool, err error) {
	id := s.connID.Add(1)
	s.stats.connects.Add(1)
	s.touch()
	if pn, ok := conn.(PongNotifier); ok {
		pn.OnPong(s.touch)
	}

	s.connected.Store(true)
	s.writer.SetConnected(true)

	var readDone chan struct{}
	defer func() {
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(err)
		}
		s.connected.Store(false)
		s.writer.SetConnected(false)
		s.writer.Drain()
		_ = conn.Close(CloseGoingAway, "session_end")
		// the next session must not start while this one is still delivering
		if readDone != nil {
			<-readDone
		}
		s.stats.closes.Add(1)
	}()

	if s.cfg.OnConnect != nil {
		if err = s.cfg.OnConnect(ctx, s.writer); err != nil {
			s.setState(StateError)
			return false, errors.Wrap(err, "on connect")
		}
	}

	s.subs.ClearActive()
	if err = s.resubscribe(); err != nil {
		s.setState(StateError)
		return false, errors.Wrap(err, "resubscribe")
	}

	s.setState(StateOpen)
	s.ctx.Log.Infof("connection %d open, topics: %d", id, s.subs.Count())
	readDone = make(chan struct{})
	err = s.runSession(ctx, conn, id, readDone)
	return true, err
}

func (s *Supervisor) resubscribe() error {
	desired := s.subs.Desired()
	if len(desired) == 0 {
		return nil
	}
	if err := s.sendControl(true, desired); err != nil {
		return err
	}
	s.subs.MarkActive(desired...)
	return nil
}

func (s *Supervisor) sendControl(subscribe bool, topics []Topic) error {
	if s.cfg.Encoder == nil {
		return errors.Wrap(exception.ErrInvalidConfig, "no control encoder")
	}
	var (
		msgType MessageType
		payload []byte
		err     error
		reqID   = s.requestID.Add(1)
		buf     = make([]byte, 0, 256)
	)
	if subscribe {
		msgType, payload, err = s.cfg.Encoder.EncodeSubscribe(buf, reqID, topics)
	} else {
		msgType, payload, err = s.cfg.Encoder.EncodeUnsubscribe(buf, reqID, topics)
	}
	if err != nil {
		return errors.Wrap(err, "encode control")
	}
	if !s.writer.Send(msgType, payload) {
		return exception.ErrWebSocketQueueFull
	}
	return nil
}

// runSession closes readDone once the read goroutine has returned.
func (s *Supervisor) runSession(ctx context.Context, conn Conn, id uint64, readDone chan<- struct{}) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer close(readDone)
		s.readLoop(sessionCtx, conn, id, errCh)
	}()

	watchdog := time.NewTicker(s.cfg.WatchdogInterval)
	defer watchdog.Stop()

	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		pingTicker := time.NewTicker(s.cfg.PingInterval)
		defer pingTicker.Stop()
		ping = pingTicker.C
	}

	var cycle <-chan time.Time
	if s.cfg.MaxConnectionAge > 0 {
		cycleTimer := time.NewTimer(s.cfg.MaxConnectionAge)
		defer cycleTimer.Stop()
		cycle = cycleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			s.setState(StateError)
			return &exception.ConnectivityError{URL: s.cfg.Name, Err: err}
		case frame := <-s.writer.queue:
			if err := conn.Write(sessionCtx, frame.msgType, frame.payload); err != nil {
				s.setState(StateError)
				return &exception.ConnectivityError{URL: s.cfg.Name, Err: errors.Wrap(err, "write")}
			}
		case <-ping:
			s.sendPing()
		case <-cycle:
			s.ctx.Log.Infof("connection %d reached max age %s", id, s.cfg.MaxConnectionAge)
			return exception.ErrWebSocketScheduledCycle
		case <-watchdog.C:
			idle := s.idle()
			if idle >= s.cfg.TimeoutThreshold {
				s.setState(StateStale)
				s.stats.stale.Add(1)
				s.cfg.Metrics.IncFeedStale(s.cfg.Name)
				return &exception.StaleDataError{URL: s.cfg.Name, Idle: idle}
			}
			if idle >= s.cfg.WarnThreshold {
				s.ctx.Log.Warnf("connection %d idle for %s", id, idle.Truncate(time.Millisecond))
			}
		}
	}
}

func (s *Supervisor) sendPing() {
	if pe, ok := s.cfg.Encoder.(PingEncoder); ok {
		msgType, payload := pe.EncodePing(make([]byte, 0, 64))
		s.writer.Send(msgType, payload)
		return
	}
	s.writer.Send(MessagePing, nil)
}

func (s *Supervisor) readLoop(ctx context.Context, conn Conn, id uint64, errCh chan<- error) {
	for {
		payload, msgType, err := conn.Read(ctx)
		if err != nil {
			errCh <- err
			return
		}
		now := s.ctx.Clock.Now()
		s.lastRecv.Store(now.UnixNano())

		if msgType != MessageText && msgType != MessageBinary {
			continue
		}
		if len(payload) == 0 {
			continue
		}

		frame := Frame{ConnID: id, Type: msgType, Payload: payload, ReceivedAt: now}
		s.stats.messages.Add(1)
		s.cfg.Metrics.IncFeedMessage(s.cfg.Name)
		if s.cfg.Tap != nil {
			s.cfg.Tap(frame)
		}
		s.deliver(frame)
	}
}

func (s *Supervisor) deliver(frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.handlerErrors.Add(1)
			s.ctx.Log.Errorf("handler panic on connection %d: %v", frame.ConnID, r)
		}
	}()
	if err := s.cfg.Handler.OnFrame(frame); err != nil {
		s.stats.handlerErrors.Add(1)
		s.ctx.Log.Errorf("handle frame, err: %+v", err)
	}
}

func (s *Supervisor) touch() {
	s.lastRecv.Store(s.ctx.Clock.Now().UnixNano())
}

func (s *Supervisor) idle() time.Duration {
	return time.Duration(s.ctx.Clock.Now().UnixNano() - s.lastRecv.Load())
}

func (s *Supervisor) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	if prev == state {
		return
	}
	s.cfg.Metrics.SetFeedState(s.cfg.Name, int(state))
	if s.cfg.OnState != nil {
		s.cfg.OnState(state)
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Supervisor) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.stats.snapshot(s.ctx.Clock.Now(), true)
			s.ctx.Log.Infof("%s", formatStats(s.State(), st))
		}
	}
}

func formatStats(state State, st Stats) string {
	return fmt.Sprintf("state: %s, connects: %d, closes: %d, closes/min: %.2f, stale: %d, msgs: %d, msgs/s: %.1f",
		state, st.Connects, st.Closes, st.ClosesPerMinute, st.Stale, st.Messages, st.MessagesPerSecond)
}
