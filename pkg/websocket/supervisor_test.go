package websocket

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/core"
)

type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, MessageType, error) {
	select {
	case p := <-c.inbound:
		return p, MessageText, nil
	case <-c.closed:
		return nil, 0, io.EOF
	}
}

func (c *fakeConn) Write(ctx context.Context, msgType MessageType, payload []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, string(payload))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(code CloseCode, reason string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type listEncoder struct{}

func (listEncoder) EncodeSubscribe(dst []byte, id uint64, topics []Topic) (MessageType, []byte, error) {
	dst = append(dst, "SUB:"...)
	for i, t := range topics {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, t...)
	}
	return MessageText, dst, nil
}

func (listEncoder) EncodeUnsubscribe(dst []byte, id uint64, topics []Topic) (MessageType, []byte, error) {
	dst = append(dst, "UNSUB:"...)
	for _, t := range topics {
		dst = append(dst, t...)
	}
	return MessageText, dst, nil
}

type recorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recorder) OnFrame(f Frame) error {
	if string(f.Payload) == "panic" {
		panic("boom")
	}
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	return nil
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, string(f.Payload))
	}
	return out
}

func startSupervisor(t *testing.T, cfg Config) (*Supervisor, func()) {
	t.Helper()
	sup, err := NewSupervisor(core.Context{}, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	return sup, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	}
}

func TestSupervisorDeliversInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &recorder{}
	sup, stop := startSupervisor(t, Config{
		Name:          "test",
		Dialer:        dialer,
		Encoder:       listEncoder{},
		Handler:       rec,
		Topics:        []Topic{"a@depth"},
		StatsInterval: -1,
	})
	defer stop()

	require.Eventually(t, func() bool { return sup.State() == StateOpen }, time.Second, time.Millisecond)
	conn := dialer.conn(0)
	for _, p := range []string{"1", "2", "panic", "3"} {
		conn.inbound <- []byte(p)
	}

	require.Eventually(t, func() bool { return len(rec.payloads()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, rec.payloads())
	assert.Equal(t, 1, dialer.count(), "a handler panic must not end the session")

	rec.mu.Lock()
	for _, f := range rec.frames {
		assert.False(t, f.ReceivedAt.IsZero())
		assert.Equal(t, uint64(1), f.ConnID)
	}
	rec.mu.Unlock()

	st := sup.Stats()
	assert.Equal(t, uint64(4), st.Messages)
	assert.Equal(t, uint64(1), st.HandlerErrors)
}

func TestSupervisorResubscribesOnReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	sup, stop := startSupervisor(t, Config{
		Name:             "test",
		Dialer:           dialer,
		Encoder:          listEncoder{},
		Handler:          &recorder{},
		Topics:           []Topic{"b@trade", "a@depth"},
		WatchdogInterval: 10 * time.Millisecond,
		StatsInterval:    -1,
	})
	defer stop()

	require.Eventually(t, func() bool {
		c := dialer.conn(0)
		return c != nil && len(c.written()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "SUB:a@depth,b@trade", dialer.conn(0).written()[0])

	require.NoError(t, sup.Subscribe("c@bookTicker"))
	require.Eventually(t, func() bool { return len(dialer.conn(0).written()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "SUB:c@bookTicker", dialer.conn(0).written()[1])

	// venue drops the socket
	_ = dialer.conn(0).Close(CloseNormal, "")

	require.Eventually(t, func() bool {
		c := dialer.conn(1)
		return c != nil && len(c.written()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "SUB:a@depth,b@trade,c@bookTicker", dialer.conn(1).written()[0])
	assert.Equal(t, uint64(2), sup.Stats().Connects)
}

func TestSupervisorWatchdogClosesSilentConnection(t *testing.T) {
	dialer := &fakeDialer{}
	var (
		mu     sync.Mutex
		states []State
	)
	sup, stop := startSupervisor(t, Config{
		Name:             "test",
		Dialer:           dialer,
		Handler:          &recorder{},
		WatchdogInterval: 10 * time.Millisecond,
		WarnThreshold:    20 * time.Millisecond,
		TimeoutThreshold: 50 * time.Millisecond,
		StatsInterval:    -1,
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	defer stop()

	require.Eventually(t, func() bool { return dialer.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, sup.Stats().Stale, uint64(1))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateStale)
	assert.Contains(t, states, StateReconnecting)
}

func TestSupervisorMaxConnectionAge(t *testing.T) {
	dialer := &fakeDialer{}
	_, stop := startSupervisor(t, Config{
		Name:             "test",
		Dialer:           dialer,
		Handler:          &recorder{},
		WatchdogInterval: 10 * time.Millisecond,
		MaxConnectionAge: 30 * time.Millisecond,
		StatsInterval:    -1,
	})
	defer stop()

	require.Eventually(t, func() bool { return dialer.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

type slowHandler struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	active  atomic.Int32
	overlap atomic.Bool
}

func (h *slowHandler) OnFrame(Frame) error {
	if h.active.Add(1) > 1 {
		h.overlap.Store(true)
	}
	defer h.active.Add(-1)
	h.once.Do(func() {
		close(h.entered)
		<-h.release
	})
	return nil
}

func TestSupervisorJoinsReaderBeforeRedial(t *testing.T) {
	dialer := &fakeDialer{}
	handler := &slowHandler{entered: make(chan struct{}), release: make(chan struct{})}
	_, stop := startSupervisor(t, Config{
		Name:             "test",
		Dialer:           dialer,
		Handler:          handler,
		WatchdogInterval: 10 * time.Millisecond,
		MaxConnectionAge: 30 * time.Millisecond,
		StatsInterval:    -1,
	})
	defer stop()

	require.Eventually(t, func() bool { return dialer.conn(0) != nil }, time.Second, time.Millisecond)
	dialer.conn(0).inbound <- []byte("first")
	select {
	case <-handler.entered:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, dialer.count(), "no redial while the old session is delivering")

	close(handler.release)
	require.Eventually(t, func() bool { return dialer.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, handler.overlap.Load())
}

func TestNewSupervisorRequiresDialerAndHandler(t *testing.T) {
	_, err := NewSupervisor(core.Context{}, Config{Handler: &recorder{}})
	assert.Error(t, err)
	_, err = NewSupervisor(core.Context{}, Config{Dialer: &fakeDialer{}})
	assert.Error(t, err)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	assert.Equal(t, time.Duration(0), b.Delay(1, time.Second))
	assert.Equal(t, time.Second, b.Delay(2, time.Second), "floor applies")
	assert.Equal(t, 400*time.Millisecond, b.Delay(4, 10*time.Millisecond))
	assert.Equal(t, time.Second, b.Delay(20, 0), "capped at max")
}

func TestFormatStats(t *testing.T) {
	line := formatStats(StateOpen, Stats{Connects: 2, Closes: 1, Messages: 10, MessagesPerSecond: 5})
	assert.True(t, strings.Contains(line, "state: open"))
	assert.True(t, strings.Contains(line, "msgs/s: 5.0"))
}
