package websocket

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadLimit        = 4 << 20

	controlWriteTimeout = time.Second
)

// GorillaDialer dials venue endpoints with gorilla/websocket.
type GorillaDialer struct {
	URL              string
	TLSConfig        *tls.Config
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

// NewDialer returns a dialer for url using tlsConfig for wss endpoints.
func NewDialer(url string, tlsConfig *tls.Config) *GorillaDialer {
	return &GorillaDialer{
		URL:              url,
		TLSConfig:        tlsConfig,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ReadLimit:        DefaultReadLimit,
	}
}

func (d *GorillaDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := gws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		TLSClientConfig:  d.TLSConfig,
	}
	c, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, &exception.ConnectivityError{URL: d.URL, Err: err}
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return newGorillaConn(c), nil
}

type gorillaConn struct {
	c       *gws.Conn
	writeMu sync.Mutex
	onPong  atomic.Pointer[func()]
}

func newGorillaConn(c *gws.Conn) *gorillaConn {
	gc := &gorillaConn{c: c}
	c.SetPongHandler(func(string) error {
		gc.notify()
		return nil
	})
	c.SetPingHandler(func(appData string) error {
		gc.notify()
		gc.writeMu.Lock()
		err := c.WriteControl(gws.PongMessage, []byte(appData), time.Now().Add(controlWriteTimeout))
		gc.writeMu.Unlock()
		if errors.Is(err, gws.ErrCloseSent) {
			return nil
		}
		return err
	})
	return gc
}

func (gc *gorillaConn) notify() {
	if fn := gc.onPong.Load(); fn != nil {
		(*fn)()
	}
}

func (gc *gorillaConn) OnPong(fn func()) {
	gc.onPong.Store(&fn)
}

func (gc *gorillaConn) Read(ctx context.Context) ([]byte, MessageType, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	msgType, payload, err := gc.c.ReadMessage()
	if err != nil {
		if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
			return nil, 0, errors.Wrap(exception.ErrWebSocketConnectionClose, err.Error())
		}
		return nil, 0, err
	}
	switch msgType {
	case gws.TextMessage:
		return payload, MessageText, nil
	case gws.BinaryMessage:
		return payload, MessageBinary, nil
	default:
		return payload, MessageType(msgType), nil
	}
}

func (gc *gorillaConn) Write(ctx context.Context, msgType MessageType, payload []byte) error {
	gc.writeMu.Lock()
	defer gc.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(controlWriteTimeout)
	}
	switch msgType {
	case MessagePing:
		return gc.c.WriteControl(gws.PingMessage, payload, deadline)
	case MessagePong:
		return gc.c.WriteControl(gws.PongMessage, payload, deadline)
	case MessageBinary:
		_ = gc.c.SetWriteDeadline(deadline)
		return gc.c.WriteMessage(gws.BinaryMessage, payload)
	default:
		_ = gc.c.SetWriteDeadline(deadline)
		return gc.c.WriteMessage(gws.TextMessage, payload)
	}
}

func (gc *gorillaConn) Close(code CloseCode, reason string) error {
	gc.writeMu.Lock()
	_ = gc.c.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(int(code), reason), time.Now().Add(controlWriteTimeout))
	gc.writeMu.Unlock()
	return gc.c.Close()
}
