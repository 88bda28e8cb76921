package websocket

import "context"

// Conn is a minimal interface for a WebSocket connection.
// Read blocks until a message arrives or the connection is closed.
type Conn interface {
	Read(ctx context.Context) (payload []byte, msgType MessageType, err error)
	Write(ctx context.Context, msgType MessageType, payload []byte) error
	Close(code CloseCode, reason string) error
}

// PongNotifier is implemented by connections that consume control frames
// internally. fn is called for every pong and ping received.
type PongNotifier interface {
	OnPong(fn func())
}

// Dialer creates new connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ControlEncoder builds subscribe and unsubscribe payloads.
// Implementations should write into dst and return a slice backed by dst.
type ControlEncoder interface {
	EncodeSubscribe(dst []byte, requestID uint64, topics []Topic) (MessageType, []byte, error)
	EncodeUnsubscribe(dst []byte, requestID uint64, topics []Topic) (MessageType, []byte, error)
}

// PingEncoder is an optional ControlEncoder capability for venues that expect
// an application level ping instead of a control frame.
type PingEncoder interface {
	EncodePing(dst []byte) (MessageType, []byte)
}

// Handler consumes inbound frames in arrival order. It runs on the read
// goroutine and must not retain Payload after returning unless it copies it.
type Handler interface {
	OnFrame(frame Frame) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(frame Frame) error

func (f HandlerFunc) OnFrame(frame Frame) error { return f(frame) }
