package websocket

import "time"

// Topic is a venue stream name, e.g. "btcusdt@bookTicker".
type Topic string

// MessageType represents a WebSocket message type.
// Values match RFC 6455 opcodes where applicable.
type MessageType uint8

const (
	// MessageText is a text data frame.
	MessageText MessageType = 1
	// MessageBinary is a binary data frame.
	MessageBinary MessageType = 2
	// MessageClose is a close control frame.
	MessageClose MessageType = 8
	// MessagePing is a ping control frame.
	MessagePing MessageType = 9
	// MessagePong is a pong control frame.
	MessagePong MessageType = 10
)

// CloseCode is a WebSocket close code.
type CloseCode uint16

const (
	// CloseNormal indicates a normal closure.
	CloseNormal CloseCode = 1000
	// CloseGoingAway is sent when the supervisor cycles or stops a connection.
	CloseGoingAway CloseCode = 1001
)

// OverflowPolicy defines queue behavior when full.
type OverflowPolicy uint8

const (
	// OverflowDropNewest drops the incoming item if the queue is full.
	OverflowDropNewest OverflowPolicy = iota
	// OverflowDropOldest drops the oldest item to make room.
	OverflowDropOldest
)

// Backoff defines reconnect backoff behavior.
type Backoff struct {
	// Min is the minimum backoff duration.
	Min time.Duration
	// Max is the maximum backoff duration.
	Max time.Duration
	// Factor multiplies the delay for each retry attempt.
	Factor float64
	// Jitter adds randomization as a fraction of the delay (0-1).
	Jitter float64
}

// State is the connection state of a supervisor.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateStale
	StateError
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateStale:
		return "stale"
	case StateError:
		return "error"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Frame is one inbound data message stamped with its receipt time.
type Frame struct {
	// ConnID increments on every successful dial.
	ConnID     uint64
	Type       MessageType
	Payload    []byte
	ReceivedAt time.Time
}
