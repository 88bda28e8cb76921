package exception

import "errors"

// WS errors
var (
	ErrWebSocketConnectionClose = errors.New("websocket: connection closed")
	ErrWebSocketProtocol        = errors.New("websocket: protocol error")
	ErrWebSocketNoDialer        = errors.New("websocket: nil dialer")
	ErrWebSocketNoHandler       = errors.New("websocket: nil handler")
	ErrWebSocketNotConnected    = errors.New("websocket: not connected")
	ErrWebSocketQueueFull       = errors.New("websocket: outbound queue full")
	ErrWebSocketStale           = errors.New("websocket: no message within timeout")
	ErrWebSocketScheduledCycle  = errors.New("websocket: scheduled disconnect")
)
