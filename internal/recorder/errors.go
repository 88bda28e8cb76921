package recorder

import "errors"

// Writer errors
var (
	ErrQueueFull       = errors.New("capture: queue full")
	ErrClosed          = errors.New("capture: writer closed")
	ErrNotStarted      = errors.New("capture: writer not started")
	ErrAlreadyStarted  = errors.New("capture: writer already started")
	ErrPayloadTooLarge = errors.New("capture: payload too large")
)

// Record errors
var (
	ErrInvalidMagic            = errors.New("capture: invalid magic")
	ErrUnsupportedRecordVer    = errors.New("capture: unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("capture: invalid header size")
	ErrChecksumMismatch        = errors.New("capture: checksum mismatch")
)
