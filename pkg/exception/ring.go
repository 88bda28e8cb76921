package exception

import "errors"

// Shared memory ring errors
var (
	// ErrChannelOverwrite reports that the writer lapped an unread reader. It is a warning.
	ErrChannelOverwrite = errors.New("ring: overwriting unread data")

	// ErrSegmentNotFound is returned when attaching to a segment the owner has not created.
	ErrSegmentNotFound = errors.New("ring: shared memory segment not found")

	ErrRecordTooLarge   = errors.New("ring: record exceeds capacity")
	ErrInvalidCapacity  = errors.New("ring: invalid capacity")
	ErrSegmentCorrupted = errors.New("ring: segment header mismatch")
	ErrChannelClosed    = errors.New("ring: channel closed")
)
