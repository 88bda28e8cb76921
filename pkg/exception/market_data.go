package exception

import "errors"

var (
	ErrUnknownSymbol       = errors.New("market data: unknown symbol")
	ErrUnknownEvent        = errors.New("market data: unknown event type")
	ErrMalformedPayload    = errors.New("market data: malformed payload")
	ErrSequenceGap         = errors.New("book: sequence gap")
	ErrSnapshotUnavailable = errors.New("book: snapshot unavailable")
	ErrBookNotSynced       = errors.New("book: not synced")
)
