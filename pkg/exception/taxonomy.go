package exception

import (
	"fmt"
	"strings"
	"time"
)

// ConnectivityError is a socket drop or dial failure. The supervisor retries it forever.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s, err: %v", e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StaleDataError reports that no message arrived within the threshold.
type StaleDataError struct {
	URL  string
	Idle time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale: %s idle for %s", e.URL, e.Idle)
}

func (e *StaleDataError) Unwrap() error { return ErrWebSocketStale }

// SequenceGapError reports a diff that does not continue the applied sequence.
type SequenceGapError struct {
	Symbol   string
	Expected uint64
	First    uint64
	Final    uint64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("book: sequence gap on %s, expected %d, got [%d,%d]", e.Symbol, e.Expected, e.First, e.Final)
}

func (e *SequenceGapError) Unwrap() error { return ErrSequenceGap }

// OrderRejectError is terminal for the order it names.
type OrderRejectError struct {
	ClientOrderID string
	Symbol        string
	Reason        string
	// Modify is set when the venue refused a modification; the order stays live.
	Modify bool
}

func (e *OrderRejectError) Error() string {
	if e.Modify {
		return fmt.Sprintf("order: cannot modify %s (%s): %s", e.ClientOrderID, e.Symbol, e.Reason)
	}
	return fmt.Sprintf("order: rejected %s (%s): %s", e.ClientOrderID, e.Symbol, e.Reason)
}

func (e *OrderRejectError) Unwrap() error {
	if e.Modify {
		return ErrOrderCannotModify
	}
	return ErrOrderRejected
}

// PartialBatchFailure lists the orders of a batch that failed. Successful siblings are not rolled back.
type PartialBatchFailure struct {
	Total    int
	Failures []error
}

func (e *PartialBatchFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, err := range e.Failures {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("order: %d of %d failed: %s", len(e.Failures), e.Total, strings.Join(parts, "; "))
}

func (e *PartialBatchFailure) Unwrap() []error {
	return append([]error{ErrOrderPartialBatch}, e.Failures...)
}
