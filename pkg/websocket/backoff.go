package websocket

import (
	"math"
	"math/rand"
	"time"
)

const (
	fallbackBackoffMin    = 100 * time.Millisecond
	fallbackBackoffMax    = 5 * time.Second
	fallbackBackoffFactor = 2.0
)

// DefaultBackoff starts at 250ms and doubles up to 5s with 20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Min: 250 * time.Millisecond, Max: fallbackBackoffMax, Factor: fallbackBackoffFactor, Jitter: 0.2}
}

// Next is the jittered wait after the given failed attempt, 1-based.
func (b Backoff) Next(attempt int) time.Duration {
	lo, hi, factor := b.Min, b.Max, b.Factor
	if lo <= 0 {
		lo = fallbackBackoffMin
	}
	if hi <= 0 {
		hi = fallbackBackoffMax
	}
	if factor <= 1 {
		factor = fallbackBackoffFactor
	}

	grown := float64(lo) * math.Pow(factor, float64(max(attempt, 1)-1))
	wait := hi
	if grown < float64(hi) {
		wait = time.Duration(grown)
	}
	return jitter(wait, min(b.Jitter, 1))
}

func jitter(wait time.Duration, ratio float64) time.Duration {
	if ratio <= 0 {
		return wait
	}
	spread := float64(wait) * ratio
	return time.Duration(float64(wait) - spread + rand.Float64()*2*spread)
}

// Delay is the wait before reconnect attempt n. The first attempt after a
// working session goes out immediately; later ones never wait less than floor.
func (b Backoff) Delay(attempt int, floor time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return max(b.Next(attempt-1), floor)
}
