package websocket

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a snapshot of supervisor counters.
type Stats struct {
	Connects      uint64
	Closes        uint64
	Stale         uint64
	DialFailures  uint64
	Messages      uint64
	HandlerErrors uint64
	// ClosesPerMinute averages closes over the supervisor lifetime.
	ClosesPerMinute float64
	// MessagesPerSecond covers the window since the previous report.
	MessagesPerSecond float64
}

type statsTracker struct {
	connects      atomic.Uint64
	closes        atomic.Uint64
	stale         atomic.Uint64
	dialFailures  atomic.Uint64
	messages      atomic.Uint64
	handlerErrors atomic.Uint64

	mu          sync.Mutex
	startedAt   time.Time
	windowAt    time.Time
	windowCount uint64
	lastRate    float64
}

func newStatsTracker(now time.Time) *statsTracker {
	return &statsTracker{startedAt: now, windowAt: now}
}

// snapshot returns the counters. roll closes the current msgs/s window.
func (t *statsTracker) snapshot(now time.Time, roll bool) Stats {
	s := Stats{
		Connects:      t.connects.Load(),
		Closes:        t.closes.Load(),
		Stale:         t.stale.Load(),
		DialFailures:  t.dialFailures.Load(),
		Messages:      t.messages.Load(),
		HandlerErrors: t.handlerErrors.Load(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if minutes := now.Sub(t.startedAt).Minutes(); minutes > 0 {
		s.ClosesPerMinute = float64(s.Closes) / minutes
	}
	rate := t.lastRate
	if elapsed := now.Sub(t.windowAt).Seconds(); elapsed > 0 {
		rate = float64(s.Messages-t.windowCount) / elapsed
	}
	s.MessagesPerSecond = rate
	if roll {
		t.windowAt = now
		t.windowCount = s.Messages
		t.lastRate = rate
	}
	return s
}
