package websocket

import "sync/atomic"

// outbound is a queued write payload.
type outbound struct {
	msgType MessageType
	payload []byte
}

// Writer provides a bounded outbound queue drained by the session loop.
type Writer struct {
	queue     chan outbound
	policy    OverflowPolicy
	connected atomic.Bool
	dropped   atomic.Uint64
}

// NewWriter creates a Writer with a bounded queue.
func NewWriter(capacity int, policy OverflowPolicy) *Writer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Writer{
		queue:  make(chan outbound, capacity),
		policy: policy,
	}
}

// SetConnected toggles the writer connection state.
func (w *Writer) SetConnected(connected bool) {
	w.connected.Store(connected)
}

// Connected reports whether frames are currently accepted.
func (w *Writer) Connected() bool {
	return w.connected.Load()
}

// Send copies payload and enqueues it according to the overflow policy.
// It returns false while disconnected or when the frame was dropped.
func (w *Writer) Send(msgType MessageType, payload []byte) bool {
	if !w.connected.Load() {
		return false
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	frame := outbound{msgType: msgType, payload: buf}

	if w.policy == OverflowDropOldest {
		for {
			select {
			case w.queue <- frame:
				return true
			default:
				select {
				case <-w.queue:
					w.dropped.Add(1)
				default:
					return false
				}
			}
		}
	}

	select {
	case w.queue <- frame:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped counts frames lost to a full queue.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Drain clears the queue.
func (w *Writer) Drain() {
	for {
		select {
		case <-w.queue:
		default:
			return
		}
	}
}
