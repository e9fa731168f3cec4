package device

import (
	"sync/atomic"
	"time"
)

// Stall detection defaults
const (
	StallBuffers    = 10
	MinStallTimeout = 500 * time.Millisecond
)

// Heartbeat records device callbacks. A started stream whose callbacks stop arriving
// for longer than the timeout is reported dead so the manager restarts it.
type Heartbeat struct {
	timeout time.Duration
	now     func() time.Time
	last    atomic.Int64
}

// NewHeartbeat creates a heartbeat for streams opened with config. The timeout is
// StallBuffers device buffers, and never less than MinStallTimeout.
func NewHeartbeat(config StreamConfig) *Heartbeat {
	timeout := StallBuffers * config.BufferDuration()
	if timeout < MinStallTimeout {
		timeout = MinStallTimeout
	}
	return &Heartbeat{timeout: timeout, now: time.Now}
}

// Beat marks a callback. It is safe to call from the device thread.
func (h *Heartbeat) Beat() {
	h.last.Store(h.now().UnixNano())
}

// Alive reports whether a beat arrived within the timeout
func (h *Heartbeat) Alive() bool {
	last := h.last.Load()
	if last == 0 {
		return false
	}
	return h.now().Sub(time.Unix(0, last)) < h.timeout
}

// Timeout returns the stall timeout
func (h *Heartbeat) Timeout() time.Duration {
	return h.timeout
}
