package main

import (
	"time"

	"github.com/godbus/dbus/v5"
)

// timerFire is delivered on the scheduler's fire channel when an armed delay
// elapses. It carries the sequence number the timer was armed with so the
// monitor can discard fires that lost a race with a cancellation.
type timerFire struct {
	path dbus.ObjectPath
	seq  uint64
}

// reconnectTimer is a live handle to a single armed one-shot delay.
type reconnectTimer struct {
	timer *time.Timer
	seq   uint64
}

// scheduler arms one-shot delayed fires and delivers them to the monitor
// loop over fireCh. It never repeats a fire and holds no per-device state;
// the monitor enforces the one-live-handle-per-device rule.
type scheduler struct {
	fireCh chan timerFire
	seq    uint64
}

func newScheduler() *scheduler {
	return &scheduler{fireCh: make(chan timerFire, 16)}
}

// arm schedules a fire for path after delay and returns its handle. Must be
// called from the monitor loop.
func (s *scheduler) arm(path dbus.ObjectPath, delay time.Duration) *reconnectTimer {
	s.seq++
	seq := s.seq
	t := time.AfterFunc(delay, func() {
		s.fireCh <- timerFire{path: path, seq: seq}
	})
	return &reconnectTimer{timer: t, seq: seq}
}

// cancel stops the timer behind a handle. Safe on nil and on an already-fired
// or already-cancelled handle; if the fire was already in flight the monitor
// drops it by sequence comparison.
func (s *scheduler) cancel(h *reconnectTimer) {
	if h != nil {
		h.timer.Stop()
	}
}
