// Package sched is a small named-timer table shared by the typing
// coordinator and presence tracker. Centralizing arm/reset/cancel means
// teardown cannot forget a pending timer.
package sched

import (
	"sync"
	"time"
)

// Scheduler owns a set of named one-shot timers. Fire callbacks run on the
// timer goroutine; callers hand them off to their own loop if they need
// ordering with other work. All methods are safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Arm starts (or restarts) the named timer. If a timer with the same name
// is already pending it is cancelled first, so Arm doubles as Reset.
func (s *Scheduler) Arm(name string, d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.timers[name]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		// A timer that lost the race against Cancel, StopAll or a re-arm
		// must not fire; identity check guards against all three.
		cur, ok := s.timers[name]
		if !ok || cur != t || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.mu.Unlock()
		fire()
	})
	s.timers[name] = t
}

// Reset re-arms the named timer with the same semantics as Arm.
func (s *Scheduler) Reset(name string, d time.Duration, fire func()) {
	s.Arm(name, d, fire)
}

// Cancel stops the named timer if pending. Returns whether it was pending.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, name)
	return ok
}

// Pending reports whether the named timer is armed.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// StopAll cancels every pending timer and rejects further arming. Called
// synchronously on teardown before subscriptions close.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}
