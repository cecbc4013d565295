// Package degrade latches a session from live into degraded mode when the
// transport proves unhealthy. Recovery is explicit (Reset from a new
// session or a manual retry); there is no background re-probe, so a flaky
// transport cannot cause thrashing.
package degrade

import (
	"sync"

	"convsync/pkg/logger"
	"convsync/pkg/telemetry"
)

const defaultFailureThreshold = 3

// Controller is the live/degraded latch for one session.
type Controller struct {
	mu          sync.Mutex
	degraded    bool
	reason      string
	consecutive int
	threshold   int
}

// New returns a live Controller tripping after threshold consecutive send
// failures (<=0 selects the default).
func New(threshold int) *Controller {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	return &Controller{threshold: threshold}
}

// Degraded reports whether the session is in degraded mode.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Reason returns why the session degraded, empty while live.
func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Trip forces degraded mode immediately (subscription open failure or an
// explicit transport error callback).
func (c *Controller) Trip(reason string) {
	c.mu.Lock()
	already := c.degraded
	c.degraded = true
	if c.reason == "" {
		c.reason = reason
	}
	c.mu.Unlock()
	if !already {
		telemetry.DegradedTransitions.Inc()
		logger.Warn("entering_degraded_mode", "reason", reason)
	}
}

// RecordSendFailure counts one failed send; after the configured number of
// consecutive failures the controller trips. Returns whether the session
// is degraded after this failure.
func (c *Controller) RecordSendFailure() bool {
	c.mu.Lock()
	c.consecutive++
	trip := !c.degraded && c.consecutive >= c.threshold
	if trip {
		c.degraded = true
		if c.reason == "" {
			c.reason = "repeated send failures"
		}
	}
	deg := c.degraded
	c.mu.Unlock()
	if trip {
		telemetry.DegradedTransitions.Inc()
		logger.Warn("entering_degraded_mode", "reason", "repeated send failures")
	}
	return deg
}

// RecordSendSuccess resets the consecutive-failure counter. It does not
// leave degraded mode; only Reset does.
func (c *Controller) RecordSendSuccess() {
	c.mu.Lock()
	c.consecutive = 0
	c.mu.Unlock()
}

// Reset returns the controller to live. Callers own the decision; this is
// the explicit re-initialization path (new conversation, manual retry,
// app reload).
func (c *Controller) Reset() {
	c.mu.Lock()
	was := c.degraded
	c.degraded = false
	c.reason = ""
	c.consecutive = 0
	c.mu.Unlock()
	if was {
		logger.Info("leaving_degraded_mode")
	}
}
