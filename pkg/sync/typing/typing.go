// Package typing coordinates the local is-typing broadcast (debounced to
// one signal per burst of keystrokes) and the remote indicator set, which
// expires entries on a hard timer so a lost stop event cannot leave a
// participant typing forever.
package typing

import (
	"sync"
	"time"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/sched"
)

const (
	// DefaultQuiet is the inactivity window after which typing=false is
	// emitted.
	DefaultQuiet = time.Second
	// DefaultExpiry force-clears a remote indicator with no refresh.
	DefaultExpiry = 5 * time.Second
)

// Broadcast sends the local participant's typing state to the transport.
type Broadcast func(isTyping bool)

// Coordinator tracks one conversation's typing state for one local
// participant.
type Coordinator struct {
	conversation string
	selfID       string
	sched        *sched.Scheduler
	quiet        time.Duration
	expiry       time.Duration
	broadcast    Broadcast

	mu     sync.Mutex
	active bool // local typing=true broadcast outstanding
	remote map[string]models.TypingIndicator
}

// New returns a Coordinator. Zero durations select the defaults. The
// scheduler is shared with the session so teardown cancellation is
// centralized.
func New(conversationID, selfID string, sc *sched.Scheduler, quiet, expiry time.Duration, b Broadcast) *Coordinator {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Coordinator{
		conversation: conversationID,
		selfID:       selfID,
		sched:        sc,
		quiet:        quiet,
		expiry:       expiry,
		broadcast:    b,
		remote:       make(map[string]models.TypingIndicator),
	}
}

// Keystroke registers local typing activity. The first keystroke of a
// burst emits typing=true; every keystroke resets the inactivity timer
// that eventually emits typing=false. Two rapid keystrokes therefore
// produce exactly one outbound typing=true.
func (c *Coordinator) Keystroke() {
	c.mu.Lock()
	emit := !c.active
	c.active = true
	c.mu.Unlock()

	if emit {
		c.broadcast(true)
	}
	c.sched.Reset(c.timerQuiet(), c.quiet, c.stopLocal)
}

// Stop explicitly ends the local typing burst, emitting typing=false if a
// typing=true broadcast is outstanding.
func (c *Coordinator) Stop() {
	c.sched.Cancel(c.timerQuiet())
	c.stopLocal()
}

func (c *Coordinator) stopLocal() {
	c.mu.Lock()
	emit := c.active
	c.active = false
	c.mu.Unlock()
	if emit {
		c.broadcast(false)
	}
}

// HandleRemote applies an inbound typing event. typing=true upserts the
// indicator and re-arms its expiry timer; typing=false removes it. Events
// for the local participant (our own broadcast echoed back) are ignored.
func (c *Coordinator) HandleRemote(ind models.TypingIndicator) {
	if ind.UserID == c.selfID {
		return
	}
	c.mu.Lock()
	if cur, ok := c.remote[ind.UserID]; ok && ind.UpdatedAt != 0 && ind.UpdatedAt < cur.UpdatedAt {
		c.mu.Unlock()
		logger.Debug("stale_typing_event_dropped", "user", ind.UserID)
		return
	}
	if !ind.IsTyping {
		delete(c.remote, ind.UserID)
		c.mu.Unlock()
		c.sched.Cancel(c.timerExpire(ind.UserID))
		return
	}
	if ind.UpdatedAt == 0 {
		ind.UpdatedAt = time.Now().UnixNano()
	}
	c.remote[ind.UserID] = ind
	c.mu.Unlock()

	user := ind.UserID
	c.sched.Reset(c.timerExpire(user), c.expiry, func() {
		c.mu.Lock()
		delete(c.remote, user)
		c.mu.Unlock()
		logger.Debug("typing_indicator_expired", "conversation", c.conversation, "user", user)
	})
}

// Typing returns the participants currently typing: exactly those with a
// live, non-expired indicator.
func (c *Coordinator) Typing() []models.TypingIndicator {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TypingIndicator, 0, len(c.remote))
	for _, ind := range c.remote {
		if ind.Expired(now, c.expiry) {
			continue
		}
		out = append(out, ind)
	}
	return out
}

func (c *Coordinator) timerQuiet() string { return "typing-quiet:" + c.conversation }

func (c *Coordinator) timerExpire(user string) string {
	return "typing-expire:" + c.conversation + ":" + user
}
