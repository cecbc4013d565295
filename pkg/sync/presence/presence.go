// Package presence heartbeats the local participant and mirrors remote
// presence. Consumers computing who is online must go through Online(),
// which treats records past the freshness threshold as offline no matter
// what their stored flag says.
package presence

import (
	"sync"
	"time"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/sched"
)

const (
	DefaultInterval = 30 * time.Second
	// DefaultFreshness is how long a record stays trustworthy without a
	// heartbeat. Kept above two intervals so one lost beat does not flap.
	DefaultFreshness = 75 * time.Second
)

// Upsert writes the local participant's presence row.
type Upsert func(rec models.PresenceRecord) error

// Tracker maintains the presence map for one session.
type Tracker struct {
	selfID    string
	selfName  string
	sched     *sched.Scheduler
	interval  time.Duration
	freshness time.Duration
	upsert    Upsert

	mu      sync.Mutex
	remote  map[string]models.PresenceRecord
	started bool
}

// New returns a Tracker. Zero durations select the defaults.
func New(selfID, selfName string, sc *sched.Scheduler, interval, freshness time.Duration, up Upsert) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Tracker{
		selfID:    selfID,
		selfName:  selfName,
		sched:     sc,
		interval:  interval,
		freshness: freshness,
		upsert:    up,
		remote:    make(map[string]models.PresenceRecord),
	}
}

// Start upserts self online immediately and arms the repeating heartbeat.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()
	t.beat()
}

// WakeUp fires an immediate heartbeat, used when the view regains
// visibility ahead of the interval.
func (t *Tracker) WakeUp() {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		t.beat()
	}
}

func (t *Tracker) beat() {
	rec := models.PresenceRecord{
		UserID:   t.selfID,
		UserName: t.selfName,
		Online:   true,
		LastSeen: time.Now().UnixNano(),
	}
	if err := t.upsert(rec); err != nil {
		logger.Warn("presence_heartbeat_failed", "user", t.selfID, "error", err)
	}
	t.sched.Reset(t.timerName(), t.interval, t.beat)
}

// Stop cancels the heartbeat and best-effort marks self offline. The write
// is fire-and-forget so teardown never blocks on it.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.started = false
	t.mu.Unlock()
	t.sched.Cancel(t.timerName())
	go func() {
		rec := models.PresenceRecord{
			UserID:   t.selfID,
			UserName: t.selfName,
			Online:   false,
			LastSeen: time.Now().UnixNano(),
		}
		if err := t.upsert(rec); err != nil {
			logger.Debug("presence_offline_upsert_failed", "user", t.selfID, "error", err)
		}
	}()
}

// HandleRemote applies an inbound presence event; events older than the
// known record are discarded as stale.
func (t *Tracker) HandleRemote(rec models.PresenceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.remote[rec.UserID]; ok && rec.LastSeen < cur.LastSeen {
		logger.Debug("stale_presence_event_dropped", "user", rec.UserID)
		return
	}
	t.remote[rec.UserID] = rec
}

// Seed preloads the map from stored rows, used on session start.
func (t *Tracker) Seed(recs []models.PresenceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range recs {
		if cur, ok := t.remote[rec.UserID]; ok && rec.LastSeen < cur.LastSeen {
			continue
		}
		t.remote[rec.UserID] = rec
	}
}

// Online returns the participants computed as online: flagged online and
// heartbeated within the freshness threshold.
func (t *Tracker) Online() []models.PresenceRecord {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.PresenceRecord, 0, len(t.remote))
	for _, rec := range t.remote {
		if !rec.Online || !rec.Fresh(now, t.freshness) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (t *Tracker) timerName() string { return "presence-heartbeat:" + t.selfID }
