package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convsync/pkg/models"
	"convsync/pkg/sched"
)

type sink struct {
	mu   sync.Mutex
	recs []models.PresenceRecord
}

func (s *sink) upsert(rec models.PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *sink) snapshot() []models.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PresenceRecord(nil), s.recs...)
}

func newTracker(t *testing.T, interval, freshness time.Duration) (*Tracker, *sink) {
	t.Helper()
	s := &sink{}
	sc := sched.New()
	t.Cleanup(sc.StopAll)
	return New("self", "Self", sc, interval, freshness, s.upsert), s
}

func TestStartUpsertsSelfOnlineImmediately(t *testing.T) {
	tr, s := newTracker(t, time.Minute, time.Hour)
	tr.Start()

	recs := s.snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, "self", recs[0].UserID)
	assert.True(t, recs[0].Online)
}

func TestHeartbeatRepeatsOnInterval(t *testing.T) {
	tr, s := newTracker(t, 30*time.Millisecond, time.Hour)
	tr.Start()

	require.Eventually(t, func() bool {
		return len(s.snapshot()) >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWakeUpBeatsAheadOfInterval(t *testing.T) {
	tr, s := newTracker(t, time.Hour, time.Hour)
	tr.Start()
	tr.WakeUp()

	assert.Len(t, s.snapshot(), 2)
}

func TestStopUpsertsSelfOffline(t *testing.T) {
	tr, s := newTracker(t, time.Minute, time.Hour)
	tr.Start()
	tr.Stop()

	require.Eventually(t, func() bool {
		recs := s.snapshot()
		return len(recs) == 2 && !recs[1].Online
	}, time.Second, 10*time.Millisecond)
}

func TestMissedHeartbeatComputedOffline(t *testing.T) {
	tr, _ := newTracker(t, time.Minute, 50*time.Millisecond)
	// Record claims online but its last heartbeat is beyond freshness.
	tr.HandleRemote(models.PresenceRecord{
		UserID:   "u2",
		Online:   true,
		LastSeen: time.Now().Add(-time.Second).UnixNano(),
	})
	assert.Empty(t, tr.Online())
}

func TestFreshOnlineRecordIsVisible(t *testing.T) {
	tr, _ := newTracker(t, time.Minute, time.Hour)
	tr.HandleRemote(models.PresenceRecord{UserID: "u2", Online: true, LastSeen: time.Now().UnixNano()})

	on := tr.Online()
	require.Len(t, on, 1)
	assert.Equal(t, "u2", on[0].UserID)
}

func TestStalePresenceEventDropped(t *testing.T) {
	tr, _ := newTracker(t, time.Minute, time.Hour)
	now := time.Now().UnixNano()
	tr.HandleRemote(models.PresenceRecord{UserID: "u2", UserName: "new", Online: true, LastSeen: now})
	tr.HandleRemote(models.PresenceRecord{UserID: "u2", UserName: "old", Online: false, LastSeen: now - 100})

	on := tr.Online()
	require.Len(t, on, 1)
	assert.Equal(t, "new", on[0].UserName)
}

func TestExplicitOfflineEventHides(t *testing.T) {
	tr, _ := newTracker(t, time.Minute, time.Hour)
	now := time.Now().UnixNano()
	tr.HandleRemote(models.PresenceRecord{UserID: "u2", Online: true, LastSeen: now})
	tr.HandleRemote(models.PresenceRecord{UserID: "u2", Online: false, LastSeen: now + 1})

	assert.Empty(t, tr.Online())
}
