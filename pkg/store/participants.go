package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/pubsub"
)

// Typing rows are keyed (conversation, user); presence rows are keyed by
// user only, matching the upsert contract of the hosted backend.

func typingKey(conversationID, userID string) string {
	return fmt.Sprintf("typing:%s:%s", conversationID, userID)
}

func presenceKey(userID string) string { return "presence:" + userID }

// UpsertTyping writes a typing indicator row and broadcasts it on the
// conversation's typing scope.
func UpsertTyping(t models.TypingIndicator) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal typing row: %w", err)
	}
	if err := db.Set([]byte(typingKey(t.Conversation, t.UserID)), data, pebble.NoSync); err != nil {
		return err
	}
	publish(pubsub.TypingScope(t.Conversation), pubsub.KindBroadcast, t)
	return nil
}

// UpsertPresence writes a presence row and broadcasts it on the global
// presence scope.
func UpsertPresence(p models.PresenceRecord) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal presence row: %w", err)
	}
	if err := db.Set([]byte(presenceKey(p.UserID)), data, pebble.NoSync); err != nil {
		return err
	}
	publish(pubsub.PresenceScope, pubsub.KindBroadcast, p)
	return nil
}

// ListPresence returns every stored presence row.
func ListPresence() ([]models.PresenceRecord, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(prefixIterOptions([]byte("presence:")))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.PresenceRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var p models.PresenceRecord
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			logger.Warn("skipping_corrupt_presence_row", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// PurgeTypingBefore deletes typing rows last updated before cutoff (unix
// nanoseconds). Used by the retention sweep.
func PurgeTypingBefore(cutoff int64) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(prefixIterOptions([]byte("typing:")))
	if err != nil {
		return 0, err
	}
	var stale [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var t models.TypingIndicator
		if err := json.Unmarshal(iter.Value(), &t); err != nil || t.UpdatedAt < cutoff {
			stale = append(stale, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, k := range stale {
		if err := db.Delete(k, pebble.NoSync); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// MarkPresenceOfflineBefore flips to offline every presence row whose last
// heartbeat is older than cutoff and still claims to be online. Used by the
// retention sweep to repair records whose teardown signal was lost.
func MarkPresenceOfflineBefore(cutoff int64) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	recs, err := ListPresence()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range recs {
		if !p.Online || p.LastSeen >= cutoff {
			continue
		}
		p.Online = false
		if err := UpsertPresence(p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
