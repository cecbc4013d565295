package models

import "time"

// TypingIndicator is one participant's live typing state in a conversation.
// Identity is (Conversation, UserID); at most one live indicator per pair.
type TypingIndicator struct {
	Conversation string `json:"conversation_id"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	IsTyping     bool   `json:"is_typing"`
	// UpdatedAt is unix nanoseconds of the last refresh.
	UpdatedAt int64 `json:"updated_at"`
}

// Expired reports whether the indicator is older than the expiry window at
// the given instant. Stale indicators are treated as cleared even when no
// explicit stop event ever arrived.
func (t TypingIndicator) Expired(now time.Time, window time.Duration) bool {
	return now.UnixNano()-t.UpdatedAt > window.Nanoseconds()
}

// PresenceRecord is a participant's last known presence. The Online flag is
// advisory: a record whose LastSeen exceeds the freshness threshold must be
// computed as offline regardless, since the offline-on-teardown signal can
// be lost.
type PresenceRecord struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Online   bool   `json:"is_online"`
	// LastSeen is unix nanoseconds of the last heartbeat.
	LastSeen int64 `json:"last_seen"`
}

// Fresh reports whether the record has been heartbeated within the
// freshness threshold.
func (p PresenceRecord) Fresh(now time.Time, threshold time.Duration) bool {
	return now.UnixNano()-p.LastSeen <= threshold.Nanoseconds()
}
