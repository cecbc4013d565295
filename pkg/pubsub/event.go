package pubsub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"convsync/pkg/models"
)

// Kind distinguishes database-sourced change events from ad-hoc broadcasts.
type Kind string

const (
	KindRowInserted Kind = "row-inserted"
	KindRowUpdated  Kind = "row-updated"
	KindBroadcast   Kind = "broadcast"
)

// Scope key builders. One logical subscription exists per scope key.
func MessageScope(conversationID string) string { return "messages:" + conversationID }
func TypingScope(conversationID string) string  { return "typing:" + conversationID }
func ReadScope(conversationID string) string    { return "read-receipts:" + conversationID }

// PresenceScope is the single global presence scope.
const PresenceScope = "presence"

// Envelope is the wire unit the broker transports: an opaque JSON payload
// tagged with scope and kind. ReceivedAt is stamped by the subscription
// manager on arrival and drives staleness checks downstream.
type Envelope struct {
	Scope      string
	Kind       Kind
	Payload    []byte
	ReceivedAt time.Time
}

// Event is the decoded, typed form of an envelope. Handlers switch on the
// concrete type instead of probing payload fields.
type Event interface{ isEvent() }

// RowInserted is an authoritative new message row.
type RowInserted struct {
	Message    models.Message
	ReceivedAt time.Time
}

// RowUpdated is an authoritative update to an existing message row.
type RowUpdated struct {
	Message    models.Message
	ReceivedAt time.Time
}

// TypingChanged is a typing broadcast for one participant.
type TypingChanged struct {
	Indicator  models.TypingIndicator
	ReceivedAt time.Time
}

// PresenceChanged is a presence upsert for one participant.
type PresenceChanged struct {
	Record     models.PresenceRecord
	ReceivedAt time.Time
}

// ReadReceipt marks a message as read by a participant.
type ReadReceipt struct {
	MessageID  string `json:"message_id"`
	ReadBy     string `json:"read_by"`
	ReadAt     int64  `json:"read_at"`
	ReceivedAt time.Time
}

func (RowInserted) isEvent()     {}
func (RowUpdated) isEvent()      {}
func (TypingChanged) isEvent()   {}
func (PresenceChanged) isEvent() {}
func (ReadReceipt) isEvent()     {}

// Decode validates an envelope against its scope and returns the typed
// event. Unknown scopes and malformed payloads are errors; the caller
// decides whether to drop or surface them.
func Decode(env Envelope) (Event, error) {
	switch {
	case strings.HasPrefix(env.Scope, "messages:"):
		var m models.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode message event: %w", err)
		}
		if m.ID == "" {
			return nil, fmt.Errorf("message event missing id")
		}
		if env.Kind == KindRowUpdated {
			return RowUpdated{Message: m, ReceivedAt: env.ReceivedAt}, nil
		}
		return RowInserted{Message: m, ReceivedAt: env.ReceivedAt}, nil
	case strings.HasPrefix(env.Scope, "typing:"):
		var t models.TypingIndicator
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, fmt.Errorf("decode typing event: %w", err)
		}
		if t.UserID == "" {
			return nil, fmt.Errorf("typing event missing user_id")
		}
		return TypingChanged{Indicator: t, ReceivedAt: env.ReceivedAt}, nil
	case strings.HasPrefix(env.Scope, "read-receipts:"):
		var r ReadReceipt
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return nil, fmt.Errorf("decode read receipt: %w", err)
		}
		if r.MessageID == "" {
			return nil, fmt.Errorf("read receipt missing message_id")
		}
		r.ReceivedAt = env.ReceivedAt
		return r, nil
	case env.Scope == PresenceScope:
		var p models.PresenceRecord
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode presence event: %w", err)
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("presence event missing user_id")
		}
		return PresenceChanged{Record: p, ReceivedAt: env.ReceivedAt}, nil
	}
	return nil, fmt.Errorf("unknown scope %q", env.Scope)
}
