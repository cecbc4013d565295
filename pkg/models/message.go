package models

import "github.com/google/uuid"

// SenderRole identifies who authored a message.
type SenderRole string

const (
	SenderUser  SenderRole = "user"
	SenderAI    SenderRole = "ai"
	SenderAgent SenderRole = "agent"
)

// Valid reports whether the role is one of the known sender roles.
func (r SenderRole) Valid() bool {
	switch r {
	case SenderUser, SenderAI, SenderAgent:
		return true
	}
	return false
}

// DeliveryStatus is the per-message delivery lifecycle state.
type DeliveryStatus string

const (
	StatusComposing DeliveryStatus = "composing"
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Settled reports whether the message has reached a state where it may be
// trimmed from the in-memory history (never while sending or failed).
func (s DeliveryStatus) Settled() bool {
	return s == StatusDelivered || s == StatusRead
}

// Metadata carries optional message annotations.
type Metadata struct {
	Attachments []string `json:"attachments,omitempty"`
	// Confidence is the generator's self-reported confidence for AI replies.
	Confidence float64 `json:"confidence,omitempty"`
	ReadBy     string  `json:"read_by,omitempty"`
	// ReadAt is unix nanoseconds; zero means unread.
	ReadAt int64 `json:"read_at,omitempty"`
	// Correlation is the client-side token carried through the persistence
	// write and echoed back, used to reconcile optimistic entries.
	Correlation string `json:"correlation,omitempty"`
}

// Message is a single transcript entry. Optimistic local entries carry a
// client-generated ID until the authoritative echo replaces it.
type Message struct {
	ID           string         `json:"id"`
	Conversation string         `json:"conversation_id"`
	Sender       SenderRole     `json:"sender_type"`
	Content      string         `json:"content"`
	// CreatedAt is unix nanoseconds.
	CreatedAt int64          `json:"created_at"`
	Status    DeliveryStatus `json:"status,omitempty"`
	Meta      *Metadata      `json:"metadata,omitempty"`
}

// Before orders messages by creation time with ties broken by ID, giving a
// total order within one conversation.
func (m Message) Before(o Message) bool {
	if m.CreatedAt != o.CreatedAt {
		return m.CreatedAt < o.CreatedAt
	}
	return m.ID < o.ID
}

// NewLocalID returns a client-generated message ID. The prefix keeps local
// optimistic ids visually distinct from server-assigned ones in logs.
func NewLocalID() string { return "local-" + uuid.NewString() }

// NewServerID returns a server-assigned message ID.
func NewServerID() string { return "msg-" + uuid.NewString() }

// NewCorrelation returns a fresh correlation token for an outbound write.
func NewCorrelation() string { return "cor-" + uuid.NewString() }
