package sync

import (
	"convsync/pkg/models"
	"convsync/pkg/store"
)

// Persister is the persistence collaborator contract: insert returns the
// authoritative record (server id assigned, correlation token echoed), and
// every upsert is keyed the way the hosted backend keys its rows.
type Persister interface {
	InsertMessage(m models.Message) (models.Message, error)
	MarkMessageRead(msgID, readBy string, readAt int64) error
	UpsertTyping(t models.TypingIndicator) error
	UpsertPresence(p models.PresenceRecord) error
	ListMessages(conversationID string) ([]models.Message, error)
	ListPresence() ([]models.PresenceRecord, error)
}

// StorePersister adapts the pebble-backed store package to Persister.
type StorePersister struct{}

func (StorePersister) InsertMessage(m models.Message) (models.Message, error) {
	return store.InsertMessage(m)
}

func (StorePersister) MarkMessageRead(msgID, readBy string, readAt int64) error {
	return store.MarkMessageRead(msgID, readBy, readAt)
}

func (StorePersister) UpsertTyping(t models.TypingIndicator) error {
	return store.UpsertTyping(t)
}

func (StorePersister) UpsertPresence(p models.PresenceRecord) error {
	return store.UpsertPresence(p)
}

func (StorePersister) ListMessages(conversationID string) ([]models.Message, error) {
	return store.ListMessages(conversationID)
}

func (StorePersister) ListPresence() ([]models.PresenceRecord, error) {
	return store.ListPresence()
}
