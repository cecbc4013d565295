package store

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/pubsub"
)

var db *pebble.DB
var dbPath string

// seq reduces key collisions when multiple messages share the same
// nanosecond timestamp.
var seq uint64

// echo, when set, receives the authoritative change event after each
// committed write. This is the only path by which the sync layer observes
// authoritative state.
var echo pubsub.Transport

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool { return db != nil }

// SetEcho wires the transport that receives authoritative echoes.
func SetEcho(t pubsub.Transport) { echo = t }

func publish(scope string, kind pubsub.Kind, v any) {
	if echo == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("echo_marshal_failed", "scope", scope, "error", err)
		return
	}
	if err := echo.Publish(scope, kind, b); err != nil {
		logger.Warn("echo_publish_failed", "scope", scope, "error", err)
	}
}

// msgKey builds the primary, time-sortable message key.
// Format: conv:<conversation>:msg:<unix_nano_padded>-<seq>
func msgKey(conversationID string, ts int64, s uint64) string {
	return fmt.Sprintf("conv:%s:msg:%020d-%06d", conversationID, ts, s)
}

func idxKey(msgID string) string { return "idx:msg:" + msgID }

func convKey(conversationID string) string { return "convs:" + conversationID }

// InsertMessage persists a new message, assigning the authoritative server
// ID, and publishes the row-inserted echo. The client's correlation token
// in metadata is carried through unchanged so optimistic entries can be
// reconciled.
func InsertMessage(m models.Message) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if m.Conversation == "" {
		return models.Message{}, fmt.Errorf("message missing conversation id")
	}
	if !m.Sender.Valid() {
		return models.Message{}, fmt.Errorf("invalid sender role %q", m.Sender)
	}

	m.ID = models.NewServerID()
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UTC().UnixNano()
	}
	// Authoritative rows are visible to subscribers, hence delivered.
	m.Status = models.StatusDelivered

	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	key := msgKey(m.Conversation, ts, s)

	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(key), data, nil); err != nil {
		return models.Message{}, err
	}
	if err := b.Set([]byte(idxKey(m.ID)), []byte(key), nil); err != nil {
		return models.Message{}, err
	}
	if err := b.Set([]byte(convKey(m.Conversation)), []byte(m.Conversation), nil); err != nil {
		return models.Message{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("insert_message_failed", "conversation", m.Conversation, "key", key, "error", err)
		return models.Message{}, err
	}
	logger.Info("message_saved", "conversation", m.Conversation, "key", key, "msg_id", m.ID)

	publish(pubsub.MessageScope(m.Conversation), pubsub.KindRowInserted, m)
	return m, nil
}

// GetMessage loads a message by its server-assigned ID.
func GetMessage(msgID string) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	key, closer, err := db.Get([]byte(idxKey(msgID)))
	if err != nil {
		return models.Message{}, fmt.Errorf("message %s not found: %w", msgID, err)
	}
	primary := append([]byte(nil), key...)
	closer.Close()

	val, closer, err := db.Get(primary)
	if err != nil {
		return models.Message{}, fmt.Errorf("message %s row missing: %w", msgID, err)
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(val, &m); err != nil {
		return models.Message{}, fmt.Errorf("corrupt message row %s: %w", msgID, err)
	}
	return m, nil
}

// MarkMessageRead applies a read receipt to a stored message and publishes
// both the row-updated echo and the read-receipt broadcast.
func MarkMessageRead(msgID, readBy string, readAt int64) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	m, err := GetMessage(msgID)
	if err != nil {
		return err
	}
	if readAt == 0 {
		readAt = time.Now().UTC().UnixNano()
	}
	if m.Meta == nil {
		m.Meta = &models.Metadata{}
	}
	m.Meta.ReadBy = readBy
	m.Meta.ReadAt = readAt
	m.Status = models.StatusRead

	key, closer, err := db.Get([]byte(idxKey(msgID)))
	if err != nil {
		return fmt.Errorf("message %s not found: %w", msgID, err)
	}
	primary := append([]byte(nil), key...)
	closer.Close()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(primary, data, pebble.Sync); err != nil {
		logger.Error("mark_read_failed", "msg_id", msgID, "error", err)
		return err
	}
	logger.Debug("message_marked_read", "msg_id", msgID, "read_by", readBy)

	publish(pubsub.MessageScope(m.Conversation), pubsub.KindRowUpdated, m)
	publish(pubsub.ReadScope(m.Conversation), pubsub.KindBroadcast,
		pubsub.ReadReceipt{MessageID: msgID, ReadBy: readBy, ReadAt: readAt})
	return nil
}

// ListMessages returns a conversation's messages in key order, which is
// insertion-time order.
func ListMessages(conversationID string) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(fmt.Sprintf("conv:%s:msg:", conversationID))
	iter, err := db.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skipping_corrupt_message_row", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// ListConversations returns the IDs of every conversation with at least one
// stored message.
func ListConversations() ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("convs:")
	iter, err := db.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Value()))
	}
	return out, iter.Error()
}

// TrimHistory deletes the oldest rows beyond limit for a conversation.
// Rows still in-flight (not delivered or read) are never dropped.
func TrimHistory(conversationID string, limit int) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if limit <= 0 {
		return 0, nil
	}
	prefix := []byte(fmt.Sprintf("conv:%s:msg:", conversationID))
	iter, err := db.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return 0, err
	}
	type row struct {
		key []byte
		m   models.Message
	}
	var rows []row
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		rows = append(rows, row{key: append([]byte(nil), iter.Key()...), m: m})
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	excess := len(rows) - limit
	if excess <= 0 {
		return 0, nil
	}
	deleted := 0
	b := db.NewBatch()
	defer b.Close()
	for _, r := range rows[:excess] {
		if !r.m.Status.Settled() {
			continue
		}
		if err := b.Delete(r.key, nil); err != nil {
			return deleted, err
		}
		if err := b.Delete([]byte(idxKey(r.m.ID)), nil); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("history_trimmed", "conversation", conversationID, "deleted", deleted)
	return deleted, nil
}

func prefixIterOptions(prefix []byte) *pebble.IterOptions {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			upper = upper[:i+1]
			break
		}
	}
	return &pebble.IterOptions{LowerBound: prefix, UpperBound: upper}
}
