// Package msgstore is the in-memory transcript cache a conversation view
// renders from. All inbound mutation goes through Upsert and
// ApplyReadReceipt; reconciliation is always by message ID, never by
// position.
package msgstore

import (
	"fmt"
	"sort"
	"sync"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/telemetry"
)

const defaultHistoryLimit = 500

type receipt struct {
	readBy string
	readAt int64
}

// Store caches messages per conversation, ordered by creation timestamp
// with ties broken by ID, and deduplicated by ID.
type Store struct {
	mu    sync.RWMutex
	conv  map[string]map[string]models.Message
	owner map[string]string // message id -> conversation id
	// pending buffers read receipts that arrived before their message.
	pending map[string][]receipt
	limit   int
}

// New returns a Store with the given per-conversation history limit
// (<=0 selects the default).
func New(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Store{
		conv:    make(map[string]map[string]models.Message),
		owner:   make(map[string]string),
		pending: make(map[string][]receipt),
		limit:   historyLimit,
	}
}

// Append inserts a new message and fails on a duplicate ID. It is the path
// for optimistic local entries; inbound events must use Upsert.
func (s *Store) Append(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owner[m.ID]; ok {
		return fmt.Errorf("duplicate message id %s", m.ID)
	}
	s.put(m)
	return nil
}

// Upsert inserts or replaces a message by ID. It is idempotent: replaying
// the same event changes nothing. An update that would move a read message
// back before its stored read state is discarded as stale.
func (s *Store) Upsert(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.get(m.ID); ok {
		if cur == m {
			telemetry.DuplicateDrops.Inc()
			return
		}
		if staleAgainst(cur, m) {
			telemetry.StaleDrops.Inc()
			logger.Debug("stale_message_event_dropped", "msg_id", m.ID)
			return
		}
	}
	s.put(m)
	s.trim(m.Conversation)
}

// Reconcile replaces the optimistic entry carrying the correlation token
// with the authoritative record, preserving a single logical entry through
// the local-id to server-id switch. It is idempotent: when the
// authoritative ID is already present (the echo won the race) the record
// is upserted and the leftover optimistic entry, if any, is removed.
func (s *Store) Reconcile(correlation string, authoritative models.Message) {
	if correlation == "" {
		s.Upsert(authoritative)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.conv[authoritative.Conversation]
	for id, m := range msgs {
		if id == authoritative.ID {
			continue
		}
		if m.Meta != nil && m.Meta.Correlation == correlation {
			delete(msgs, id)
			delete(s.owner, id)
			// Receipts buffered against the local id follow the entry.
			if rs, ok := s.pending[id]; ok {
				s.pending[authoritative.ID] = append(s.pending[authoritative.ID], rs...)
				delete(s.pending, id)
			}
			telemetry.Reconciles.Inc()
			break
		}
	}
	// The write acknowledgement and the echo race on the same entry; the
	// later arrival must not walk the status back down the chain.
	if cur, ok := msgs[authoritative.ID]; ok && statusRank[cur.Status] > statusRank[authoritative.Status] {
		authoritative.Status = cur.Status
		telemetry.StaleDrops.Inc()
	}
	s.put(authoritative)
	s.trim(authoritative.Conversation)
}

// statusRank orders the delivery chain for regression checks. failed sits
// beside sending: a retry moves between them explicitly via SetStatus.
var statusRank = map[models.DeliveryStatus]int{
	models.StatusComposing: 0,
	models.StatusSending:   1,
	models.StatusFailed:    1,
	models.StatusSent:      2,
	models.StatusDelivered: 3,
	models.StatusRead:      4,
}

// SetStatus transitions the message's delivery status in place. Returns
// false when the message is unknown.
func (s *Store) SetStatus(msgID string, status models.DeliveryStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.get(msgID)
	if !ok {
		return false
	}
	m.Status = status
	s.put(m)
	return true
}

// Get returns the message with the given ID.
func (s *Store) Get(msgID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(msgID)
}

// ListByConversation returns the conversation's messages in non-decreasing
// creation order, ties broken by ID. The slice is a copy.
func (s *Store) ListByConversation(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.conv[conversationID]
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ApplyReadReceipt marks the message read. A receipt for a message not yet
// present is buffered and applied when the message arrives, not dropped.
func (s *Store) ApplyReadReceipt(msgID, readBy string, readAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.get(msgID)
	if !ok {
		s.pending[msgID] = append(s.pending[msgID], receipt{readBy: readBy, readAt: readAt})
		logger.Debug("read_receipt_buffered", "msg_id", msgID)
		return
	}
	s.applyReceipt(m, receipt{readBy: readBy, readAt: readAt})
}

// DropConversation removes every cached message for the conversation.
func (s *Store) DropConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.conv[conversationID] {
		delete(s.owner, id)
	}
	delete(s.conv, conversationID)
}

// Len returns the number of cached messages for the conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conv[conversationID])
}

func (s *Store) get(msgID string) (models.Message, bool) {
	conv, ok := s.owner[msgID]
	if !ok {
		return models.Message{}, false
	}
	m, ok := s.conv[conv][msgID]
	return m, ok
}

// put stores m and flushes any buffered receipts for its ID. Callers hold
// the write lock.
func (s *Store) put(m models.Message) {
	if s.conv[m.Conversation] == nil {
		s.conv[m.Conversation] = make(map[string]models.Message)
	}
	s.conv[m.Conversation][m.ID] = m
	s.owner[m.ID] = m.Conversation
	if rs, ok := s.pending[m.ID]; ok {
		delete(s.pending, m.ID)
		for _, r := range rs {
			s.applyReceipt(m, r)
			m, _ = s.get(m.ID)
		}
	}
}

func (s *Store) applyReceipt(m models.Message, r receipt) {
	if m.Meta != nil && m.Meta.ReadAt != 0 && r.readAt != 0 && r.readAt < m.Meta.ReadAt {
		// Older receipt than the one already applied.
		telemetry.StaleDrops.Inc()
		return
	}
	if m.Meta == nil {
		m.Meta = &models.Metadata{}
	}
	m.Meta.ReadBy = r.readBy
	m.Meta.ReadAt = r.readAt
	m.Status = models.StatusRead
	s.conv[m.Conversation][m.ID] = m
}

// trim drops oldest-beyond-limit entries that have settled (delivered or
// read); in-flight entries are never dropped. Callers hold the write lock.
func (s *Store) trim(conversationID string) {
	msgs := s.conv[conversationID]
	if len(msgs) <= s.limit {
		return
	}
	ordered := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		ordered = append(ordered, m)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })
	excess := len(ordered) - s.limit
	for _, m := range ordered {
		if excess == 0 {
			break
		}
		if !m.Status.Settled() {
			continue
		}
		delete(msgs, m.ID)
		delete(s.owner, m.ID)
		excess--
	}
}

// staleAgainst reports whether incoming would regress read state relative
// to the stored message.
func staleAgainst(cur, incoming models.Message) bool {
	if cur.Meta == nil || cur.Meta.ReadAt == 0 {
		return false
	}
	if incoming.Meta == nil {
		return true
	}
	return incoming.Meta.ReadAt < cur.Meta.ReadAt
}
