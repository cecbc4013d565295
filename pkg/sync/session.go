// Package sync is the real-time conversation synchronization core: it keeps
// the transcript, per-message delivery status, typing indicators and
// participant presence consistent over the pub/sub transport, and degrades
// to a local simulated reply mode when the transport is unavailable.
package sync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/pubsub"
	"convsync/pkg/sched"
	"convsync/pkg/sync/degrade"
	"convsync/pkg/sync/msgstore"
	"convsync/pkg/sync/presence"
	"convsync/pkg/sync/subs"
	"convsync/pkg/sync/typing"
	"convsync/pkg/telemetry"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("sync: session closed")

// ErrDegraded is returned when an operation needs the transport but the
// session has degraded. Recovery requires explicit re-initialization.
var ErrDegraded = errors.New("sync: session degraded")

// simulatedReply is the canned assistant message appended in degraded mode
// so the conversation stays usable without a backend.
const simulatedReply = "Our assistant is offline right now. A human agent will follow up as soon as the connection is restored."

// Identity is the local participant.
type Identity struct {
	UserID   string
	UserName string
	Role     models.SenderRole
}

// Config tunes one session. Zero values select defaults.
type Config struct {
	HistoryLimit      int
	TypingQuiet       time.Duration
	TypingExpiry      time.Duration
	HeartbeatInterval time.Duration
	PresenceFreshness time.Duration
	// FailureThreshold is the number of consecutive send failures that
	// trips degraded mode.
	FailureThreshold int
}

// Session synchronizes one conversation for one local participant. All
// cache mutation funnels through the message store's upsert paths; inbound
// events for a scope are applied in arrival order.
type Session struct {
	conversation string
	self         Identity
	cfg          Config

	persist  Persister
	subs     *subs.Manager
	sched    *sched.Scheduler
	store    *msgstore.Store
	typing   *typing.Coordinator
	presence *presence.Tracker
	health   *degrade.Controller

	mu     sync.Mutex
	closed bool
}

// Open builds a session, reloads persisted history, opens the scope
// subscriptions and starts the presence heartbeat. A transport that cannot
// open subscriptions does not fail Open: the session starts degraded.
func Open(conversationID string, self Identity, transport pubsub.Transport, persist Persister, cfg Config) (*Session, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("sync: empty conversation id")
	}
	if !self.Role.Valid() {
		self.Role = models.SenderUser
	}

	s := &Session{
		conversation: conversationID,
		self:         self,
		cfg:          cfg,
		persist:      persist,
		subs:         subs.NewManager(transport),
		sched:        sched.New(),
		store:        msgstore.New(cfg.HistoryLimit),
		health:       degrade.New(cfg.FailureThreshold),
	}
	s.typing = typing.New(conversationID, self.UserID, s.sched, cfg.TypingQuiet, cfg.TypingExpiry, s.broadcastTyping)
	s.presence = presence.New(self.UserID, self.UserName, s.sched, cfg.HeartbeatInterval, cfg.PresenceFreshness, s.upsertPresence)

	s.reload()
	s.subscribe()

	if !s.health.Degraded() {
		s.presence.Start()
	}
	telemetry.SessionsActive.Inc()
	logger.Info("session_opened", "conversation", conversationID, "user", self.UserID, "degraded", s.health.Degraded())
	return s, nil
}

// reload seeds the cache from persisted state. Persistence being down is a
// transport-level failure and trips degraded mode.
func (s *Session) reload() {
	rows, err := s.persist.ListMessages(s.conversation)
	if err != nil {
		s.health.Trip(fmt.Sprintf("history reload failed: %v", err))
		return
	}
	for _, m := range rows {
		s.store.Upsert(m)
	}
	if recs, err := s.persist.ListPresence(); err == nil {
		s.presence.Seed(recs)
	}
}

// subscribe opens the conversation's scopes. The first refusal trips
// degraded mode and abandons the rest; there is no silent retry loop.
func (s *Session) subscribe() {
	scopes := []string{
		pubsub.MessageScope(s.conversation),
		pubsub.TypingScope(s.conversation),
		pubsub.ReadScope(s.conversation),
		pubsub.PresenceScope,
	}
	for _, scope := range scopes {
		if err := s.subs.Open(scope, s.dispatch); err != nil {
			s.health.Trip(fmt.Sprintf("subscription open failed: %v", err))
			return
		}
	}
}

// dispatch routes one decoded inbound event. Per-scope ordering is carried
// by the subscription's pump goroutine.
func (s *Session) dispatch(ev pubsub.Event) {
	switch e := ev.(type) {
	case pubsub.RowInserted:
		s.applyRow(e.Message)
	case pubsub.RowUpdated:
		s.applyRow(e.Message)
	case pubsub.TypingChanged:
		s.typing.HandleRemote(e.Indicator)
	case pubsub.PresenceChanged:
		s.presence.HandleRemote(e.Record)
	case pubsub.ReadReceipt:
		s.store.ApplyReadReceipt(e.MessageID, e.ReadBy, e.ReadAt)
	default:
		logger.Warn("unhandled_event_type", "event", fmt.Sprintf("%T", ev))
	}
}

// applyRow reconciles an authoritative row against the cache. Rows
// carrying our correlation token replace their optimistic entry in place;
// everything else takes the plain upsert path.
func (s *Session) applyRow(m models.Message) {
	if m.Conversation != s.conversation {
		return
	}
	if m.Meta != nil && m.Meta.Correlation != "" {
		s.store.Reconcile(m.Meta.Correlation, m)
		return
	}
	s.store.Upsert(m)
}

// SendMessage creates the optimistic entry immediately and persists it.
// On write failure the entry is marked failed and left retryable; other
// messages are unaffected. In degraded mode the transport is skipped and a
// simulated assistant reply keeps the conversation usable.
func (s *Session) SendMessage(content string, meta *models.Metadata) (models.Message, error) {
	if s.isClosed() {
		return models.Message{}, ErrClosed
	}
	if content == "" {
		return models.Message{}, fmt.Errorf("sync: empty message content")
	}
	if s.health.Degraded() {
		return s.sendDegraded(content, meta)
	}

	m := models.Message{
		ID:           models.NewLocalID(),
		Conversation: s.conversation,
		Sender:       s.self.Role,
		Content:      content,
		CreatedAt:    time.Now().UTC().UnixNano(),
		Status:       models.StatusSending,
	}
	if meta != nil {
		cp := *meta
		m.Meta = &cp
	} else {
		m.Meta = &models.Metadata{}
	}
	m.Meta.Correlation = models.NewCorrelation()

	if err := s.store.Append(m); err != nil {
		return models.Message{}, err
	}
	// Typing stops implicitly when the message goes out.
	s.typing.Stop()
	return s.persistSend(m)
}

// RetryMessage re-enters sending for a failed message without creating a
// second entry.
func (s *Session) RetryMessage(msgID string) (models.Message, error) {
	if s.isClosed() {
		return models.Message{}, ErrClosed
	}
	if s.health.Degraded() {
		return models.Message{}, ErrDegraded
	}
	m, ok := s.store.Get(msgID)
	if !ok {
		return models.Message{}, fmt.Errorf("sync: unknown message %s", msgID)
	}
	if m.Status != models.StatusFailed {
		return models.Message{}, fmt.Errorf("sync: message %s is %s, not retryable", msgID, m.Status)
	}
	m.Status, _ = Transition(m.Status, models.StatusSending)
	s.store.SetStatus(m.ID, models.StatusSending)
	return s.persistSend(m)
}

// persistSend writes the message and reconciles the optimistic entry with
// the authoritative record on success.
func (s *Session) persistSend(m models.Message) (models.Message, error) {
	telemetry.SendsTotal.Inc()
	auth, err := s.persist.InsertMessage(m)
	if err != nil {
		s.store.SetStatus(m.ID, models.StatusFailed)
		telemetry.SendFailures.Inc()
		s.health.RecordSendFailure()
		logger.Warn("send_failed", "conversation", s.conversation, "msg_id", m.ID, "error", err)
		m.Status = models.StatusFailed
		return m, fmt.Errorf("sync: write failed: %w", err)
	}
	s.health.RecordSendSuccess()

	// Write acknowledged: sending -> sent. The echo upgrades to delivered;
	// Reconcile keeps the stronger status if it already arrived.
	auth.Status = models.StatusSent
	s.store.Reconcile(correlationOf(auth), auth)
	if cur, ok := s.store.Get(auth.ID); ok {
		auth = cur
	}
	logger.Debug("send_acknowledged", "conversation", s.conversation, "local_id", m.ID, "server_id", auth.ID)
	return auth, nil
}

// sendDegraded appends the user's message and a simulated assistant reply
// without touching the transport.
func (s *Session) sendDegraded(content string, meta *models.Metadata) (models.Message, error) {
	now := time.Now().UTC().UnixNano()
	m := models.Message{
		ID:           models.NewLocalID(),
		Conversation: s.conversation,
		Sender:       s.self.Role,
		Content:      content,
		CreatedAt:    now,
		Status:       models.StatusSent,
	}
	if meta != nil {
		cp := *meta
		m.Meta = &cp
	}
	if err := s.store.Append(m); err != nil {
		return models.Message{}, err
	}
	reply := models.Message{
		ID:           models.NewLocalID(),
		Conversation: s.conversation,
		Sender:       models.SenderAI,
		Content:      simulatedReply,
		CreatedAt:    now + 1,
		Status:       models.StatusDelivered,
	}
	if err := s.store.Append(reply); err != nil {
		return models.Message{}, err
	}
	logger.Debug("degraded_send_simulated", "conversation", s.conversation, "msg_id", m.ID)
	return m, nil
}

// MarkAsRead applies the read receipt locally for immediate feedback and
// persists it; the authoritative update comes back through the echo.
func (s *Session) MarkAsRead(msgID string) error {
	if s.isClosed() {
		return ErrClosed
	}
	now := time.Now().UTC().UnixNano()
	s.store.ApplyReadReceipt(msgID, s.self.UserID, now)
	if s.health.Degraded() {
		return nil
	}
	if err := s.persist.MarkMessageRead(msgID, s.self.UserID, now); err != nil {
		logger.Warn("mark_read_failed", "msg_id", msgID, "error", err)
		return fmt.Errorf("sync: write failed: %w", err)
	}
	return nil
}

// SetTyping forwards the local typing state. True counts as a keystroke;
// false ends the burst. Suppressed entirely while degraded.
func (s *Session) SetTyping(isTyping bool) {
	if s.isClosed() || s.health.Degraded() {
		return
	}
	if isTyping {
		s.typing.Keystroke()
	} else {
		s.typing.Stop()
	}
}

// WakeUp fires an immediate presence heartbeat (view regained visibility).
func (s *Session) WakeUp() {
	if s.isClosed() || s.health.Degraded() {
		return
	}
	s.presence.WakeUp()
}

// Messages returns the transcript in creation order.
func (s *Session) Messages() []models.Message {
	return s.store.ListByConversation(s.conversation)
}

// TypingParticipants returns who is currently typing.
func (s *Session) TypingParticipants() []models.TypingIndicator {
	return s.typing.Typing()
}

// OnlineParticipants returns who is currently computed as online.
func (s *Session) OnlineParticipants() []models.PresenceRecord {
	return s.presence.Online()
}

// Degraded reports the connection flag the UI renders.
func (s *Session) Degraded() bool { return s.health.Degraded() }

// DegradedReason returns why the session degraded, empty while live.
func (s *Session) DegradedReason() string { return s.health.Reason() }

// Reset is the explicit recovery path: it returns the latch to live,
// reloads history and reopens subscriptions. Callers invoke it from a
// manual retry affordance; nothing calls it automatically.
func (s *Session) Reset() error {
	if s.isClosed() {
		return ErrClosed
	}
	s.health.Reset()
	s.reload()
	s.subscribe()
	if s.health.Degraded() {
		return ErrDegraded
	}
	s.presence.Start()
	logger.Info("session_reset", "conversation", s.conversation)
	return nil
}

// Close tears the session down: timers are cancelled and subscriptions
// closed synchronously before the cache is dropped, so no handler mutates
// the store after Close returns. The offline presence write is
// fire-and-forget.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sched.StopAll()
	s.subs.Shutdown()
	s.presence.Stop()
	s.store.DropConversation(s.conversation)
	telemetry.SessionsActive.Dec()
	logger.Info("session_closed", "conversation", s.conversation, "user", s.self.UserID)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// broadcastTyping is the coordinator's outbound path. Failures are logged,
// never escalated: a lost typing signal self-heals through expiry.
func (s *Session) broadcastTyping(isTyping bool) {
	if s.isClosed() || s.health.Degraded() {
		return
	}
	ind := models.TypingIndicator{
		Conversation: s.conversation,
		UserID:       s.self.UserID,
		UserName:     s.self.UserName,
		IsTyping:     isTyping,
		UpdatedAt:    time.Now().UTC().UnixNano(),
	}
	if err := s.persist.UpsertTyping(ind); err != nil {
		logger.Debug("typing_broadcast_failed", "conversation", s.conversation, "error", err)
	}
}

// upsertPresence is the tracker's outbound path, suppressed while degraded.
// It stays open through Close: the heartbeat timers are already cancelled by
// then, and the one write that still arrives is the tracker's best-effort
// offline upsert, which must go out.
func (s *Session) upsertPresence(rec models.PresenceRecord) error {
	if s.health.Degraded() {
		return nil
	}
	return s.persist.UpsertPresence(rec)
}

func correlationOf(m models.Message) string {
	if m.Meta == nil {
		return ""
	}
	return m.Meta.Correlation
}
