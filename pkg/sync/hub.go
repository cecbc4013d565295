package sync

import (
	"sync"

	"convsync/pkg/logger"
	"convsync/pkg/pubsub"
)

// Hub owns the process-wide session table, one session per conversation.
// It is constructed and injected by the application, not a hidden global.
type Hub struct {
	transport pubsub.Transport
	persist   Persister
	cfg       Config

	mu       sync.Mutex
	sessions map[string]*Session
	shut     bool
}

// NewHub returns an empty Hub.
func NewHub(transport pubsub.Transport, persist Persister, cfg Config) *Hub {
	return &Hub{
		transport: transport,
		persist:   persist,
		cfg:       cfg,
		sessions:  make(map[string]*Session),
	}
}

// Session returns the open session for the conversation, opening one with
// the given identity if none exists.
func (h *Hub) Session(conversationID string, self Identity) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shut {
		return nil, ErrClosed
	}
	if s, ok := h.sessions[conversationID]; ok {
		return s, nil
	}
	s, err := Open(conversationID, self, h.transport, h.persist, h.cfg)
	if err != nil {
		return nil, err
	}
	h.sessions[conversationID] = s
	return s, nil
}

// Close tears down the conversation's session if open.
func (h *Hub) Close(conversationID string) {
	h.mu.Lock()
	s := h.sessions[conversationID]
	delete(h.sessions, conversationID)
	h.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Shutdown closes every session and rejects further use.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.shut {
		h.mu.Unlock()
		return
	}
	h.shut = true
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
	logger.Info("session_hub_shutdown", "sessions", len(sessions))
}
