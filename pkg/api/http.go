// Package api is the thin HTTP surface over the session hub, for UI
// clients and for exercising the sync core end to end.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/sync"
	"convsync/pkg/telemetry"
)

// Options tune the API handler.
type Options struct {
	RateRPS   float64
	RateBurst int
}

// Handler returns the versioned JSON API over the hub.
func Handler(hub *sync.Hub, opts Options) http.Handler {
	s := &server{hub: hub}
	lim := &limiterPool{rps: opts.RateRPS, burst: opts.RateBurst}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1/conversations/{conv}").Subrouter()
	v1.HandleFunc("/messages", s.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/messages", s.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{msg}/retry", s.retryMessage).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{msg}/read", s.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/typing", s.setTyping).Methods(http.MethodPost)
	v1.HandleFunc("/typing", s.listTyping).Methods(http.MethodGet)
	v1.HandleFunc("/presence", s.listPresence).Methods(http.MethodGet)
	v1.HandleFunc("/state", s.state).Methods(http.MethodGet)
	v1.HandleFunc("/reset", s.reset).Methods(http.MethodPost)
	v1.HandleFunc("", s.closeConversation).Methods(http.MethodDelete)

	return lim.rateLimit(r)
}

type server struct {
	hub *sync.Hub
}

func identityFrom(r *http.Request) sync.Identity {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		id = "anonymous"
	}
	name := r.Header.Get("X-User-Name")
	if name == "" {
		name = id
	}
	role := models.SenderRole(r.Header.Get("X-User-Role"))
	if !role.Valid() {
		role = models.SenderUser
	}
	return sync.Identity{UserID: id, UserName: name, Role: role}
}

func (s *server) session(w http.ResponseWriter, r *http.Request) (*sync.Session, bool) {
	conv := mux.Vars(r)["conv"]
	sess, err := s.hub.Session(conv, identityFrom(r))
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	jsonWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendRequest struct {
	Content  string           `json:"content"`
	Metadata *models.Metadata `json:"metadata,omitempty"`
}

func (s *server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Content == "" {
		jsonError(w, http.StatusBadRequest, "content is required")
		return
	}
	m, err := sess.SendMessage(req.Content, req.Metadata)
	if err != nil {
		// The optimistic entry stays in the transcript as failed; surface
		// it so the client can render the retry affordance.
		jsonWrite(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "message": m})
		return
	}
	jsonWrite(w, http.StatusOK, m)
}

func (s *server) listMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	jsonWrite(w, http.StatusOK, sess.Messages())
}

func (s *server) retryMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	m, err := sess.RetryMessage(mux.Vars(r)["msg"])
	if err != nil {
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonWrite(w, http.StatusOK, m)
}

func (s *server) markRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.MarkAsRead(mux.Vars(r)["msg"]); err != nil {
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (s *server) setTyping(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sess.SetTyping(req.IsTyping)
	jsonWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) listTyping(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	jsonWrite(w, http.StatusOK, sess.TypingParticipants())
}

func (s *server) listPresence(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	jsonWrite(w, http.StatusOK, sess.OnlineParticipants())
}

func (s *server) state(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	jsonWrite(w, http.StatusOK, map[string]any{
		"degraded": sess.Degraded(),
		"reason":   sess.DegradedReason(),
		"messages": len(sess.Messages()),
	})
}

func (s *server) reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonWrite(w, http.StatusOK, map[string]string{"status": "live"})
}

func (s *server) closeConversation(w http.ResponseWriter, r *http.Request) {
	conv := mux.Vars(r)["conv"]
	s.hub.Close(conv)
	logger.Info("conversation_closed_via_api", "conversation", conv)
	jsonWrite(w, http.StatusOK, map[string]string{"status": "closed"})
}
