package hub

import (
	"log/slog"
	"sync"

	"chatd/internal/metrics"
	"chatd/internal/protocol"
)

// Hub owns the live-clients map and the global broadcast channel. Sessions
// hold only their UserID key and communicate by channel, never by pointer
// into another session.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Session
	global  *Fanout
}

// NewHub creates a hub whose global channel buffers capacity events per
// subscriber.
func NewHub(capacity int) *Hub {
	return &Hub{
		clients: make(map[string]*Session),
		global:  NewFanout(capacity),
	}
}

// SubscribeGlobal adds a receiver on the global broadcast channel. Sessions
// subscribe before registering so they never miss their own UserJoined.
func (h *Hub) SubscribeGlobal() *Receiver {
	return h.global.Subscribe()
}

// PublishGlobal broadcasts an event to every global subscriber.
func (h *Hub) PublishGlobal(ev protocol.ServerEvent) int {
	n := h.global.Publish(ev)
	slog.Debug("global publish", "event", ev.Event, "recipients", n)
	return n
}

// Register adds a session to the live-clients map. When the same identity
// connects twice the newest session wins the map entry; the older connection
// keeps its channels until its own shutdown, which deregisters by user id
// and may therefore remove the survivor. Clients that want a second session
// must use a second identity.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	prev, replaced := h.clients[s.UserID]
	h.clients[s.UserID] = s
	count := len(h.clients)
	h.mu.Unlock()

	if replaced && prev != s {
		slog.Warn("duplicate identity replaced live session", "user_id", s.UserID)
	}
	metrics.ConnectionsTotal.Inc()
	metrics.ActiveSessions.Set(float64(count))
	slog.Info("session registered", "user_id", s.UserID, "total_sessions", count)
}

// Deregister removes a session. Reports whether it was present.
func (h *Hub) Deregister(userID string) bool {
	h.mu.Lock()
	_, ok := h.clients[userID]
	if ok {
		delete(h.clients, userID)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.DisconnectsTotal.Inc()
		metrics.ActiveSessions.Set(float64(count))
		slog.Info("session deregistered", "user_id", userID, "remaining_sessions", count)
	}
	return ok
}

// Session looks up a live session by user id.
func (h *Hub) Session(userID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.clients[userID]
	return s, ok
}

// SendTo enqueues an event on one session's mailbox.
func (h *Hub) SendTo(userID string, ev protocol.ServerEvent) bool {
	s, ok := h.Session(userID)
	if !ok {
		return false
	}
	s.Mailbox.Push(ev)
	return true
}

// ClientCount returns the live session count.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Nickname returns a session's nickname, falling back to the default for
// sessions that never set one.
func (h *Hub) Nickname(userID string) string {
	s, ok := h.Session(userID)
	if !ok {
		return protocol.DefaultNickname
	}
	return s.Nickname()
}
