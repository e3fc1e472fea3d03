package friend

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chatd/internal/protocol"
)

// Friend error taxonomy.
var (
	ErrCannotAddSelf     = errors.New("cannot add yourself")
	ErrAlreadyExists     = errors.New("relationship already exists")
	ErrRequestNotFound   = errors.New("friend request not found")
	ErrFriendshipMissing = errors.New("friendship not found")
	ErrInvalidStatus     = errors.New("request is not pending")
)

// Request states.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Request is one friend request. Transitions are one-shot.
type Request struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager is the in-memory friend store: pending requests plus a symmetric
// friendship set.
type Manager struct {
	mu       sync.RWMutex
	requests map[string]*Request
	friends  map[string]map[string]struct{}
}

// NewManager returns an empty friend store.
func NewManager() *Manager {
	return &Manager{
		requests: make(map[string]*Request),
		friends:  make(map[string]map[string]struct{}),
	}
}

// SendRequest creates a pending request from one user to another.
func (m *Manager) SendRequest(from, to string) (Request, error) {
	if from == to {
		return Request{}, ErrCannotAddSelf
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.areFriendsLocked(from, to) {
		return Request{}, ErrAlreadyExists
	}
	for _, req := range m.requests {
		if req.Status != StatusPending {
			continue
		}
		if (req.From == from && req.To == to) || (req.From == to && req.To == from) {
			return Request{}, ErrAlreadyExists
		}
	}

	req := &Request{
		ID:        protocol.NewID(),
		From:      from,
		To:        to,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	m.requests[req.ID] = req

	slog.Info("friend request sent", "request_id", req.ID, "from", from, "to", to)
	return *req, nil
}

// Accept resolves a pending request addressed to user and links the pair.
func (m *Manager) Accept(requestID, user string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok || req.To != user {
		return Request{}, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return Request{}, ErrInvalidStatus
	}
	req.Status = StatusAccepted
	m.linkLocked(req.From, req.To)

	slog.Info("friend request accepted", "request_id", requestID, "from", req.From, "to", req.To)
	return *req, nil
}

// Reject resolves a pending request addressed to user without linking.
func (m *Manager) Reject(requestID, user string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok || req.To != user {
		return Request{}, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return Request{}, ErrInvalidStatus
	}
	req.Status = StatusRejected
	return *req, nil
}

// RequestsFor returns every request involving a user, newest first.
func (m *Manager) RequestsFor(user string) []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Request
	for _, req := range m.requests {
		if req.From == user || req.To == user {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Friends returns a user's friends.
func (m *Manager) Friends(user string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.friends[user]))
	for id := range m.friends[user] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AreFriends reports whether two users are linked.
func (m *Manager) AreFriends(a, b string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.areFriendsLocked(a, b)
}

// Remove unlinks two users.
func (m *Manager) Remove(user, other string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.areFriendsLocked(user, other) {
		return ErrFriendshipMissing
	}
	m.unlinkLocked(user, other)
	slog.Info("friendship removed", "user", user, "other", other)
	return nil
}

func (m *Manager) areFriendsLocked(a, b string) bool {
	_, ok := m.friends[a][b]
	return ok
}

func (m *Manager) linkLocked(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		set, ok := m.friends[pair[0]]
		if !ok {
			set = make(map[string]struct{})
			m.friends[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

func (m *Manager) unlinkLocked(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		delete(m.friends[pair[0]], pair[1])
		if len(m.friends[pair[0]]) == 0 {
			delete(m.friends, pair[0])
		}
	}
}
