package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"chatd/internal/protocol"
)

// Liveness states of a session's heartbeat state machine.
type Liveness int

const (
	Alive Liveness = iota
	Suspect
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	}
	return "unknown"
}

// Session is the shared state of one live connection: identity, mailbox,
// nickname, current room receiver and liveness. The connection's task group
// lives in the transport layer; everything here is safe for concurrent use.
type Session struct {
	UserID  string
	Mailbox *Mailbox

	mu       sync.Mutex
	nickname string
	roomRx   *Receiver
	rebind   chan *Receiver

	lastPong atomic.Int64 // unix nanos
}

// NewSession creates a session with an empty mailbox and a fresh liveness
// clock.
func NewSession(userID string) *Session {
	s := &Session{
		UserID:  userID,
		Mailbox: NewMailbox(),
		rebind:  make(chan *Receiver, 1),
	}
	s.Touch()
	return s
}

// Nickname returns the display name, defaulting when unset.
func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nickname == "" {
		return protocol.DefaultNickname
	}
	return s.nickname
}

// RawNickname returns the stored nickname, empty when never set.
func (s *Session) RawNickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

// SetNickname stores a validated nickname. Returns the previous display
// name and whether anything changed.
func (s *Session) SetNickname(nick string) (old string, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old = s.nickname
	if old == "" {
		old = protocol.DefaultNickname
	}
	if s.nickname == nick {
		return old, false
	}
	s.nickname = nick
	return old, true
}

// BindRoomReceiver swaps in a new room subscription, closing the previous
// one, and notifies the room-listener task.
func (s *Session) BindRoomReceiver(rx *Receiver) {
	s.mu.Lock()
	prev := s.roomRx
	s.roomRx = rx
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	// Replace any not-yet-consumed rebind notification.
	select {
	case <-s.rebind:
	default:
	}
	s.rebind <- rx
}

// ClearRoomReceiver drops the current room subscription.
func (s *Session) ClearRoomReceiver() {
	s.BindRoomReceiver(nil)
}

// RebindC signals the room-listener task when the subscription changes.
func (s *Session) RebindC() <-chan *Receiver {
	return s.rebind
}

// Touch records a liveness proof (connection accept or Pong).
func (s *Session) Touch() {
	s.lastPong.Store(time.Now().UnixNano())
}

// LastPong returns the time of the last liveness proof.
func (s *Session) LastPong() time.Time {
	return time.Unix(0, s.lastPong.Load())
}

// LivenessAt classifies the session at now. Alive within the heartbeat
// interval, Suspect until the timeout, Dead after it.
func (s *Session) LivenessAt(now time.Time, interval, timeout time.Duration) Liveness {
	elapsed := now.Sub(s.LastPong())
	switch {
	case elapsed >= timeout:
		return Dead
	case elapsed >= interval:
		return Suspect
	default:
		return Alive
	}
}
