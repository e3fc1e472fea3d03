package hub

import (
	"context"
	"sync"

	"chatd/internal/protocol"
)

// Mailbox is the unbounded in-process queue draining into one session's
// writer. Enqueue order is delivery order. It trades memory for progress so
// a slow client never blocks the router.
type Mailbox struct {
	mu     sync.Mutex
	queue  []protocol.ServerEvent
	signal chan struct{}
	closed bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{signal: make(chan struct{}, 1)}
}

// Push enqueues one event. Pushes after Close are dropped.
func (m *Mailbox) Push(ev protocol.ServerEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Pop blocks until an event is available, the mailbox is closed and drained,
// or ctx is done. The second return is false when no more events will come.
func (m *Mailbox) Pop(ctx context.Context) (protocol.ServerEvent, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			ev := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return ev, true
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return protocol.ServerEvent{}, false
		}

		select {
		case <-ctx.Done():
			return protocol.ServerEvent{}, false
		case <-m.signal:
		}
	}
}

// Len returns the queued event count.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops accepting events. Queued events remain poppable.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}
