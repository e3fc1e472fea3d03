package hub

import (
	"sync"
	"sync/atomic"

	"chatd/internal/metrics"
	"chatd/internal/protocol"
)

// DefaultCapacity is the per-subscriber buffer used when none is configured.
const DefaultCapacity = 1000

// Fanout is a multi-subscriber broadcast channel. Every subscriber has its
// own bounded buffer; a subscriber that falls behind drops its oldest events
// and accumulates a lag count that Receiver.Lagged surfaces once.
type Fanout struct {
	mu       sync.Mutex
	subs     map[*Receiver]struct{}
	capacity int
	closed   bool
}

// Receiver is one subscription to a Fanout.
type Receiver struct {
	fanout *Fanout
	ch     chan protocol.ServerEvent
	lagged atomic.Int64
	once   sync.Once
}

// NewFanout creates a fan-out channel with the given per-subscriber buffer.
func NewFanout(capacity int) *Fanout {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Fanout{subs: make(map[*Receiver]struct{}), capacity: capacity}
}

// Subscribe adds a receiver. Events published after this call are visible.
func (f *Fanout) Subscribe() *Receiver {
	r := &Receiver{ch: make(chan protocol.ServerEvent, f.capacity)}
	r.fanout = f

	f.mu.Lock()
	if f.closed {
		close(r.ch)
	} else {
		f.subs[r] = struct{}{}
	}
	f.mu.Unlock()
	return r
}

// Publish delivers an event to every live subscriber and returns how many
// received it. Full subscribers shed their oldest buffered event first.
// Delivery happens under the lock so concurrent publishers resolve to one
// channel-total order that every subscriber observes identically; offer
// never blocks, so holding the lock across the loop is safe.
func (f *Fanout) Publish(ev protocol.ServerEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := 0
	for r := range f.subs {
		if r.offer(ev) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the live subscriber count.
func (f *Fanout) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close unsubscribes everyone and closes their channels.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[*Receiver]struct{})
	f.mu.Unlock()

	for r := range subs {
		r.once.Do(func() { close(r.ch) })
	}
}

// offer enqueues without blocking. On a full buffer the oldest event is
// dropped and counted as lag, mirroring a bounded broadcast ring.
func (r *Receiver) offer(ev protocol.ServerEvent) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	for {
		select {
		case r.ch <- ev:
			return true
		default:
		}
		select {
		case <-r.ch:
			r.lagged.Add(1)
			metrics.LagDropped.Inc()
		default:
		}
	}
}

// C is the receive channel. Closed when the receiver is closed.
func (r *Receiver) C() <-chan protocol.ServerEvent {
	if r == nil {
		return nil
	}
	return r.ch
}

// Lagged returns and resets the number of events dropped since the last
// call. The owning session logs it and continues.
func (r *Receiver) Lagged() int64 {
	return r.lagged.Swap(0)
}

// Close detaches the receiver from its fan-out.
func (r *Receiver) Close() {
	if r == nil {
		return
	}
	if f := r.fanout; f != nil {
		f.mu.Lock()
		delete(f.subs, r)
		f.mu.Unlock()
	}
	r.once.Do(func() { close(r.ch) })
}
