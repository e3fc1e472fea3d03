package hub

import (
	"log/slog"
	"sync"

	"chatd/internal/protocol"
)

// Broker owns the per-room fan-out channels and the user → current-room
// index. Each user is subscribed to at most one room channel at a time.
type Broker struct {
	mu       sync.Mutex
	channels map[string]*Fanout
	current  map[string]string
	capacity int
}

// NewBroker creates a broker whose room channels buffer capacity events per
// subscriber.
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broker{
		channels: make(map[string]*Fanout),
		current:  make(map[string]string),
		capacity: capacity,
	}
}

// Enter subscribes a user to a room channel, creating the channel if needed,
// and records the room as the user's current room. The previous room, if
// any, is simply unmapped; the caller drops its old receiver.
func (b *Broker) Enter(userID, roomID string) *Receiver {
	b.mu.Lock()
	f, ok := b.channels[roomID]
	if !ok {
		f = NewFanout(b.capacity)
		b.channels[roomID] = f
	}
	b.current[userID] = roomID
	b.mu.Unlock()

	slog.Debug("broker enter", "user_id", userID, "room_id", roomID)
	return f.Subscribe()
}

// Leave clears the user's current room and returns it.
func (b *Broker) Leave(userID string) (string, bool) {
	b.mu.Lock()
	roomID, ok := b.current[userID]
	if ok {
		delete(b.current, userID)
	}
	b.mu.Unlock()

	if ok {
		slog.Debug("broker leave", "user_id", userID, "room_id", roomID)
	}
	return roomID, ok
}

// CurrentRoom returns the user's current room.
func (b *Broker) CurrentRoom(userID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	roomID, ok := b.current[userID]
	return roomID, ok
}

// Publish delivers an event on a room channel and returns the live
// subscriber count that received it.
func (b *Broker) Publish(roomID string, ev protocol.ServerEvent) int {
	b.mu.Lock()
	f, ok := b.channels[roomID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return f.Publish(ev)
}

// PublishToCurrent publishes on the sender's current room channel.
func (b *Broker) PublishToCurrent(userID string, ev protocol.ServerEvent) (int, bool) {
	roomID, ok := b.CurrentRoom(userID)
	if !ok {
		return 0, false
	}
	return b.Publish(roomID, ev), true
}

// Remove tears down a room channel after the room is destroyed.
func (b *Broker) Remove(roomID string) {
	b.mu.Lock()
	f, ok := b.channels[roomID]
	if ok {
		delete(b.channels, roomID)
	}
	b.mu.Unlock()

	if ok {
		f.Close()
		slog.Debug("broker channel removed", "room_id", roomID)
	}
}

// Stats summarizes the broker for the stats endpoint.
type BrokerStats struct {
	Channels    int `json:"active_channels"`
	UsersInRoom int `json:"users_in_rooms"`
	Subscribers int `json:"total_subscribers"`
}

// Stat returns broker totals.
func (b *Broker) Stat() BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := 0
	for _, f := range b.channels {
		subs += f.Subscribers()
	}
	return BrokerStats{Channels: len(b.channels), UsersInRoom: len(b.current), Subscribers: subs}
}
