package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"chatd/internal/metrics"
	"chatd/internal/protocol"
	"chatd/internal/room"
)

// MessageStore is the persistence tee every broadcast funnels through.
type MessageStore interface {
	AppendMessage(ctx context.Context, m protocol.Message) error
}

// BotDispatcher turns a broadcast message into zero or more bot responses.
type BotDispatcher interface {
	Dispatch(ctx context.Context, m protocol.Message) []protocol.Message
}

// Router classifies decoded client frames and dispatches them: global
// broadcast, room broadcast, state mutation, or heartbeat bookkeeping.
type Router struct {
	hub    *Hub
	rooms  *room.Registry
	broker *Broker
	store  MessageStore
	bots   BotDispatcher
}

// NewRouter wires the router. bots may be nil.
func NewRouter(h *Hub, rooms *room.Registry, broker *Broker, store MessageStore, bots BotDispatcher) *Router {
	return &Router{hub: h, rooms: rooms, broker: broker, store: store, bots: bots}
}

// Handle routes one inbound frame for a session. Routing errors are
// delivered as Error events on the session mailbox; they never close the
// session.
func (r *Router) Handle(ctx context.Context, s *Session, frame protocol.ClientFrame) {
	switch frame.Type {
	case protocol.FrameSendMessage:
		var data protocol.SendMessageData
		if !r.decode(s, frame.Data, &data) {
			return
		}
		r.handleSendMessage(ctx, s, data)

	case protocol.FrameSendRoomMessage:
		var data protocol.SendRoomMessageData
		if !r.decode(s, frame.Data, &data) {
			return
		}
		r.handleSendRoomMessage(ctx, s, data)

	case protocol.FrameJoinRoom:
		var data protocol.RoomFrameData
		if !r.decode(s, frame.Data, &data) {
			return
		}
		r.handleJoinRoom(s, data.RoomID)

	case protocol.FrameLeaveRoom:
		var data protocol.RoomFrameData
		if !r.decode(s, frame.Data, &data) {
			return
		}
		r.handleLeaveRoom(s, data.RoomID)

	case protocol.FrameSetNickname:
		var data protocol.SetNicknameData
		if !r.decode(s, frame.Data, &data) {
			return
		}
		r.handleSetNickname(ctx, s, data.Nickname)

	case protocol.FramePong:
		s.Touch()

	default:
		r.sendError(s, fmt.Sprintf("unsupported frame type %q", frame.Type))
	}
}

func (r *Router) handleSendMessage(ctx context.Context, s *Session, data protocol.SendMessageData) {
	if data.Content == "" {
		r.sendError(s, "content is required")
		return
	}
	nick := data.Nickname
	if nick == "" {
		nick = s.Nickname()
	}
	msg := protocol.NewText(s.UserID, nick, data.Content)

	r.persist(ctx, msg)
	r.hub.PublishGlobal(protocol.EventMessage(msg))
	metrics.MessagesBroadcast.Inc()

	r.dispatchBots(ctx, msg)
}

func (r *Router) handleSendRoomMessage(ctx context.Context, s *Session, data protocol.SendRoomMessageData) {
	if data.RoomID == "" || data.Content == "" {
		r.sendError(s, "room_id and content are required")
		return
	}
	if !r.rooms.IsMember(data.RoomID, s.UserID) {
		r.sendError(s, "not a member of this room")
		return
	}

	msg := protocol.NewText(s.UserID, s.Nickname(), data.Content)
	msg.RoomID = data.RoomID

	r.persist(ctx, msg)
	delivered := r.broker.Publish(data.RoomID, protocol.EventRoomMessage(data.RoomID, msg))
	metrics.RoomMessages.Inc()
	slog.Debug("room message routed", "room_id", data.RoomID, "from", s.UserID, "delivered", delivered)
}

func (r *Router) handleSetNickname(ctx context.Context, s *Session, nickname string) {
	nick, err := protocol.ValidateNickname(nickname)
	if err != nil {
		r.sendError(s, err.Error())
		return
	}
	old, changed := s.SetNickname(nick)
	if !changed {
		return
	}

	msg := protocol.NewNickChange(s.UserID, old, nick)
	r.persist(ctx, msg)
	r.hub.PublishGlobal(protocol.EventMessage(msg))
}

func (r *Router) handleJoinRoom(s *Session, roomID string) {
	if roomID == "" {
		r.sendError(s, "room_id is required")
		return
	}
	_, err := r.rooms.Join(roomID, s.UserID)
	rejoin := errors.Is(err, room.ErrAlreadyInRoom)
	if err != nil && !rejoin {
		r.sendError(s, err.Error())
		return
	}

	rx := r.broker.Enter(s.UserID, roomID)
	s.BindRoomReceiver(rx)

	// A re-join only rebinds the receiver; it is not re-announced.
	if !rejoin {
		r.hub.PublishGlobal(protocol.EventUserJoinedRoom(roomID, s.UserID))
	}
}

func (r *Router) handleLeaveRoom(s *Session, roomID string) {
	if roomID == "" {
		r.sendError(s, "room_id is required")
		return
	}
	_, destroyed, err := r.rooms.Leave(roomID, s.UserID)
	if err != nil {
		r.sendError(s, err.Error())
		return
	}

	if current, ok := r.broker.CurrentRoom(s.UserID); ok && current == roomID {
		r.broker.Leave(s.UserID)
		s.ClearRoomReceiver()
	}
	if destroyed {
		r.broker.Remove(roomID)
	}
	r.hub.PublishGlobal(protocol.EventUserLeftRoom(roomID, s.UserID))
}

// Disconnect runs the shutdown sweep for a session: leave every room, clear
// the broker binding and announce the departures globally.
func (r *Router) Disconnect(s *Session) {
	r.broker.Leave(s.UserID)
	s.ClearRoomReceiver()

	for _, roomID := range r.rooms.OnDisconnect(s.UserID) {
		if _, err := r.rooms.Get(roomID); errors.Is(err, room.ErrRoomNotFound) {
			r.broker.Remove(roomID)
		}
		r.hub.PublishGlobal(protocol.EventUserLeftRoom(roomID, s.UserID))
	}
}

// persist tees a message into the store. Failure is logged and counted but
// never blocks the broadcast; live delivery is best-effort relative to
// history.
func (r *Router) persist(ctx context.Context, msg protocol.Message) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		metrics.StoreAppendErrors.Inc()
		slog.Error("persist message", "msg_id", msg.ID, "err", err)
	}
}

func (r *Router) dispatchBots(ctx context.Context, msg protocol.Message) {
	if r.bots == nil {
		return
	}
	for _, reply := range r.bots.Dispatch(ctx, msg) {
		r.persist(ctx, reply)
		r.hub.PublishGlobal(protocol.EventMessage(reply))
		metrics.MessagesBroadcast.Inc()
	}
}

func (r *Router) decode(s *Session, raw json.RawMessage, into any) bool {
	if err := json.Unmarshal(raw, into); err != nil {
		r.sendError(s, "malformed frame data")
		return false
	}
	return true
}

func (r *Router) sendError(s *Session, msg string) {
	s.Mailbox.Push(protocol.EventError(msg))
}
