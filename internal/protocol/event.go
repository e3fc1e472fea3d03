package protocol

// Server event types.
const (
	EventTypeConnected      = "Connected"
	EventTypeMessage        = "Message"
	EventTypeUserJoined     = "UserJoined"
	EventTypeUserLeft       = "UserLeft"
	EventTypeRoomMessage    = "RoomMessage"
	EventTypeUserJoinedRoom = "UserJoinedRoom"
	EventTypeUserLeftRoom   = "UserLeftRoom"
	EventTypePing           = "Ping"
	EventTypeError          = "Error"
)

// ServerEvent is the envelope for every outbound websocket message.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// UserRef identifies a user in presence events.
type UserRef struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname,omitempty"`
}

// RoomUserRef identifies a user within a room in membership events.
type RoomUserRef struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// RoomMessageData wraps a message published on a room channel.
type RoomMessageData struct {
	RoomID  string  `json:"room_id"`
	Message Message `json:"message"`
}

// ErrorData carries a routing error back to the client.
type ErrorData struct {
	Message string `json:"message"`
}

func EventConnected(userID string) ServerEvent {
	return ServerEvent{Event: EventTypeConnected, Data: UserRef{UserID: userID}}
}

func EventMessage(msg Message) ServerEvent {
	return ServerEvent{Event: EventTypeMessage, Data: msg}
}

func EventUserJoined(userID, nickname string) ServerEvent {
	return ServerEvent{Event: EventTypeUserJoined, Data: UserRef{UserID: userID, Nickname: nickname}}
}

func EventUserLeft(userID string) ServerEvent {
	return ServerEvent{Event: EventTypeUserLeft, Data: UserRef{UserID: userID}}
}

func EventRoomMessage(roomID string, msg Message) ServerEvent {
	return ServerEvent{Event: EventTypeRoomMessage, Data: RoomMessageData{RoomID: roomID, Message: msg}}
}

func EventUserJoinedRoom(roomID, userID string) ServerEvent {
	return ServerEvent{Event: EventTypeUserJoinedRoom, Data: RoomUserRef{RoomID: roomID, UserID: userID}}
}

func EventUserLeftRoom(roomID, userID string) ServerEvent {
	return ServerEvent{Event: EventTypeUserLeftRoom, Data: RoomUserRef{RoomID: roomID, UserID: userID}}
}

func EventPing() ServerEvent {
	return ServerEvent{Event: EventTypePing}
}

func EventError(msg string) ServerEvent {
	return ServerEvent{Event: EventTypeError, Data: ErrorData{Message: msg}}
}
