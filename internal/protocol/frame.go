package protocol

import "encoding/json"

// Client frame types.
const (
	FrameSendMessage     = "SendMessage"
	FrameSendRoomMessage = "SendRoomMessage"
	FrameJoinRoom        = "JoinRoom"
	FrameLeaveRoom       = "LeaveRoom"
	FrameSetNickname     = "SetNickname"
	FramePong            = "Pong"
)

// ClientFrame is the envelope for every inbound websocket message.
// Data is decoded per frame type.
type ClientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SendMessageData is the payload of a SendMessage frame.
type SendMessageData struct {
	Content  string `json:"content"`
	Nickname string `json:"nickname,omitempty"`
}

// SendRoomMessageData is the payload of a SendRoomMessage frame.
type SendRoomMessageData struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

// RoomFrameData is the payload of JoinRoom and LeaveRoom frames.
type RoomFrameData struct {
	RoomID string `json:"room_id"`
}

// SetNicknameData is the payload of a SetNickname frame.
type SetNicknameData struct {
	Nickname string `json:"nickname"`
}

// DecodeFrame parses one raw websocket text message into a ClientFrame.
func DecodeFrame(raw []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ClientFrame{}, err
	}
	return f, nil
}
