package httpapi

import (
	"net/http"
	"strconv"

	"chatd/internal/metrics"
	"chatd/internal/protocol"
	"chatd/internal/room"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleCreateRoom(c echo.Context) error {
	claims := claimsFrom(c)

	var req room.CreateRequest
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	rm, err := s.rooms.Create(req, claims.Subject)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusCreated, rm)
}

func (s *Server) handleListRooms(c echo.Context) error {
	offset := intQuery(c, "offset", 0)
	limit := intQuery(c, "limit", 0)
	return respond(c, http.StatusOK, s.rooms.List(offset, limit))
}

func (s *Server) handleGetRoom(c echo.Context) error {
	rm, err := s.rooms.Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, rm)
}

func (s *Server) handleDeleteRoom(c echo.Context) error {
	claims := claimsFrom(c)
	roomID := c.Param("id")

	rm, err := s.rooms.Delete(roomID, claims.Subject)
	if err != nil {
		return fail(c, err)
	}
	for _, member := range rm.Members {
		s.detachRoomBinding(member, roomID)
	}
	s.broker.Remove(roomID)
	return respondMessage(c, http.StatusOK, rm, "room deleted")
}

func (s *Server) handleJoinRoom(c echo.Context) error {
	claims := claimsFrom(c)
	roomID := c.Param("id")

	rm, err := s.rooms.Join(roomID, claims.Subject)
	if err != nil {
		// A repeat join over REST is an error, unlike the silent rebind a
		// live websocket session gets.
		return fail(c, err)
	}
	s.hub.PublishGlobal(protocol.EventUserJoinedRoom(roomID, claims.Subject))
	return respond(c, http.StatusOK, rm)
}

func (s *Server) handleLeaveRoom(c echo.Context) error {
	claims := claimsFrom(c)
	roomID := c.Param("id")

	_, destroyed, err := s.rooms.Leave(roomID, claims.Subject)
	if err != nil {
		return fail(c, err)
	}
	s.detachRoomBinding(claims.Subject, roomID)
	if destroyed {
		s.broker.Remove(roomID)
	}
	s.hub.PublishGlobal(protocol.EventUserLeftRoom(roomID, claims.Subject))
	return respondMessage(c, http.StatusOK, nil, "left room")
}

// detachRoomBinding drops a user's broker binding for a room and, when the
// user also has a live websocket session, closes that session's room
// receiver so an ex-member stops receiving the room's fan-out.
func (s *Server) detachRoomBinding(userID, roomID string) {
	current, ok := s.broker.CurrentRoom(userID)
	if !ok || current != roomID {
		return
	}
	s.broker.Leave(userID)
	if sess, live := s.hub.Session(userID); live {
		sess.ClearRoomReceiver()
	}
}

func (s *Server) handleRoomMembers(c echo.Context) error {
	claims := claimsFrom(c)
	roomID := c.Param("id")

	if _, err := s.rooms.Get(roomID); err != nil {
		return fail(c, err)
	}
	if !s.rooms.IsMember(roomID, claims.Subject) {
		return fail(c, room.ErrNotInRoom)
	}
	members, err := s.rooms.Members(roomID)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, map[string]any{
		"room_id": roomID,
		"members": members,
	})
}

// handleRoomMessages returns room history, oldest first. Members only.
func (s *Server) handleRoomMessages(c echo.Context) error {
	claims := claimsFrom(c)
	roomID := c.Param("id")

	if _, err := s.rooms.Get(roomID); err != nil {
		return fail(c, err)
	}
	if !s.rooms.IsMember(roomID, claims.Subject) {
		return fail(c, room.ErrNotInRoom)
	}
	msgs, err := s.store.MessagesByRoom(c.Request().Context(), roomID, intQuery(c, "limit", 0), intQuery(c, "offset", 0))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// handlePostRoomMessage lets an authenticated account post into a room over
// REST. The message is persisted and fanned out to the room's live
// subscribers exactly like a websocket send.
func (s *Server) handlePostRoomMessage(c echo.Context) error {
	claims := claimsFrom(c)
	roomID := c.Param("id")

	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	if req.Content == "" {
		return failBadRequest(c, "content is required")
	}
	if !s.rooms.IsMember(roomID, claims.Subject) {
		return fail(c, room.ErrNotInRoom)
	}

	nick := claims.DisplayName
	if nick == "" {
		nick = s.hub.Nickname(claims.Subject)
	}
	msg := protocol.NewText(claims.Subject, nick, req.Content)
	msg.RoomID = roomID

	if err := s.store.AppendMessage(c.Request().Context(), msg); err != nil {
		return fail(c, err)
	}
	s.broker.Publish(roomID, protocol.EventRoomMessage(roomID, msg))
	metrics.RoomMessages.Inc()
	return respond(c, http.StatusCreated, msg)
}

func (s *Server) handleUserRooms(c echo.Context) error {
	claims := claimsFrom(c)
	return respond(c, http.StatusOK, s.rooms.RoomsOf(claims.Subject))
}

// handleRecentMessages returns global history, oldest first, optionally
// filtered to one sender via ?user=.
func (s *Server) handleRecentMessages(c echo.Context) error {
	limit := intQuery(c, "limit", 0)
	if user := c.QueryParam("user"); user != "" {
		msgs, err := s.store.MessagesByUser(c.Request().Context(), user, limit)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, http.StatusOK, msgs)
	}
	msgs, err := s.store.RecentMessages(c.Request().Context(), limit)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, msgs)
}

func intQuery(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
