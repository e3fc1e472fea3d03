package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type friendRequestBody struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleSendFriendRequest(c echo.Context) error {
	claims := claimsFrom(c)

	var req friendRequestBody
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	if req.UserID == "" {
		return failBadRequest(c, "user_id is required")
	}
	fr, err := s.friends.SendRequest(claims.Subject, req.UserID)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusCreated, fr)
}

func (s *Server) handleListFriendRequests(c echo.Context) error {
	claims := claimsFrom(c)
	return respond(c, http.StatusOK, s.friends.RequestsFor(claims.Subject))
}

func (s *Server) handleAcceptFriendRequest(c echo.Context) error {
	claims := claimsFrom(c)
	fr, err := s.friends.Accept(c.Param("id"), claims.Subject)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, fr)
}

func (s *Server) handleRejectFriendRequest(c echo.Context) error {
	claims := claimsFrom(c)
	fr, err := s.friends.Reject(c.Param("id"), claims.Subject)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, fr)
}

func (s *Server) handleListFriends(c echo.Context) error {
	claims := claimsFrom(c)
	return respond(c, http.StatusOK, s.friends.Friends(claims.Subject))
}

func (s *Server) handleRemoveFriend(c echo.Context) error {
	claims := claimsFrom(c)
	if err := s.friends.Remove(claims.Subject, c.Param("user_id")); err != nil {
		return fail(c, err)
	}
	return respondMessage(c, http.StatusOK, nil, "friend removed")
}

func (s *Server) handleCheckFriend(c echo.Context) error {
	claims := claimsFrom(c)
	return respond(c, http.StatusOK, map[string]any{
		"user_id":   c.Param("user_id"),
		"is_friend": s.friends.AreFriends(claims.Subject, c.Param("user_id")),
	})
}
