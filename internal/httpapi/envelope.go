package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"chatd/internal/auth"
	"chatd/internal/friend"
	"chatd/internal/room"

	"github.com/labstack/echo/v4"
)

// envelope is the uniform REST response shape. Success responses carry data
// and optionally a human message; failures carry error plus a stable
// error_type tag clients can switch on.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Message   string `json:"message,omitempty"`
}

func respond(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

func respondMessage(c echo.Context, status int, data any, message string) error {
	return c.JSON(status, envelope{Success: true, Data: data, Message: message})
}

func fail(c echo.Context, err error) error {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "err", err)
		return c.JSON(status, envelope{Error: "internal error", ErrorType: kind})
	}
	return c.JSON(status, envelope{Error: err.Error(), ErrorType: kind})
}

func failBadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, envelope{Error: message, ErrorType: "InvalidInput"})
}

// classify maps a domain sentinel to an HTTP status and error_type tag.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest, "InvalidEmail"
	case errors.Is(err, auth.ErrInvalidPassword):
		return http.StatusBadRequest, "InvalidPassword"
	case errors.Is(err, auth.ErrInvalidCode):
		return http.StatusBadRequest, "InvalidCode"
	case errors.Is(err, auth.ErrEmailAlreadyExists):
		return http.StatusConflict, "EmailAlreadyExists"
	case errors.Is(err, auth.ErrAccountNotFound):
		return http.StatusNotFound, "AccountNotFound"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "InvalidCredentials"
	case errors.Is(err, auth.ErrAccountSuspended):
		return http.StatusForbidden, "AccountSuspended"
	case errors.Is(err, auth.ErrAccountDeleted):
		return http.StatusForbidden, "AccountDeleted"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "TokenExpired"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "InvalidToken"
	case errors.Is(err, auth.ErrSessionNotFound):
		return http.StatusUnauthorized, "SessionNotFound"
	case errors.Is(err, auth.ErrVerificationSend):
		return http.StatusServiceUnavailable, "VerificationSendFailed"

	case errors.Is(err, room.ErrRoomNotFound):
		return http.StatusNotFound, "RoomNotFound"
	case errors.Is(err, room.ErrAlreadyInRoom):
		return http.StatusConflict, "UserAlreadyInRoom"
	case errors.Is(err, room.ErrNotInRoom):
		return http.StatusConflict, "UserNotInRoom"
	case errors.Is(err, room.ErrRoomFull):
		return http.StatusConflict, "RoomFull"
	case errors.Is(err, room.ErrPermissionDenied):
		return http.StatusForbidden, "PermissionDenied"
	case errors.Is(err, room.ErrInvalidRoomName):
		return http.StatusBadRequest, "InvalidRoomName"

	case errors.Is(err, friend.ErrCannotAddSelf):
		return http.StatusBadRequest, "CannotAddSelf"
	case errors.Is(err, friend.ErrAlreadyExists):
		return http.StatusConflict, "RelationshipAlreadyExists"
	case errors.Is(err, friend.ErrRequestNotFound):
		return http.StatusNotFound, "RequestNotFound"
	case errors.Is(err, friend.ErrFriendshipMissing):
		return http.StatusNotFound, "FriendshipNotFound"
	case errors.Is(err, friend.ErrInvalidStatus):
		return http.StatusConflict, "InvalidStatus"
	}
	return http.StatusInternalServerError, "Internal"
}
