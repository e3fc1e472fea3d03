package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chatd/internal/auth"
	"chatd/internal/friend"
	"chatd/internal/hub"
	"chatd/internal/room"
	"chatd/internal/store"
	"chatd/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Deps is everything the HTTP surface needs. WS may be nil to serve REST
// only, which the tests use.
type Deps struct {
	Auth    *auth.Service
	Rooms   *room.Registry
	Friends *friend.Manager
	Hub     *hub.Hub
	Broker  *hub.Broker
	Store   *store.Store
	WS      *ws.Handler

	AuthRateLimit rate.Limit
	AuthRateBurst int
}

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	auth    *auth.Service
	rooms   *room.Registry
	friends *friend.Manager
	hub     *hub.Hub
	broker  *hub.Broker
	store   *store.Store
	limiter *ipLimiter
}

// New constructs the Echo app with websocket + REST routes.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:    e,
		auth:    deps.Auth,
		rooms:   deps.Rooms,
		friends: deps.Friends,
		hub:     deps.Hub,
		broker:  deps.Broker,
		store:   deps.Store,
		limiter: newIPLimiter(deps.AuthRateLimit, deps.AuthRateBurst),
	}
	s.registerRoutes(deps.WS)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes(wsHandler *ws.Handler) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if wsHandler != nil {
		wsHandler.Register(s.echo)
	}

	authGroup := s.echo.Group("/api/auth", s.rateLimit)
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/verify-email", s.handleVerifyEmail)
	authGroup.POST("/resend-code", s.handleResendCode)
	authGroup.POST("/refresh", s.handleRefresh)
	authGroup.POST("/logout", s.handleLogout)
	authGroup.POST("/logout-all", s.handleLogoutAll, s.requireAuth)
	authGroup.GET("/health", s.handleAuthHealth)
	authGroup.GET("/me", s.handleMe, s.requireAuth)

	rooms := s.echo.Group("/api/rooms")
	rooms.POST("", s.handleCreateRoom, s.requireAuth)
	rooms.GET("", s.handleListRooms)
	rooms.GET("/stats", s.handleRoomStats)
	rooms.GET("/:id", s.handleGetRoom)
	rooms.DELETE("/:id", s.handleDeleteRoom, s.requireAuth)
	rooms.POST("/:id/join", s.handleJoinRoom, s.requireAuth)
	rooms.POST("/:id/leave", s.handleLeaveRoom, s.requireAuth)
	rooms.GET("/:id/members", s.handleRoomMembers, s.requireAuth)
	rooms.GET("/:id/messages", s.handleRoomMessages, s.requireAuth)
	rooms.POST("/:id/messages", s.handlePostRoomMessage, s.requireAuth)

	s.echo.GET("/api/user/rooms", s.handleUserRooms, s.requireAuth)
	s.echo.GET("/api/messages", s.handleRecentMessages)

	friends := s.echo.Group("/api/friends", s.requireAuth)
	friends.POST("/requests", s.handleSendFriendRequest)
	friends.GET("/requests", s.handleListFriendRequests)
	friends.POST("/requests/:id/accept", s.handleAcceptFriendRequest)
	friends.POST("/requests/:id/reject", s.handleRejectFriendRequest)
	friends.GET("", s.handleListFriends)
	friends.DELETE("/:user_id", s.handleRemoveFriend)
	friends.GET("/check/:user_id", s.handleCheckFriend)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleAuthHealth(c echo.Context) error {
	return respond(c, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

type statsResponse struct {
	Rooms    room.Stats      `json:"rooms"`
	Channels hub.BrokerStats `json:"channels"`
	Sessions int             `json:"live_sessions"`
}

func (s *Server) handleRoomStats(c echo.Context) error {
	return respond(c, http.StatusOK, statsResponse{
		Rooms:    s.rooms.Stat(),
		Channels: s.broker.Stat(),
		Sessions: s.hub.ClientCount(),
	})
}
