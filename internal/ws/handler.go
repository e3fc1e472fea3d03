package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatd/internal/auth"
	"chatd/internal/hub"
	"chatd/internal/metrics"
	"chatd/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeTimeout = 5 * time.Second
	maxFrameSize = 1 << 20
)

// AccessVerifier validates bearer credentials at accept time.
type AccessVerifier interface {
	VerifyToken(token, expectedType string) (*auth.Claims, error)
}

// Options tune the per-session heartbeat. Zero values take the defaults.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Handler owns websocket transport. Each accepted connection gets a session
// and a task group: reader, writer, heartbeat, global forwarder and room
// listener, all cancelled together.
type Handler struct {
	hub      *hub.Hub
	router   *hub.Router
	verifier AccessVerifier
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler. verifier may be nil to disable
// authenticated identities.
func NewHandler(h *hub.Hub, router *hub.Router, verifier AccessVerifier, opts Options) *Handler {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 90 * time.Second
	}
	return &Handler{
		hub:      h,
		router:   router,
		verifier: verifier,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	userID := h.resolveIdentity(c.Request())

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, userID)
	return nil
}

// resolveIdentity extracts an access token from the Authorization header or
// the token query parameter. A valid token makes the account id the session
// identity; anything else mints a fresh anonymous id.
func (h *Handler) resolveIdentity(r *http.Request) string {
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		token = q
	}
	if token == "" || h.verifier == nil {
		return protocol.NewID()
	}

	claims, err := h.verifier.VerifyToken(token, auth.TokenTypeAccess)
	if err != nil {
		slog.Warn("websocket credential rejected", "err", err)
		return protocol.NewID()
	}
	return claims.Subject
}

func (h *Handler) serveConn(conn *websocket.Conn, userID string) {
	conn.SetReadLimit(maxFrameSize)

	s := hub.NewSession(userID)

	// Connected goes straight to the wire before anything else so the
	// server-chosen identity is the first thing the client sees.
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(protocol.EventConnected(userID)); err != nil {
		_ = conn.Close()
		return
	}

	// Subscribe to the global channel before registering so the session
	// observes its own UserJoined and nothing earlier is lost.
	globalRx := h.hub.SubscribeGlobal()
	h.hub.Register(s)
	h.hub.PublishGlobal(protocol.EventUserJoined(userID, s.RawNickname()))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// Any task exiting tears the whole group down; closing the transport
	// unblocks the reader.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	wg.Add(3)
	go h.runWriter(ctx, cancel, &wg, conn, s)
	go h.runHeartbeat(ctx, cancel, &wg, s)
	go h.runListeners(ctx, &wg, s, globalRx)

	h.runReader(ctx, conn, s)

	// Shutdown: clear the room binding, deregister, announce the departure,
	// then cancel the siblings and close the transport.
	h.router.Disconnect(s)
	h.hub.Deregister(userID)
	h.hub.PublishGlobal(protocol.EventUserLeft(userID))
	cancel()
	globalRx.Close()
	s.Mailbox.Close()
	_ = conn.Close()
	wg.Wait()

	slog.Info("session closed", "user_id", userID)
}

// runReader decodes inbound frames and hands them to the router. Decode
// failures are logged and skipped; transport errors end the session.
func (h *Handler) runReader(ctx context.Context, conn *websocket.Conn, s *hub.Session) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read", "user_id", s.UserID, "err", err)
			}
			return
		}
		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			slog.Warn("malformed frame skipped", "user_id", s.UserID, "err", err)
			continue
		}
		h.router.Handle(ctx, s, frame)
	}
}

// runWriter drains the mailbox onto the wire. The mailbox is the only path
// by which other tasks reach this client.
func (h *Handler) runWriter(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, conn *websocket.Conn, s *hub.Session) {
	defer wg.Done()
	defer cancel()

	for {
		ev, ok := s.Mailbox.Pop(ctx)
		if !ok {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			slog.Debug("websocket write", "user_id", s.UserID, "err", err)
			return
		}
	}
}

// runHeartbeat enqueues a Ping every interval and evicts the session when
// the last Pong is older than the timeout.
func (h *Handler) runHeartbeat(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, s *hub.Session) {
	defer wg.Done()

	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			switch s.LivenessAt(now, h.opts.HeartbeatInterval, h.opts.HeartbeatTimeout) {
			case hub.Dead:
				metrics.HeartbeatEvictions.Inc()
				slog.Info("session evicted by heartbeat", "user_id", s.UserID, "last_pong", s.LastPong())
				cancel()
				return
			default:
				s.Mailbox.Push(protocol.EventPing())
			}
		}
	}
}

// runListeners forwards the global channel and the currently bound room
// channel into the mailbox. Lag is logged and the session continues.
func (h *Handler) runListeners(ctx context.Context, wg *sync.WaitGroup, s *hub.Session, globalRx *hub.Receiver) {
	defer wg.Done()

	var roomRx *hub.Receiver
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-globalRx.C():
			if !ok {
				return
			}
			if lag := globalRx.Lagged(); lag > 0 {
				slog.Warn("global channel lagged", "user_id", s.UserID, "dropped", lag)
			}
			s.Mailbox.Push(ev)

		case rx := <-s.RebindC():
			roomRx = rx

		case ev, ok := <-roomRx.C():
			if !ok {
				roomRx = nil
				continue
			}
			if lag := roomRx.Lagged(); lag > 0 {
				slog.Warn("room channel lagged", "user_id", s.UserID, "dropped", lag)
			}
			s.Mailbox.Push(ev)
		}
	}
}
