package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatd/internal/auth"
	"chatd/internal/hub"
	"chatd/internal/protocol"
	"chatd/internal/room"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fixture struct {
	srv   *httptest.Server
	rooms *room.Registry
	hub   *hub.Hub
}

func newFixture(t *testing.T, opts Options, verifier AccessVerifier) *fixture {
	t.Helper()

	h := hub.NewHub(64)
	rooms := room.NewRegistry()
	broker := hub.NewBroker(64)
	router := hub.NewRouter(h, rooms, broker, nil, nil)

	e := echo.New()
	NewHandler(h, router, verifier, opts).Register(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, rooms: rooms, hub: h}
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials and consumes the Connected handshake, returning the
// server-assigned user id.
func (f *fixture) connect(t *testing.T, query string) (*websocket.Conn, string) {
	t.Helper()

	conn := f.dial(t, query)
	ev := readEvent(t, conn)
	if ev.Event != protocol.EventTypeConnected {
		t.Fatalf("expected connected first, got %q", ev.Event)
	}
	var data struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode connected: %v", err)
	}
	if data.UserID == "" {
		t.Fatal("connected event carries no user_id")
	}
	return conn, data.UserID
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

// waitFor reads until an event of the wanted type arrives, answering pings
// and skipping unrelated chatter from concurrent sessions.
func waitFor(t *testing.T, conn *websocket.Conn, event string) wireEvent {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := readEvent(t, conn)
		if ev.Event == protocol.EventTypePing && event != protocol.EventTypePing {
			send(t, conn, protocol.FramePong, struct{}{})
			continue
		}
		if ev.Event == event {
			return ev
		}
	}
	t.Fatalf("no %q event before deadline", event)
	return wireEvent{}
}

func send(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame data: %v", err)
	}
	frame := map[string]any{"type": frameType, "data": json.RawMessage(payload)}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestConnectHandshake(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	conn, userID := f.connect(t, "")

	// The session sees its own arrival on the global channel.
	joined := waitFor(t, conn, protocol.EventTypeUserJoined)
	var data struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(joined.Data, &data); err != nil {
		t.Fatalf("decode user_joined: %v", err)
	}
	if data.UserID != userID {
		t.Fatalf("user_joined for %q, expected %q", data.UserID, userID)
	}
}

func TestGlobalBroadcastWithNickname(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	alice, aliceID := f.connect(t, "")
	bob, _ := f.connect(t, "")

	send(t, alice, protocol.FrameSetNickname, protocol.SetNicknameData{Nickname: "alice"})
	send(t, alice, protocol.FrameSendMessage, protocol.SendMessageData{Content: "hello all"})

	// Bob observes the nickname change, then the text message, in order.
	first := waitFor(t, bob, protocol.EventTypeMessage)
	var change protocol.Message
	if err := json.Unmarshal(first.Data, &change); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if change.Content.Type != protocol.ContentNickChange {
		t.Fatalf("expected nick change first, got %q", change.Content.Type)
	}
	if change.Content.Old != protocol.DefaultNickname || change.Content.New != "alice" {
		t.Fatalf("unexpected nick change %q -> %q", change.Content.Old, change.Content.New)
	}

	second := waitFor(t, bob, protocol.EventTypeMessage)
	var msg protocol.Message
	if err := json.Unmarshal(second.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.From != aliceID || msg.FromNick != "alice" || msg.Content.Text != "hello all" {
		t.Fatalf("unexpected message: %#v", msg)
	}

	// The sender receives its own broadcast too.
	waitFor(t, alice, protocol.EventTypeMessage)
}

func TestRoomMessageIsolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	owner, ownerID := f.connect(t, "")
	member, memberID := f.connect(t, "")
	outsider, _ := f.connect(t, "")

	rm, err := f.rooms.Create(room.CreateRequest{Name: "general"}, ownerID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	send(t, owner, protocol.FrameJoinRoom, protocol.RoomFrameData{RoomID: rm.ID})
	send(t, member, protocol.FrameJoinRoom, protocol.RoomFrameData{RoomID: rm.ID})

	// Everyone sees the member's join globally; the owner was already a
	// member at creation, so only one announcement goes out.
	joined := waitFor(t, outsider, protocol.EventTypeUserJoinedRoom)
	var ref protocol.RoomUserRef
	if err := json.Unmarshal(joined.Data, &ref); err != nil {
		t.Fatalf("decode user_joined_room: %v", err)
	}
	if ref.RoomID != rm.ID || ref.UserID != memberID {
		t.Fatalf("unexpected join announcement: %#v", ref)
	}
	waitFor(t, owner, protocol.EventTypeUserJoinedRoom)
	waitFor(t, member, protocol.EventTypeUserJoinedRoom)

	send(t, member, protocol.FrameSendRoomMessage, protocol.SendRoomMessageData{RoomID: rm.ID, Content: "room only"})

	got := waitFor(t, owner, protocol.EventTypeRoomMessage)
	var rmsg protocol.RoomMessageData
	if err := json.Unmarshal(got.Data, &rmsg); err != nil {
		t.Fatalf("decode room_message: %v", err)
	}
	if rmsg.RoomID != rm.ID || rmsg.Message.Content.Text != "room only" || rmsg.Message.RoomID != rm.ID {
		t.Fatalf("unexpected room message: %#v", rmsg)
	}

	// The outsider must never see the room message.
	_ = outsider.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var leak wireEvent
	for {
		if err := outsider.ReadJSON(&leak); err != nil {
			break
		}
		if leak.Event == protocol.EventTypeRoomMessage {
			t.Fatal("room message leaked outside the room")
		}
	}
}

func TestLeaveRoomAnnounced(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	owner, ownerID := f.connect(t, "")
	member, memberID := f.connect(t, "")

	rm, err := f.rooms.Create(room.CreateRequest{Name: "ephemeral"}, ownerID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	send(t, member, protocol.FrameJoinRoom, protocol.RoomFrameData{RoomID: rm.ID})
	waitFor(t, owner, protocol.EventTypeUserJoinedRoom)

	send(t, member, protocol.FrameLeaveRoom, protocol.RoomFrameData{RoomID: rm.ID})

	left := waitFor(t, owner, protocol.EventTypeUserLeftRoom)
	var ref protocol.RoomUserRef
	if err := json.Unmarshal(left.Data, &ref); err != nil {
		t.Fatalf("decode user_left_room: %v", err)
	}
	if ref.RoomID != rm.ID || ref.UserID != memberID {
		t.Fatalf("unexpected leave announcement: %#v", ref)
	}
	if !f.rooms.IsMember(rm.ID, ownerID) {
		t.Fatal("owner membership must survive another member leaving")
	}
}

func TestHeartbeatEvictsSilentClient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HeartbeatInterval: 30 * time.Millisecond, HeartbeatTimeout: 90 * time.Millisecond}, nil)
	watcher, _ := f.connect(t, "")
	silent, silentID := f.connect(t, "")

	// The silent client never answers the pings; the server must drop it.
	waitFor(t, silent, protocol.EventTypePing)

	_ = silent.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev wireEvent
		if err := silent.ReadJSON(&ev); err != nil {
			break
		}
	}

	left := waitFor(t, watcher, protocol.EventTypeUserLeft)
	var data struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(left.Data, &data); err != nil {
		t.Fatalf("decode user_left: %v", err)
	}
	if data.UserID != silentID {
		t.Fatalf("user_left for %q, expected %q", data.UserID, silentID)
	}
}

func TestPongKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{HeartbeatInterval: 30 * time.Millisecond, HeartbeatTimeout: 90 * time.Millisecond}, nil)
	conn, _ := f.connect(t, "")

	deadline := time.Now().Add(400 * time.Millisecond)
	pings := 0
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("session dropped despite pongs: %v", err)
		}
		if ev.Event == protocol.EventTypePing {
			pings++
			send(t, conn, protocol.FramePong, struct{}{})
		}
	}
	if pings < 3 {
		t.Fatalf("expected several pings, got %d", pings)
	}
}

func TestMalformedFramesDoNotCloseSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, nil)
	conn, _ := f.connect(t, "")
	waitFor(t, conn, protocol.EventTypeUserJoined)

	// Invalid JSON is skipped entirely.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// An unknown frame type earns an error event.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Teleport","data":{}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := waitFor(t, conn, protocol.EventTypeError)
	var data protocol.ErrorData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if data.Message == "" {
		t.Fatal("error event carries no message")
	}

	// The session is still usable.
	send(t, conn, protocol.FrameSendMessage, protocol.SendMessageData{Content: "still here"})
	waitFor(t, conn, protocol.EventTypeMessage)
}

type stubVerifier struct {
	subject string
}

func (v stubVerifier) VerifyToken(token, expectedType string) (*auth.Claims, error) {
	if token != "good" || expectedType != auth.TokenTypeAccess {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: v.subject}}, nil
}

func TestTokenIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, stubVerifier{subject: "acct-1"})

	_, userID := f.connect(t, "?token=good")
	if userID != "acct-1" {
		t.Fatalf("expected token subject as identity, got %q", userID)
	}

	// A bad token falls back to an anonymous identity instead of failing
	// the upgrade.
	_, anonID := f.connect(t, "?token=forged")
	if anonID == "acct-1" || anonID == "" {
		t.Fatalf("forged token must not yield the account identity, got %q", anonID)
	}
}

func TestBearerHeaderIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, stubVerifier{subject: "acct-9"})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer good"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ev := readEvent(t, conn)
	if ev.Event != protocol.EventTypeConnected {
		t.Fatalf("expected connected, got %q", ev.Event)
	}
	var data struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode connected: %v", err)
	}
	if data.UserID != "acct-9" {
		t.Fatalf("expected header identity acct-9, got %q", data.UserID)
	}
}
