package bot

import (
	"context"
	"errors"
	"testing"

	"chatd/internal/protocol"
)

type stubBot struct {
	cfg     Config
	trigger string
	resp    Response
	err     error
}

func (b *stubBot) Config() Config { return b.cfg }

func (b *stubBot) ShouldHandle(msg *protocol.Message) bool {
	return msg.Content.Text == b.trigger
}

func (b *stubBot) Handle(_ context.Context, _ *protocol.Message) (Response, error) {
	return b.resp, b.err
}

func TestEchoBot(t *testing.T) {
	t.Parallel()

	b := NewEchoBot()
	ctx := context.Background()

	msg := protocol.NewText("u1", "alice", "@echo repeat me")
	if !b.ShouldHandle(&msg) {
		t.Fatal("expected trigger to match")
	}
	resp, err := b.Handle(ctx, &msg)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	out := resp.Messages(b.Config())
	if len(out) != 1 || out[0].Content.Text != "repeat me" {
		t.Fatalf("unexpected echo: %#v", out)
	}
	if out[0].From != b.Config().UserID || out[0].FromNick != "EchoBot" {
		t.Fatalf("reply must carry the bot identity: %#v", out[0])
	}

	plain := protocol.NewText("u1", "alice", "no trigger here")
	if b.ShouldHandle(&plain) {
		t.Fatal("expected non-trigger message to be ignored")
	}

	help := protocol.NewText("u1", "alice", "@echo help")
	resp, err = b.Handle(ctx, &help)
	if err != nil {
		t.Fatalf("handle help: %v", err)
	}
	if msgs := resp.Messages(b.Config()); len(msgs) != 3 {
		t.Fatalf("expected multi-part help, got %d messages", len(msgs))
	}
}

func TestManagerDispatchPriorityAndFiltering(t *testing.T) {
	t.Parallel()

	m := NewManager()
	low := &stubBot{cfg: Config{Name: "low", UserID: "b-low", Nickname: "Low", Priority: 1}, trigger: "go", resp: Reply("low")}
	high := &stubBot{cfg: Config{Name: "high", UserID: "b-high", Nickname: "High", Priority: 9}, trigger: "go", resp: Reply("high")}
	m.Register(low)
	m.Register(high)

	out := m.Dispatch(context.Background(), protocol.NewText("u1", "alice", "go"))
	if len(out) != 2 {
		t.Fatalf("expected both bots to reply, got %d", len(out))
	}
	if out[0].Content.Text != "high" || out[1].Content.Text != "low" {
		t.Fatalf("expected priority order [high low], got [%s %s]", out[0].Content.Text, out[1].Content.Text)
	}

	// A bot's own message must not re-trigger the registry.
	if replies := m.Dispatch(context.Background(), protocol.NewText("b-low", "Low", "go")); len(replies) != 0 {
		t.Fatalf("bots must not answer bots, got %d replies", len(replies))
	}

	// Non-text content is ignored outright.
	if replies := m.Dispatch(context.Background(), protocol.NewNickChange("u1", "a", "b")); len(replies) != 0 {
		t.Fatalf("non-text content must be ignored, got %d replies", len(replies))
	}
}

func TestManagerSkipsFailingBot(t *testing.T) {
	t.Parallel()

	m := NewManager()
	m.Register(&stubBot{cfg: Config{Name: "broken", UserID: "b1", Priority: 5}, trigger: "go", err: errors.New("boom")})
	m.Register(&stubBot{cfg: Config{Name: "ok", UserID: "b2", Nickname: "OK"}, trigger: "go", resp: System("notice")})

	out := m.Dispatch(context.Background(), protocol.NewText("u1", "alice", "go"))
	if len(out) != 1 {
		t.Fatalf("expected the healthy bot's reply only, got %d", len(out))
	}
	if out[0].Content.Type != protocol.ContentSystem || out[0].Content.Text != "notice" {
		t.Fatalf("unexpected reply: %#v", out[0])
	}
}

func TestNoneResponseProducesNothing(t *testing.T) {
	t.Parallel()

	if msgs := None().Messages(Config{UserID: "b1"}); msgs != nil {
		t.Fatalf("expected nil messages, got %#v", msgs)
	}
}
