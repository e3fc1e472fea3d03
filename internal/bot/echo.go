package bot

import (
	"context"
	"strings"
	"time"

	"chatd/internal/protocol"
)

const echoTrigger = "@echo"

// EchoBot repeats whatever follows its trigger, with a few canned answers.
type EchoBot struct {
	cfg Config
}

// NewEchoBot creates the echo bot with a fresh identity.
func NewEchoBot() *EchoBot {
	return &EchoBot{cfg: Config{
		Name:     "echo",
		UserID:   protocol.NewID(),
		Nickname: "EchoBot",
		Priority: 0,
	}}
}

func (b *EchoBot) Config() Config {
	return b.cfg
}

func (b *EchoBot) ShouldHandle(msg *protocol.Message) bool {
	return strings.HasPrefix(strings.TrimSpace(msg.Content.Text), echoTrigger)
}

func (b *EchoBot) Handle(_ context.Context, msg *protocol.Message) (Response, error) {
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg.Content.Text), echoTrigger))
	switch strings.ToLower(text) {
	case "":
		return Reply("说点什么吧，比如 @echo hello"), nil
	case "hello", "hi":
		return Reply("hello!"), nil
	case "time":
		return Reply(time.Now().UTC().Format(time.RFC3339)), nil
	case "help":
		return Multi(
			"@echo <text> 原样回声",
			"@echo time 当前时间",
			"@echo hello 打个招呼",
		), nil
	default:
		return Reply(text), nil
	}
}
