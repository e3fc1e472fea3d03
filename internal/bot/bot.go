package bot

import (
	"context"

	"chatd/internal/protocol"
)

// Config describes a registered bot's wire identity.
type Config struct {
	Name     string
	UserID   string
	Nickname string
	// Priority orders responses when several bots fire; higher first.
	Priority int
}

// Bot is the capability set a chat bot implements. ShouldHandle is a cheap
// filter; Handle may do real work.
type Bot interface {
	Config() Config
	ShouldHandle(msg *protocol.Message) bool
	Handle(ctx context.Context, msg *protocol.Message) (Response, error)
}

type responseKind int

const (
	kindNone responseKind = iota
	kindReply
	kindMulti
	kindSystem
)

// Response is what a bot produces for one message: a single reply, several
// replies, a system notice, or nothing.
type Response struct {
	kind  responseKind
	texts []string
}

// Reply answers with one text message.
func Reply(text string) Response {
	return Response{kind: kindReply, texts: []string{text}}
}

// Multi answers with several text messages, delivered in order.
func Multi(texts ...string) Response {
	return Response{kind: kindMulti, texts: texts}
}

// System answers with a system notice.
func System(text string) Response {
	return Response{kind: kindSystem, texts: []string{text}}
}

// None answers with nothing.
func None() Response {
	return Response{kind: kindNone}
}

// Messages renders the response as wire messages attributed to the bot.
func (r Response) Messages(cfg Config) []protocol.Message {
	switch r.kind {
	case kindReply, kindMulti:
		out := make([]protocol.Message, 0, len(r.texts))
		for _, text := range r.texts {
			out = append(out, protocol.NewText(cfg.UserID, cfg.Nickname, text))
		}
		return out
	case kindSystem:
		out := make([]protocol.Message, 0, len(r.texts))
		for _, text := range r.texts {
			out = append(out, protocol.NewSystem(cfg.UserID, text))
		}
		return out
	}
	return nil
}
