package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultNickname is shown for users that never set a nickname.
const DefaultNickname = "匿名用户"

// Content variant discriminators.
const (
	ContentText       = "Text"
	ContentSystem     = "System"
	ContentNickChange = "NickChange"
)

// NewID mints a random 128-bit identifier in canonical hyphenated form.
// User, message, room and account ids all share this format.
func NewID() string {
	return uuid.NewString()
}

// Content is the message body. Exactly one variant is set: Text and System
// carry a plain string, NickChange carries the old/new pair.
type Content struct {
	Type string
	Text string
	Old  string
	New  string
}

type nickChangeBody struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type contentWire struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the content as {"type":...,"data":...}.
func (c Content) MarshalJSON() ([]byte, error) {
	var data any
	switch c.Type {
	case ContentText, ContentSystem:
		data = c.Text
	case ContentNickChange:
		data = nickChangeBody{Old: c.Old, New: c.New}
	default:
		return nil, fmt.Errorf("unknown content type %q", c.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contentWire{Type: c.Type, Data: raw})
}

// UnmarshalJSON decodes the {"type","data"} form.
func (c *Content) UnmarshalJSON(b []byte) error {
	var w contentWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Type {
	case ContentText, ContentSystem:
		var text string
		if err := json.Unmarshal(w.Data, &text); err != nil {
			return fmt.Errorf("decode %s content: %w", w.Type, err)
		}
		*c = Content{Type: w.Type, Text: text}
	case ContentNickChange:
		var body nickChangeBody
		if err := json.Unmarshal(w.Data, &body); err != nil {
			return fmt.Errorf("decode NickChange content: %w", err)
		}
		*c = Content{Type: ContentNickChange, Old: body.Old, New: body.New}
	default:
		return fmt.Errorf("unknown content type %q", w.Type)
	}
	return nil
}

// Message is one chat message as it travels on the wire and into the store.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	FromNick  string    `json:"from_nick,omitempty"`
	RoomID    string    `json:"room_id,omitempty"`
}

// NewText builds a Text message from a sender.
func NewText(from, nick, text string) Message {
	return Message{
		ID:        NewID(),
		From:      from,
		Content:   Content{Type: ContentText, Text: text},
		Timestamp: time.Now().UTC(),
		FromNick:  nick,
	}
}

// NewSystem builds a System message attributed to from.
func NewSystem(from, text string) Message {
	return Message{
		ID:        NewID(),
		From:      from,
		Content:   Content{Type: ContentSystem, Text: text},
		Timestamp: time.Now().UTC(),
	}
}

// NewNickChange builds the broadcast record for a nickname change.
func NewNickChange(from, oldNick, newNick string) Message {
	return Message{
		ID:        NewID(),
		From:      from,
		Content:   Content{Type: ContentNickChange, Old: oldNick, New: newNick},
		Timestamp: time.Now().UTC(),
		FromNick:  newNick,
	}
}

// ValidateNickname checks a requested nickname and returns the trimmed form.
func ValidateNickname(nick string) (string, error) {
	nick = strings.TrimSpace(nick)
	if nick == "" {
		return "", fmt.Errorf("nickname is required")
	}
	if len(nick) > 32 {
		return "", fmt.Errorf("nickname exceeds 32 bytes")
	}
	if strings.ContainsAny(nick, "\n\r\t") {
		return "", fmt.Errorf("nickname contains control characters")
	}
	return nick, nil
}
