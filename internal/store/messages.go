package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chatd/internal/protocol"
)

const defaultMessageLimit = 50

// maxMessageLimit caps every history query.
const maxMessageLimit = 100

// MessageRow is a persisted chat message in its flat table form.
type MessageRow struct {
	ID          string
	FromUserID  string
	ContentType string
	ContentData string
	TS          int64
	FromNick    string
	RoomID      string
	CreatedAt   time.Time
}

type nickChangeData struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// RowFromMessage flattens a wire message into its table form.
func RowFromMessage(m protocol.Message) (MessageRow, error) {
	row := MessageRow{
		ID:          m.ID,
		FromUserID:  m.From,
		ContentType: m.Content.Type,
		TS:          m.Timestamp.UnixMilli(),
		FromNick:    m.FromNick,
		RoomID:      m.RoomID,
	}
	switch m.Content.Type {
	case protocol.ContentText, protocol.ContentSystem:
		row.ContentData = m.Content.Text
	case protocol.ContentNickChange:
		data, err := json.Marshal(nickChangeData{Old: m.Content.Old, New: m.Content.New})
		if err != nil {
			return MessageRow{}, fmt.Errorf("encode nick change: %w", err)
		}
		row.ContentData = string(data)
	default:
		return MessageRow{}, fmt.Errorf("unknown content type %q", m.Content.Type)
	}
	return row, nil
}

// Message rebuilds the wire form of a persisted row.
func (r MessageRow) Message() (protocol.Message, error) {
	m := protocol.Message{
		ID:        r.ID,
		From:      r.FromUserID,
		Timestamp: time.UnixMilli(r.TS).UTC(),
		FromNick:  r.FromNick,
		RoomID:    r.RoomID,
	}
	switch r.ContentType {
	case protocol.ContentText, protocol.ContentSystem:
		m.Content = protocol.Content{Type: r.ContentType, Text: r.ContentData}
	case protocol.ContentNickChange:
		var data nickChangeData
		if err := json.Unmarshal([]byte(r.ContentData), &data); err != nil {
			return protocol.Message{}, fmt.Errorf("decode nick change: %w", err)
		}
		m.Content = protocol.Content{Type: protocol.ContentNickChange, Old: data.Old, New: data.New}
	default:
		return protocol.Message{}, fmt.Errorf("unknown content type %q", r.ContentType)
	}
	return m, nil
}

// AppendMessage persists one message. Idempotent on id, so a retry with the
// same message is a no-op.
func (s *Store) AppendMessage(ctx context.Context, m protocol.Message) error {
	row, err := RowFromMessage(m)
	if err != nil {
		return err
	}
	const q = `
INSERT OR REPLACE INTO messages (
	id, from_user_id, content_type, content_data, ts_unix_ms, from_nick, room_id, created_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err = s.db.ExecContext(ctx, q,
		row.ID, row.FromUserID, row.ContentType, row.ContentData, row.TS, row.FromNick, row.RoomID,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	slog.Debug("message persisted", "msg_id", row.ID, "from", row.FromUserID, "room_id", row.RoomID)
	return nil
}

// RecentMessages returns the newest messages, ordered oldest first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]protocol.Message, error) {
	const q = `
SELECT id, from_user_id, content_type, content_data, ts_unix_ms, from_nick, room_id
FROM messages
ORDER BY ts_unix_ms DESC, id DESC
LIMIT ?
`
	return s.queryMessages(ctx, q, clampLimit(limit))
}

// MessagesByUser returns one sender's newest messages, ordered oldest first.
func (s *Store) MessagesByUser(ctx context.Context, userID string, limit int) ([]protocol.Message, error) {
	const q = `
SELECT id, from_user_id, content_type, content_data, ts_unix_ms, from_nick, room_id
FROM messages
WHERE from_user_id = ?
ORDER BY ts_unix_ms DESC, id DESC
LIMIT ?
`
	return s.queryMessages(ctx, q, userID, clampLimit(limit))
}

// MessagesByRoom returns one room's newest messages, ordered oldest first.
func (s *Store) MessagesByRoom(ctx context.Context, roomID string, limit, offset int) ([]protocol.Message, error) {
	if offset < 0 {
		offset = 0
	}
	const q = `
SELECT id, from_user_id, content_type, content_data, ts_unix_ms, from_nick, room_id
FROM messages
WHERE room_id = ?
ORDER BY ts_unix_ms DESC, id DESC
LIMIT ? OFFSET ?
`
	return s.queryMessages(ctx, q, roomID, clampLimit(limit), offset)
}

// MessageCount returns the total number of persisted messages.
func (s *Store) MessageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// PurgeKeeping deletes all but the n newest messages.
func (s *Store) PurgeKeeping(ctx context.Context, n int) (int64, error) {
	if n < 0 {
		n = 0
	}
	const q = `
DELETE FROM messages WHERE id NOT IN (
	SELECT id FROM messages ORDER BY ts_unix_ms DESC, id DESC LIMIT ?
)
`
	res, err := s.db.ExecContext(ctx, q, n)
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		slog.Info("messages purged", "deleted", deleted, "kept", n)
	}
	return deleted, nil
}

func (s *Store) queryMessages(ctx context.Context, q string, args ...any) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []protocol.Message
	for rows.Next() {
		var r MessageRow
		if err := rows.Scan(&r.ID, &r.FromUserID, &r.ContentType, &r.ContentData, &r.TS, &r.FromNick, &r.RoomID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m, err := r.Message()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	// Reverse to oldest-first order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultMessageLimit
	}
	if limit > maxMessageLimit {
		return maxMessageLimit
	}
	return limit
}
