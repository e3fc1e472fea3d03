package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatd/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "chatd.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func textMessage(id, from, text string, ts time.Time) protocol.Message {
	return protocol.Message{
		ID:        id,
		From:      from,
		Content:   protocol.Content{Type: protocol.ContentText, Text: text},
		Timestamp: ts,
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	msg := textMessage("m1", "u1", "hello", time.UnixMilli(1000).UTC())
	if err := st.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append retry: %v", err)
	}

	n, err := st.MessageCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 message after duplicate append, got %d", n)
	}
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		msg := textMessage(id, "u1", id, time.UnixMilli(int64(1000+i)).UTC())
		if err := st.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	msgs, err := st.RecentMessages(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m2" || msgs[1].ID != "m3" {
		t.Fatalf("expected oldest-first [m2 m3], got [%s %s]", msgs[0].ID, msgs[1].ID)
	}
}

func TestMessagesByUserAndRoom(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	roomMsg := textMessage("m1", "u1", "in room", time.UnixMilli(1000).UTC())
	roomMsg.RoomID = "r1"
	if err := st.AppendMessage(ctx, roomMsg); err != nil {
		t.Fatalf("append room message: %v", err)
	}
	if err := st.AppendMessage(ctx, textMessage("m2", "u2", "global", time.UnixMilli(1001).UTC())); err != nil {
		t.Fatalf("append global message: %v", err)
	}

	byUser, err := st.MessagesByUser(ctx, "u2", 10)
	if err != nil {
		t.Fatalf("by user: %v", err)
	}
	if len(byUser) != 1 || byUser[0].ID != "m2" {
		t.Fatalf("unexpected by-user result: %#v", byUser)
	}

	byRoom, err := st.MessagesByRoom(ctx, "r1", 10, 0)
	if err != nil {
		t.Fatalf("by room: %v", err)
	}
	if len(byRoom) != 1 || byRoom[0].ID != "m1" || byRoom[0].RoomID != "r1" {
		t.Fatalf("unexpected by-room result: %#v", byRoom)
	}

	offsetRows, err := st.MessagesByRoom(ctx, "r1", 10, 1)
	if err != nil {
		t.Fatalf("by room with offset: %v", err)
	}
	if len(offsetRows) != 0 {
		t.Fatalf("expected offset past end to return nothing, got %d rows", len(offsetRows))
	}
}

func TestNickChangeRoundTrip(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	msg := protocol.NewNickChange("u1", protocol.DefaultNickname, "alice")
	if err := st.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append nick change: %v", err)
	}

	msgs, err := st.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0].Content
	if got.Type != protocol.ContentNickChange || got.Old != protocol.DefaultNickname || got.New != "alice" {
		t.Fatalf("unexpected nick change content: %#v", got)
	}
}

func TestPurgeKeeping(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := st.AppendMessage(ctx, textMessage(id, "u1", id, time.UnixMilli(int64(1000+i)).UTC())); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	deleted, err := st.PurgeKeeping(ctx, 2)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
	msgs, err := st.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("recent after purge: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "d" || msgs[1].ID != "e" {
		t.Fatalf("expected newest two kept, got %#v", msgs)
	}
}

func TestAccountLifecycle(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	acct := AccountRow{ID: "a1", Email: "a@b.c", PasswordHash: "$argon2id$fake", DisplayName: "Alice"}
	if err := st.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := st.CreateAccount(ctx, AccountRow{ID: "a2", Email: "a@b.c", PasswordHash: "x"}); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists for duplicate email, got %v", err)
	}

	got, err := st.AccountByEmail(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("account by email: %v", err)
	}
	if got.ID != "a1" || got.Status != StatusActive || got.EmailVerified {
		t.Fatalf("unexpected account: %#v", got)
	}

	if err := st.SetEmailVerified(ctx, "a@b.c"); err != nil {
		t.Fatalf("set email verified: %v", err)
	}
	got, err = st.AccountByID(ctx, "a1")
	if err != nil {
		t.Fatalf("account by id: %v", err)
	}
	if !got.EmailVerified {
		t.Fatal("expected email_verified after SetEmailVerified")
	}

	if _, err := st.AccountByEmail(ctx, "nobody@b.c"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestVerificationLifecycle(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	v := VerificationRow{
		Email:     "a@b.c",
		Code:      "123456",
		Purpose:   PurposeEmailVerification,
		ExpiresAt: now.Add(10 * time.Minute),
	}
	if err := st.InsertVerification(ctx, v); err != nil {
		t.Fatalf("insert verification: %v", err)
	}

	got, err := st.LatestVerification(ctx, "a@b.c", "123456", PurposeEmailVerification)
	if err != nil {
		t.Fatalf("latest verification: %v", err)
	}
	if !got.Valid(now) {
		t.Fatalf("expected fresh code to be valid: %#v", got)
	}
	if got.Valid(now.Add(11 * time.Minute)) {
		t.Fatal("expected code to expire after TTL")
	}

	if err := st.MarkVerificationUsed(ctx, "a@b.c", "123456", PurposeEmailVerification); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	// Marking again is idempotent.
	if err := st.MarkVerificationUsed(ctx, "a@b.c", "123456", PurposeEmailVerification); err != nil {
		t.Fatalf("mark used again: %v", err)
	}
	got, err = st.LatestVerification(ctx, "a@b.c", "123456", PurposeEmailVerification)
	if err != nil {
		t.Fatalf("latest after use: %v", err)
	}
	if got.Valid(now) {
		t.Fatal("expected used code to be invalid")
	}

	if err := st.DeleteVerifications(ctx, "a@b.c", PurposeEmailVerification); err != nil {
		t.Fatalf("delete verifications: %v", err)
	}
	if _, err := st.LatestVerification(ctx, "a@b.c", "123456", PurposeEmailVerification); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected ErrVerificationNotFound after delete, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	row := SessionRow{
		ID:          "s1",
		AccountID:   "a1",
		Fingerprint: "fp1",
		ExpiresAt:   now.Add(time.Hour),
		Active:      true,
	}
	if err := st.InsertSession(ctx, row); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	got, err := st.SessionByFingerprint(ctx, "fp1")
	if err != nil {
		t.Fatalf("session by fingerprint: %v", err)
	}
	if got.ID != "s1" || !got.Active {
		t.Fatalf("unexpected session: %#v", got)
	}

	if err := st.TouchSession(ctx, "s1", now.Add(time.Minute)); err != nil {
		t.Fatalf("touch session: %v", err)
	}
	got, err = st.SessionByFingerprint(ctx, "fp1")
	if err != nil {
		t.Fatalf("session after touch: %v", err)
	}
	if !got.LastUsedAt.After(got.CreatedAt) {
		t.Fatalf("expected last_used_at to advance: %#v", got)
	}

	if err := st.DeactivateSession(ctx, "fp1"); err != nil {
		t.Fatalf("deactivate session: %v", err)
	}
	got, err = st.SessionByFingerprint(ctx, "fp1")
	if err != nil {
		t.Fatalf("session after deactivate: %v", err)
	}
	if got.Active {
		t.Fatal("expected session to be inactive after logout")
	}

	if err := st.DeactivateSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeactivateAccountSessions(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"s1", "s2"} {
		row := SessionRow{ID: id, AccountID: "a1", Fingerprint: "fp-" + id, ExpiresAt: now.Add(time.Hour), Active: true}
		if err := st.InsertSession(ctx, row); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	n, err := st.DeactivateAccountSessions(ctx, "a1")
	if err != nil {
		t.Fatalf("deactivate account sessions: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions deactivated, got %d", n)
	}
}
