package auth

import (
	"context"
	"log/slog"
	"sync"
)

// Mailer delivers verification codes. The core produces a code and purpose;
// the transport is somebody else's problem.
type Mailer interface {
	SendCode(ctx context.Context, email, code, purpose string) error
}

// LogMailer writes codes to the log instead of sending mail. Development only.
type LogMailer struct{}

func (LogMailer) SendCode(_ context.Context, email, code, purpose string) error {
	slog.Info("verification code issued", "email", email, "code", code, "purpose", purpose)
	return nil
}

// CaptureMailer records the last code per email for tests.
type CaptureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func NewCaptureMailer() *CaptureMailer {
	return &CaptureMailer{codes: make(map[string]string)}
}

func (m *CaptureMailer) SendCode(_ context.Context, email, code, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	return nil
}

// Code returns the last code sent to an email.
func (m *CaptureMailer) Code(email string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[email]
	return code, ok
}
