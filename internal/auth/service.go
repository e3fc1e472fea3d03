package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"chatd/internal/protocol"
	"chatd/internal/store"
)

const (
	maxEmailLen    = 254
	minPasswordLen = 6
	maxPasswordLen = 128
	codeTTL        = 10 * time.Minute
	codeDigits     = 6
)

// Config is the immutable auth configuration, resolved once at startup.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service implements registration, credential checks, token issuance and
// refresh sessions on top of the account store.
type Service struct {
	store  *store.Store
	cfg    Config
	mailer Mailer
}

// NewService builds an auth service. A nil mailer falls back to LogMailer.
func NewService(st *store.Store, cfg Config, mailer Mailer) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Service{store: st, cfg: cfg, mailer: mailer}
}

// ValidateEmail checks the minimal email shape: non-empty, bounded, exactly
// one '@' with non-empty sides. Nothing fancier on purpose.
func ValidateEmail(email string) error {
	if email == "" || len(email) > maxEmailLen {
		return ErrInvalidEmail
	}
	at := strings.Count(email, "@")
	if at != 1 {
		return ErrInvalidEmail
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || domain == "" {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword enforces the length policy.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return ErrInvalidPassword
	}
	return nil
}

// Register creates an Active, unverified account and mails a verification
// code. The password hash never appears in the returned row.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (store.AccountRow, error) {
	if err := ValidateEmail(email); err != nil {
		return store.AccountRow{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return store.AccountRow{}, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return store.AccountRow{}, fmt.Errorf("hash password: %w", err)
	}

	acct := store.AccountRow{
		ID:           protocol.NewID(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Status:       store.StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			return store.AccountRow{}, ErrEmailAlreadyExists
		}
		return store.AccountRow{}, err
	}

	if err := s.issueCode(ctx, email, store.PurposeEmailVerification); err != nil {
		// The account exists; the caller can resend.
		slog.Error("send verification code", "email", email, "err", err)
		return store.AccountRow{}, ErrVerificationSend
	}

	acct.PasswordHash = ""
	return acct, nil
}

func (s *Service) issueCode(ctx context.Context, email, purpose string) error {
	code, err := generateCode()
	if err != nil {
		return err
	}
	if err := s.store.DeleteVerifications(ctx, email, purpose); err != nil {
		return err
	}
	now := time.Now().UTC()
	row := store.VerificationRow{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: now.Add(codeTTL),
		CreatedAt: now,
	}
	if err := s.store.InsertVerification(ctx, row); err != nil {
		return err
	}
	if err := s.mailer.SendCode(ctx, email, code, purpose); err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationSend, err)
	}
	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}

// VerifyCode consumes a verification code. For the email-verification
// purpose it also flips the account's email_verified flag.
func (s *Service) VerifyCode(ctx context.Context, email, code, purpose string) error {
	row, err := s.store.LatestVerification(ctx, email, code, purpose)
	if err != nil {
		if errors.Is(err, store.ErrVerificationNotFound) {
			return ErrInvalidCode
		}
		return err
	}
	if !row.Valid(time.Now().UTC()) {
		return ErrInvalidCode
	}
	if err := s.store.MarkVerificationUsed(ctx, email, code, purpose); err != nil {
		return err
	}
	if purpose == store.PurposeEmailVerification {
		if err := s.store.SetEmailVerified(ctx, email); err != nil {
			return err
		}
	}
	slog.Info("verification code consumed", "email", email, "purpose", purpose)
	return nil
}

// ResendCode issues a fresh code. For an unknown email it reports success so
// the endpoint does not disclose which addresses are registered.
func (s *Service) ResendCode(ctx context.Context, email, purpose string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if _, err := s.store.AccountByEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			slog.Debug("resend for unknown email", "email", email)
			return nil
		}
		return err
	}
	return s.issueCode(ctx, email, purpose)
}

// Login checks credentials and returns the account with a fresh token pair.
// Email verification is advisory and not required here.
func (s *Service) Login(ctx context.Context, email, password string) (store.AccountRow, TokenPair, error) {
	acct, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return store.AccountRow{}, TokenPair{}, ErrAccountNotFound
		}
		return store.AccountRow{}, TokenPair{}, err
	}
	switch acct.Status {
	case store.StatusSuspended:
		return store.AccountRow{}, TokenPair{}, ErrAccountSuspended
	case store.StatusDeleted:
		return store.AccountRow{}, TokenPair{}, ErrAccountDeleted
	}
	if !VerifyPassword(password, acct.PasswordHash) {
		return store.AccountRow{}, TokenPair{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.store.TouchLastLogin(ctx, acct.ID, now); err != nil {
		return store.AccountRow{}, TokenPair{}, err
	}
	acct.LastLoginAt = now

	pair, err := s.IssueTokens(ctx, acct, "", "")
	if err != nil {
		return store.AccountRow{}, TokenPair{}, err
	}

	acct.PasswordHash = ""
	slog.Info("login", "account_id", acct.ID, "email", acct.Email)
	return acct, pair, nil
}

// IssueTokens signs an access/refresh pair and records the refresh session.
// The plaintext refresh token is returned once and never stored.
func (s *Service) IssueTokens(ctx context.Context, acct store.AccountRow, deviceInfo, ip string) (TokenPair, error) {
	access, err := s.signToken(acct.ID, acct.Email, acct.DisplayName, TokenTypeAccess, s.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.signToken(acct.ID, acct.Email, acct.DisplayName, TokenTypeRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now().UTC()
	row := store.SessionRow{
		ID:          protocol.NewID(),
		AccountID:   acct.ID,
		Fingerprint: Fingerprint(refresh),
		DeviceInfo:  deviceInfo,
		IP:          ip,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
		LastUsedAt:  now,
		Active:      true,
	}
	if err := s.store.InsertSession(ctx, row); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh trades a valid refresh token for a new access token. The refresh
// token itself is not rotated; only the session's last_used_at moves.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.VerifyToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	row, err := s.store.SessionByFingerprint(ctx, Fingerprint(refreshToken))
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return TokenPair{}, ErrSessionNotFound
		}
		return TokenPair{}, err
	}
	now := time.Now().UTC()
	if !row.Active || now.After(row.ExpiresAt) {
		return TokenPair{}, ErrSessionNotFound
	}
	if err := s.store.TouchSession(ctx, row.ID, now); err != nil {
		return TokenPair{}, err
	}

	access, err := s.signToken(claims.Subject, claims.Email, claims.DisplayName, TokenTypeAccess, s.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refreshToken}, nil
}

// Logout deactivates the session matching a refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if err := s.store.DeactivateSession(ctx, Fingerprint(refreshToken)); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// LogoutAll deactivates every session for an account.
func (s *Service) LogoutAll(ctx context.Context, accountID string) (int64, error) {
	return s.store.DeactivateAccountSessions(ctx, accountID)
}

// AccountByID fetches one account with the password hash stripped.
func (s *Service) AccountByID(ctx context.Context, id string) (store.AccountRow, error) {
	acct, err := s.store.AccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return store.AccountRow{}, ErrAccountNotFound
		}
		return store.AccountRow{}, err
	}
	acct.PasswordHash = ""
	return acct, nil
}
