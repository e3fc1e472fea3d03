package httpapi

import (
	"net/http"
	"time"

	"chatd/internal/auth"
	"chatd/internal/store"

	"github.com/labstack/echo/v4"
)

// accountView is the account shape exposed over REST. The password hash is
// stripped in the auth layer before it ever gets here.
type accountView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name,omitempty"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func viewAccount(a store.AccountRow) accountView {
	v := accountView{
		ID:            a.ID,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		Status:        a.Status,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
	if !a.LastLoginAt.IsZero() {
		t := a.LastLoginAt
		v.LastLoginAt = &t
	}
	return v
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	acct, err := s.auth.Register(c.Request().Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		return fail(c, err)
	}
	return respondMessage(c, http.StatusCreated, viewAccount(acct), "verification code sent")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Account accountView    `json:"account"`
	Tokens  auth.TokenPair `json:"tokens"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	acct, pair, err := s.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, loginResponse{Account: viewAccount(acct), Tokens: pair})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleVerifyEmail(c echo.Context) error {
	var req verifyEmailRequest
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	if err := s.auth.VerifyCode(c.Request().Context(), req.Email, req.Code, store.PurposeEmailVerification); err != nil {
		return fail(c, err)
	}
	return respondMessage(c, http.StatusOK, nil, "email verified")
}

type resendCodeRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

func (s *Server) handleResendCode(c echo.Context) error {
	var req resendCodeRequest
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	purpose := req.Purpose
	if purpose == "" {
		purpose = store.PurposeEmailVerification
	}
	if err := s.auth.ResendCode(c.Request().Context(), req.Email, purpose); err != nil {
		return fail(c, err)
	}
	// Unknown emails get the same answer so the endpoint does not disclose
	// which addresses exist.
	return respondMessage(c, http.StatusOK, nil, "verification code sent")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	pair, err := s.auth.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, pair)
}

func (s *Server) handleLogout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return failBadRequest(c, "invalid request body")
	}
	if err := s.auth.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return fail(c, err)
	}
	return respondMessage(c, http.StatusOK, nil, "logged out")
}

// handleLogoutAll deactivates every refresh session of the authenticated
// account.
func (s *Server) handleLogoutAll(c echo.Context) error {
	claims := claimsFrom(c)
	n, err := s.auth.LogoutAll(c.Request().Context(), claims.Subject)
	if err != nil {
		return fail(c, err)
	}
	return respondMessage(c, http.StatusOK, map[string]int64{"sessions_ended": n}, "logged out everywhere")
}

func (s *Server) handleMe(c echo.Context) error {
	claims := claimsFrom(c)
	acct, err := s.auth.AccountByID(c.Request().Context(), claims.Subject)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, viewAccount(acct))
}
