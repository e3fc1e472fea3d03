package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"chatd/internal/auth"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const claimsKey = "auth.claims"

// requireAuth rejects requests without a valid bearer access token and
// stashes the verified claims in the request context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(header, "Bearer ") {
			return fail(c, auth.ErrInvalidToken)
		}
		claims, err := s.auth.VerifyToken(strings.TrimPrefix(header, "Bearer "), auth.TokenTypeAccess)
		if err != nil {
			return fail(c, err)
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func claimsFrom(c echo.Context) *auth.Claims {
	claims, _ := c.Get(claimsKey).(*auth.Claims)
	return claims
}

// ipLimiter throttles per client IP. Stale entries are purged lazily so no
// janitor goroutine is needed.
type ipLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastPurge time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

const visitorTTL = 3 * time.Minute

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	if limit <= 0 {
		limit = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &ipLimiter{
		visitors:  make(map[string]*visitor),
		limit:     limit,
		burst:     burst,
		lastPurge: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPurge) > visitorTTL {
		for ip, v := range l.visitors {
			if now.Sub(v.seen) > visitorTTL {
				delete(l.visitors, ip)
			}
		}
		l.lastPurge = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.lim.Allow()
}

// rateLimit guards the credential endpoints against brute force.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiter.allow(c.RealIP()) {
			return c.JSON(http.StatusTooManyRequests, envelope{
				Error:     "too many requests",
				ErrorType: "RateLimited",
			})
		}
		return next(c)
	}
}
