// Package auth identifies the user behind an HTTP request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nstogner/chatd/pkg/domain"
)

// AnonymousUser is the user ID given to unauthenticated requests when
// anonymous access is allowed.
const AnonymousUser = "anonymous"

// Authorizer resolves the user that issued a request.
type Authorizer interface {
	Authorize(r *http.Request) (string, error)
}

// Claims is the token payload. Subject holds the user ID.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWT authorizes requests carrying an HS256 token in the Authorization
// header or in a cookie.
type JWT struct {
	secret         []byte
	cookieName     string
	allowAnonymous bool
}

type Options struct {
	Secret         string
	CookieName     string
	AllowAnonymous bool
}

func NewJWT(opts Options) *JWT {
	return &JWT{
		secret:         []byte(opts.Secret),
		cookieName:     opts.CookieName,
		allowAnonymous: opts.AllowAnonymous,
	}
}

// Generate issues a signed token for userID. A non-positive expiry yields a
// token without an expiration.
func (j *JWT) Generate(userID string, expiry time.Duration) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Validate parses token and returns its subject.
func (j *JWT) Validate(token string) (string, error) {
	if len(j.secret) == 0 {
		return "", fmt.Errorf("%w: token authentication disabled", domain.ErrNotAuthorized)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotAuthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: invalid token", domain.ErrNotAuthorized)
	}
	return claims.Subject, nil
}

func (j *JWT) Authorize(r *http.Request) (string, error) {
	token := tokenFromRequest(r, j.cookieName)
	if token == "" {
		if j.allowAnonymous {
			return AnonymousUser, nil
		}
		return "", fmt.Errorf("%w: missing token", domain.ErrNotAuthorized)
	}
	return j.Validate(token)
}

func tokenFromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	// Browsers cannot set headers on a websocket handshake.
	return r.URL.Query().Get("token")
}
