// Package auth supplies the bearer credential for upstream calls. Login and
// refresh live elsewhere; this package only reads and sanity-checks a token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrLoginRequired marks failures that retrying cannot fix.
var ErrLoginRequired = errors.New("auth: login required")

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static returns the same token on every call.
func Static(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) {
		return checked(token, time.Now())
	})
}

// CookieFile reads the token from a file on every call so that an external
// login flow can rotate it. Both a bare token and a cookie line
// ("token=<value>; Path=/") are accepted.
func CookieFile(path string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", ErrLoginRequired
			}
			return "", fmt.Errorf("auth: read token file: %w", err)
		}
		return checked(parseCookie(string(b)), time.Now())
	})
}

func parseCookie(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(name, "token") {
			return strings.TrimSpace(value)
		}
	}
	if strings.Contains(raw, "=") && !strings.Contains(raw, ".") {
		return ""
	}
	return raw
}

// checked rejects empty tokens and JWTs that are expired or carry no exp
// claim. Opaque (non-JWT) tokens pass through; the server has the last word.
func checked(token string, now time.Time) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrLoginRequired
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return token, nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", fmt.Errorf("%w: token missing expiration claim", ErrLoginRequired)
	}
	if !now.Before(exp.Time) {
		return "", fmt.Errorf("%w: token expired", ErrLoginRequired)
	}
	return token, nil
}

// IsLoginRequired reports whether err means the user must re-authenticate.
// Besides the sentinel it matches the message texts upstream services use,
// since those arrive as plain strings.
func IsLoginRequired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLoginRequired) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range loginSentinels {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var loginSentinels = []string{"login required", "登录"}
