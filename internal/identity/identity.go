// Package identity resolves the user key for HTTP and WebSocket clients.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName   = "coach_anon_id"
	UserKeyHeader    = "X-User-Key"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const userKeyKey contextKey = iota

var (
	anonIDPattern  = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	userKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:+@-]{1,128}$`)
)

// UserKeyFromContext extracts the user key from the request context.
func UserKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userKeyKey).(string); ok {
		return v
	}
	return ""
}

// WithUserKey returns ctx carrying key.
func WithUserKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, userKeyKey, key)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// SanitizeUserKey returns the trimmed key, or "" when it is not acceptable.
func SanitizeUserKey(key string) string {
	key = strings.TrimSpace(key)
	if !userKeyPattern.MatchString(key) {
		return ""
	}
	return key
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the user key: the X-User-Key header (or user_key query
// parameter for WebSocket upgrades) when valid, otherwise an anonymous
// per-device cookie id.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(UserKeyHeader)
			if key == "" {
				key = r.URL.Query().Get("user_key")
			}
			key = SanitizeUserKey(key)

			if key == "" {
				id, err := getOrCreateAnonID(w, r, isDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
				key = id
			}

			next.ServeHTTP(w, r.WithContext(WithUserKey(r.Context(), key)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
