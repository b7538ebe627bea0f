// Package identity reads the caller's identity out of a request so the
// admission layer can key limits per user. It only verifies and reads
// tokens; issuing them is the auth service's job.
package identity

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Extractor pulls user IDs from bearer tokens signed with the shared
// HMAC secret.
type Extractor struct {
	secret []byte
}

// NewExtractor creates an extractor for the given signing secret
func NewExtractor(secret string) *Extractor {
	return &Extractor{secret: []byte(secret)}
}

// UserID returns the subject claim of a valid bearer token. A missing,
// malformed or expired token yields ok=false and the request is treated
// as anonymous; rejecting it is not this layer's call.
func (e *Extractor) UserID(r *http.Request) (string, bool) {
	raw := bearerToken(r)
	if raw == "" {
		return "", false
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return e.secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", false
	}
	return subject, true
}

// ClientIP returns the requester's address, preferring proxy headers.
// Only the first X-Forwarded-For hop counts; the rest is hearsay.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}

	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
