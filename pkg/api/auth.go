package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth validates bearer tokens against a single HMAC secret. The spec
// leaves authorization to the surrounding system (§9's risk-tier note),
// but the ambient pattern — optional, fail-closed when configured — is
// carried the way the rest of the pack carries auth.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth builds a validator for secret. A nil *JWTAuth (secret == "")
// means auth is not configured; callers should skip the middleware.
func NewJWTAuth(secret string) *JWTAuth {
	if secret == "" {
		return nil
	}
	return &JWTAuth{secret: []byte(secret)}
}

// Middleware rejects requests without a valid Bearer token. Health and
// tool-catalogue reads stay open; only POST /brain/run and webhook ingress
// are protected, and webhooks authenticate via HMAC signature instead.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			WriteUnauthorized(w, "missing bearer token")
			return
		}

		parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			WriteUnauthorized(w, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
