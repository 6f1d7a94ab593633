package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/findoc/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// Auth checks a Bearer API key against a single bcrypt hash.
type Auth struct {
	hash []byte
}

// NewAuth returns nil when hash is empty, which disables authentication.
func NewAuth(hash string) *Auth {
	if hash == "" {
		return nil
	}
	return &Auth{hash: []byte(hash)}
}

// Authenticate rejects requests without a matching Bearer token. A nil Auth lets everything through.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}
		if bcrypt.CompareHashAndPassword(a.hash, []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
