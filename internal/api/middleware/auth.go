package middleware

import (
	"net/http"
	"strings"

	"github.com/entityops/matchd/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Auth validates the admin API key. The server holds a single bcrypt hash;
// there is no user model behind the dashboard.
type Auth struct {
	keyHash string
}

// NewAuth creates the Auth middleware. An empty hash disables
// authentication, which is how local development runs.
func NewAuth(keyHash string) *Auth {
	return &Auth{keyHash: keyHash}
}

// Enabled reports whether a key hash is configured.
func (a *Auth) Enabled() bool { return a.keyHash != "" }

// Authenticate checks the Bearer token against the configured hash and
// stores the caller identity (the key prefix) in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(SetCaller(r.Context(), "anonymous")))
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(a.keyHash), []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		caller := rawKey
		if len(caller) > keyPrefixLen {
			caller = caller[:keyPrefixLen]
		}
		next.ServeHTTP(w, r.WithContext(SetCaller(r.Context(), caller)))
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
