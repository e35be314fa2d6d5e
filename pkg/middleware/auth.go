package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/bridgekit/chainsettle/pkg/response"
)

// RequireAPIKey guards a route subtree with a single shared key. The key
// is accepted either as "Authorization: Bearer <key>" or in the
// X-API-Key header. An empty configured key disables the check, which is
// the development default.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
				if len(parts) == 2 && parts[0] == "Bearer" {
					provided = parts[1]
				}
			}
			if provided == "" {
				response.Unauthorized(w, "API key required")
				return
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				response.Unauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
