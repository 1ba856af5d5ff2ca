package httpapi

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/packforge/distro/pkg/apperr"
)

// Claims are the JWT claims this service expects from its identity
// provider: a subject (userId) and an optional admin flag.
type Claims struct {
	jwt.RegisteredClaims
	SuperAdmin bool `json:"super_admin"`
}

var publicPaths = map[string]bool{
	"/healthz":      true,
	"/api-versions": true,
}

func isPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, "/webhooks/")
}

// AuthMiddleware validates a bearer JWT and attaches a Principal to the
// request context. Webhook endpoints are exempt here since they
// authenticate via per-gateway HMAC signature instead (pkg/payments).
func AuthMiddleware(keyFunc jwt.Keyfunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				apperr.WriteHTTP(w, r, apperr.New(apperr.KindAuthRequired, "missing or malformed Authorization header"))
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc)
			if err != nil || !token.Valid || claims.Subject == "" {
				apperr.WriteHTTP(w, r, apperr.New(apperr.KindAuthRequired, "invalid or expired token"))
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{UserID: claims.Subject, SuperAdmin: claims.SuperAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
