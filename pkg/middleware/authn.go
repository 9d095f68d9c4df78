package middleware

import (
	"net/http"
	"strings"

	"github.com/txn2/config-store/pkg/auth"
)

// Authentication extracts the request credential, resolves it through
// the authenticator and stores the identity in the request context.
// Credentials are read from the Authorization header (Bearer scheme)
// or the X-API-Key header. Requests the authenticator rejects get 401.
func Authentication(authenticator auth.Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var token string
			header := r.Header.Get("Authorization")
			if t, ok := strings.CutPrefix(header, "Bearer "); ok {
				token = t
			}
			if token == "" {
				token = r.Header.Get("X-API-Key")
			}
			if token != "" {
				ctx = auth.WithToken(ctx, token)
			}

			id, err := authenticator.Authenticate(ctx)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = auth.WithIdentity(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
