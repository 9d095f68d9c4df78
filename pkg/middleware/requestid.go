package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader carries the request id on requests and responses.
const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a correlation id. An id supplied by
// the client is kept; otherwise a new one is generated. The id is
// echoed on the response and stored in the request context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			ctx := WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
