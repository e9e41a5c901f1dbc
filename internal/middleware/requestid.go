package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds a client-supplied id before it reaches logs.
const maxRequestIDLen = 128

type requestIDContextKey struct{}

// RequestID adopts the caller's correlation id when it is usable and mints a
// fresh one otherwise. The id is echoed on the response and stored on the
// request context for handlers and the access log.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := sanitizeRequestID(r.Header.Get(RequestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, rid)
		ctx := context.WithValue(r.Context(), requestIDContextKey{}, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sanitizeRequestID returns "" for ids that are too long or carry control
// characters.
func sanitizeRequestID(raw string) string {
	rid := strings.TrimSpace(raw)
	if len(rid) > maxRequestIDLen {
		return ""
	}
	for i := 0; i < len(rid); i++ {
		if c := rid[i]; c < 0x20 || c == 0x7f {
			return ""
		}
	}
	return rid
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return v
	}
	return ""
}
