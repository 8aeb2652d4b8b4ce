// Package requesttime provides middleware for request-scoped time.
// Every stage of one access evaluation sees the same "now", so decision
// timestamps, expiry and time-of-day conditions agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"kinguard/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
