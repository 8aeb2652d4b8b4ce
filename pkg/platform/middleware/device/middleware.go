package device

import "net/http"

// HeaderDeviceID carries a caller-assigned device identifier.
const HeaderDeviceID = "X-Device-ID"

// Fingerprinter derives a stable fingerprint from a user agent.
type Fingerprinter interface {
	ComputeFingerprint(userAgent string) string
}

// Middleware stores the X-Device-ID header and the user-agent fingerprint on
// the request context.
func Middleware(fp Fingerprinter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(HeaderDeviceID); id != "" {
				ctx = WithDeviceID(ctx, id)
			}
			if fp != nil {
				if sum := fp.ComputeFingerprint(r.UserAgent()); sum != "" {
					ctx = WithDeviceFingerprint(ctx, sum)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
