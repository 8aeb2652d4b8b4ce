// Package device carries the requesting device's identity through the request
// context: a caller-assigned id and a user-agent fingerprint.
package device

import "context"

type ctxKey int

const (
	deviceIDKey ctxKey = iota
	fingerprintKey
)

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// GetDeviceID returns the X-Device-ID recorded by Middleware, or "".
func GetDeviceID(ctx context.Context) string {
	return value(ctx, deviceIDKey)
}

func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceFingerprint returns the user-agent fingerprint, or "".
func GetDeviceFingerprint(ctx context.Context) string {
	return value(ctx, fingerprintKey)
}

func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, fingerprintKey, fingerprint)
}
