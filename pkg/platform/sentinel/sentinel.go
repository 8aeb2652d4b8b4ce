// Package sentinel holds the infrastructure errors stores return. Services
// translate them into coded domain errors; transports never see them.
package sentinel

import "errors"

var (
	// ErrNotFound means the key has no record in the store.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a create hit an existing key.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable means the backing store could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
