// Package apperr holds the sentinel errors shared by the server and the editing client.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")

	// ErrTransportAborted marks a request the caller cancelled itself. It is
	// never reported to the user as a failure.
	ErrTransportAborted = errors.New("transport aborted")
	ErrTransportFailed  = errors.New("transport failed")

	ErrNotHydrated     = errors.New("graph not hydrated")
	ErrAlreadyHydrated = errors.New("graph already hydrated")
)
