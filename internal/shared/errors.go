package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorRequired indicates a mutating request without an identified performer.
	ErrActorRequired = errors.New("actor required")
)
