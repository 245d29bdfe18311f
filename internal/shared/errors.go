package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorRequired occurs when a mutating call carries no acting user.
	ErrActorRequired = errors.New("actor id required")
)
