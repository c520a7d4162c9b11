package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorRequired occurs when a mutating call carries no store scope.
	ErrActorRequired = errors.New("actor store scope required")
)
