// Package sentinel holds the infrastructure facts stores report. Services
// translate them into coded domain errors; validation failures never use them.
package sentinel

import "errors"

var (
	// ErrNotFound: no row or entry matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUsed: a unique key (email, user and deposit type, application) is taken.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: the entity cannot take the requested operation in its current state.
	ErrInvalidState = errors.New("invalid state")
)
