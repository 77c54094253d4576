package domain

import "errors"

// Sentinel errors shared across repositories and services.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller may not act on the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned when a request fails domain validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateEmail is returned when a user email is already taken.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrDuplicateRegistration is returned by the storage layer when the
	// (user_id, event_id) uniqueness constraint rejects an insert.
	ErrDuplicateRegistration = errors.New("registration already exists")
	// ErrCapacityExhausted is returned by the storage layer when a relative
	// capacity decrement matches no row because capacity is too low.
	ErrCapacityExhausted = errors.New("event capacity exhausted")
)
