package core

import "errors"

// Failure kinds surfaced by the ledger. Handlers map these to response
// statuses; everything else is treated as an internal error.
var (
	// ErrNotFound covers both absent records and records owned by another
	// user. Callers never learn which.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when a username or email is taken or a
	// category name collides (case-insensitive) within the same user and
	// type.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrCategoryMismatch is returned when a transaction references a
	// category the user does not own, or whose type disagrees with the
	// transaction's type.
	ErrCategoryMismatch = errors.New("category mismatch")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrPersistence marks infrastructure failures of the underlying
	// store, as opposed to validation failures. Retried once by the
	// service layer before surfacing.
	ErrPersistence = errors.New("persistence failure")
)
