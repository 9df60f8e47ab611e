package domain

import "errors"

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyConverted is returned when a click is marked converted a
	// second time. Callers must treat this as a benign race and use the
	// conversion the click already points to.
	ErrAlreadyConverted = errors.New("click already converted")

	// ErrInvalidTransition is returned when a lifecycle call is illegal
	// from the entity's current status. Retrying the same call will fail
	// the same way.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadySettled is returned when a settled commission is cancelled.
	// Settled is terminal; reversal requires a compensating commission.
	ErrAlreadySettled = errors.New("commission already settled")

	// ErrNothingToSettle is returned when a settlement batch is requested
	// for a partner with no eligible commissions.
	ErrNothingToSettle = errors.New("no confirmed commissions to settle")

	// ErrInvalidInput is returned for malformed boundary input.
	ErrInvalidInput = errors.New("invalid input")
)
