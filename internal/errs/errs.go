// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUserNotFound indicates the owning user is missing from the store.
	// Jobs that hit it are failed permanently: retrying cannot change the outcome.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmptyRepository is the normalized form of GitHub's 409 response for
	// repositories with no commits at all. Callers treat it as zero results.
	ErrEmptyRepository = errors.New("repository is empty")

	// ErrUnauthorized indicates failed credential verification.
	ErrUnauthorized = errors.New("unauthorized")
)
