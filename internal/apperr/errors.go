// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrLockUnavailable = errors.New("lock unavailable")
	ErrPersistence     = errors.New("persistence failed")
	ErrMalformedEntry  = errors.New("malformed queue entry")
	ErrInvalidUpdate   = errors.New("invalid update")
	ErrInvalidDocument = errors.New("invalid document")
)
