package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownTier     = errors.New("unknown subscription tier")
	ErrLockUnavailable = errors.New("lock is held elsewhere")
)
