// Copyright © 2018 One Concern

// Package status declares error constants returned by the rotation engine
// and the pipeline driver.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/core and the packages
// it drives (model, mover, hooks, lock).
package status

import "github.com/oneconcern/snapback/pkg/errors"

var (
	// ErrValidation indicates a missing source or destination, a job with both sides remote,
	// or a destination matching a protected path. Nothing has been mutated when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrSync indicates that the data mover reported a failure
	ErrSync = errors.New("sync failed")

	// ErrHook indicates that a pre or post hook command exited with a non-zero status
	ErrHook = errors.New("hook failed")

	// ErrLocked indicates that another run holds the lock on the destination root
	ErrLocked = errors.New("destination is locked by another run")

	// ErrInvalidSlot indicates an out of range slot index for a tier
	ErrInvalidSlot = errors.New("invalid slot")
)
