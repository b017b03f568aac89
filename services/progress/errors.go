// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"errors"
	"fmt"
)

// Sentinel errors for the progress subsystem.
var (
	// ErrMutationFailed marks a rejected authoritative increment. The
	// local optimistic value has already been rolled back when a caller
	// sees this.
	ErrMutationFailed = errors.New("mutation failed")

	// ErrReconciliationExhausted is logged (never returned to the UI
	// path) when the mismatch monitor hits its retry cap and gives up.
	ErrReconciliationExhausted = errors.New("reconciliation attempts exhausted")

	// ErrOccurrenceNotLoaded is returned when a mutation targets an
	// occurrence that is not in local state.
	ErrOccurrenceNotLoaded = errors.New("occurrence not loaded")

	// ErrServiceClosed is returned from operations issued after Close.
	ErrServiceClosed = errors.New("progress service closed")
)

// MutationError wraps a failed authoritative increment with the
// occurrence it targeted. It matches ErrMutationFailed under errors.Is
// and unwraps to the store's error.
type MutationError struct {
	OccurrenceID string
	Err          error
}

// Error implements the error interface.
func (e *MutationError) Error() string {
	return fmt.Sprintf("increment occurrence %s: %v", e.OccurrenceID, e.Err)
}

// Unwrap returns the underlying store error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// Is reports a match for the ErrMutationFailed sentinel.
func (e *MutationError) Is(target error) bool {
	return target == ErrMutationFailed
}
