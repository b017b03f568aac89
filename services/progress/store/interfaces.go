// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store defines the boundary to the authoritative occurrence
// store and provides its HTTP implementation.
//
// The authoritative store is the only place where concurrent increments
// are serialized; every cache tier above it is an approximation that is
// allowed to be briefly wrong. This package treats the store's
// materialized progress aggregate as a fast read path and never
// recomputes it locally.
package store

import (
	"context"
	"errors"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// ErrNotConfigured is returned when no backing store is reachable
// because the client was built without a base URL. Callers degrade to
// empty aggregates instead of surfacing this to the UI layer.
var ErrNotConfigured = errors.New("authoritative store not configured")

// Client is the authoritative-store boundary consumed by the progress
// subsystem.
//
// Implementations must be safe for concurrent use. All methods honor
// context cancellation.
type Client interface {
	// ListTasks returns every recurring care task in a garden.
	ListTasks(ctx context.Context, gardenID string) ([]datatypes.Task, error)

	// ResyncOccurrences regenerates and fills occurrence rows for the
	// window from the recurrence rules. Idempotent; the expansion
	// algorithm lives in the store.
	ResyncOccurrences(ctx context.Context, gardenID, fromDate, toDate string) error

	// ListOccurrences returns the occurrence rows for the given tasks
	// inside the date window.
	ListOccurrences(ctx context.Context, taskIDs []string, fromDate, toDate string) ([]datatypes.Occurrence, error)

	// ListCompletions returns attribution rows grouped by occurrence.
	ListCompletions(ctx context.Context, occurrenceIDs []string) (map[string][]datatypes.Completion, error)

	// IncrementOccurrence applies amount to an occurrence's completed
	// count atomically at the store and returns the resulting row. The
	// store performs the arithmetic and the clamp; the caller's
	// optimistic value is a prediction, never a final value.
	IncrementOccurrence(ctx context.Context, occurrenceID string, amount int) (datatypes.Occurrence, error)

	// ReadCachedProgress reads the store's materialized progress
	// aggregate for a scope and date.
	ReadCachedProgress(ctx context.Context, scope datatypes.Scope, id, date string) (datatypes.ProgressSnapshot, error)

	// RefreshProgressCache asks the store to recompute its materialized
	// aggregate for a scope and date.
	RefreshProgressCache(ctx context.Context, scope datatypes.Scope, id, date string) error
}
