// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Scope selects whether a progress aggregate covers one garden or one
// user across all of their gardens.
type Scope string

const (
	// ScopeUser aggregates across every garden the user belongs to.
	ScopeUser Scope = "user"

	// ScopeGarden aggregates one garden only.
	ScopeGarden Scope = "garden"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeUser || s == ScopeGarden
}

// ProgressSnapshot is a pure aggregate of care-task progress for one
// scope and one calendar date: how many units are due and how many have
// been completed.
//
// Snapshots are derived, never independently mutated. They are
// recomputed by the authoritative store and copied into cache tiers.
type ProgressSnapshot struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
}

// Equal reports whether two snapshots carry the same counts.
func (s ProgressSnapshot) Equal(other ProgressSnapshot) bool {
	return s.Due == other.Due && s.Completed == other.Completed
}

// IsZero reports whether the snapshot has no due work and no
// completions.
func (s ProgressSnapshot) IsZero() bool {
	return s.Due == 0 && s.Completed == 0
}

// PlantTasks groups the loaded occurrences of a single plant, with the
// completions attached for attribution display.
type PlantTasks struct {
	GardenPlantID string                  `json:"gardenPlantId"`
	Occurrences   []Occurrence            `json:"occurrences"`
	Completions   map[string][]Completion `json:"completions,omitempty"`
}

// GardenTaskView is the UI-facing aggregation of one garden's
// occurrences, grouped by plant. It is derived entirely from Occurrence
// and Completion data and is never the source of truth.
type GardenTaskView struct {
	GardenID  string       `json:"gardenId"`
	Plants    []PlantTasks `json:"plants"`
	Due       int          `json:"due"`
	Completed int          `json:"completed"`
}

// Snapshot returns the aggregate counts implied by the view's loaded
// occurrences. This is the local-detail side of the mismatch check; the
// cached ProgressSnapshot is the aggregate side.
func (v GardenTaskView) Snapshot() ProgressSnapshot {
	var s ProgressSnapshot
	for _, p := range v.Plants {
		for _, o := range p.Occurrences {
			s.Due += o.RequiredCount
			s.Completed += o.ClampCount(o.CompletedCount)
		}
	}
	return s
}
