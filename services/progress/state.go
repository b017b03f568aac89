// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"sync"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// localState holds the client's loaded occurrence list and completion
// attributions.
//
// The generation counter orders reloads against optimistic mutations:
// every mutation bumps it, and a reload only applies if the generation
// it captured at start is still current. A reload that raced with a
// mutation is skipped rather than merged, because counts are always
// re-derived from the next authoritative read instead of merging
// deltas.
//
// Thread Safety: safe for concurrent use.
type localState struct {
	mu          sync.RWMutex
	occurrences map[string]datatypes.Occurrence
	order       []string
	completions map[string][]datatypes.Completion
	generation  uint64
	loadedOnce  bool
}

func newLocalState() *localState {
	return &localState{
		occurrences: make(map[string]datatypes.Occurrence),
		completions: make(map[string][]datatypes.Completion),
	}
}

// Generation returns the current mutation generation.
func (s *localState) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Loaded reports whether at least one reload has completed.
func (s *localState) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedOnce
}

// Empty reports whether no occurrences are loaded.
func (s *localState) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.occurrences) == 0
}

// Get returns a copy of one occurrence.
func (s *localState) Get(id string) (datatypes.Occurrence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	occ, ok := s.occurrences[id]
	return occ, ok
}

// List returns copies of all loaded occurrences in load order.
func (s *localState) List() []datatypes.Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]datatypes.Occurrence, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.occurrences[id])
	}
	return out
}

// Completions returns the attribution rows for one occurrence.
func (s *localState) Completions(occurrenceID string) []datatypes.Completion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]datatypes.Completion(nil), s.completions[occurrenceID]...)
}

// ReplaceAllIf installs a freshly loaded occurrence list, but only if
// no mutation happened since the reload captured gen. Returns false
// when the reload was superseded and must be retried.
func (s *localState) ReplaceAllIf(gen uint64, occurrences []datatypes.Occurrence, completions map[string][]datatypes.Completion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return false
	}

	s.occurrences = make(map[string]datatypes.Occurrence, len(occurrences))
	s.order = make([]string, 0, len(occurrences))
	for _, occ := range occurrences {
		s.occurrences[occ.ID] = occ
		s.order = append(s.order, occ.ID)
	}
	if completions == nil {
		completions = make(map[string][]datatypes.Completion)
	}
	s.completions = completions
	s.loadedOnce = true
	return true
}

// ApplyIncrement applies a clamped optimistic increment and returns the
// pre-mutation count and the value written, both needed for a later
// compare-and-revert. Bumps the generation.
func (s *localState) ApplyIncrement(id string, increment int) (prev, applied int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	occ, found := s.occurrences[id]
	if !found {
		return 0, 0, false
	}
	prev = occ.CompletedCount
	occ.CompletedCount = occ.ClampCount(occ.CompletedCount + increment)
	s.occurrences[id] = occ
	s.generation++
	return prev, occ.CompletedCount, true
}

// RevertIf restores an occurrence's completed count after a failed
// authoritative increment, but only while the count still holds that
// mutation's optimistic value. A concurrent sibling that wrote a newer
// count in between must not be rolled back to this mutation's older
// baseline. Bumps the generation when it reverts.
func (s *localState) RevertIf(id string, prev, applied int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	occ, found := s.occurrences[id]
	if !found || occ.CompletedCount != applied {
		return false
	}
	occ.CompletedCount = occ.ClampCount(prev)
	s.occurrences[id] = occ
	s.generation++
	return true
}

// ApplyAuthoritative adopts the store's confirmed row for one
// occurrence. The confirmed row wins over the local prediction. Bumps
// the generation.
func (s *localState) ApplyAuthoritative(occ datatypes.Occurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.occurrences[occ.ID]; !found {
		return
	}
	s.occurrences[occ.ID] = occ
	s.generation++
}
