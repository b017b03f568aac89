// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// Maximum concurrent authoritative increments for batch mutations.
const mutationConcurrency = 4

// IncrementOccurrence applies amount to an occurrence's completed count
// optimistically, then confirms it with the authoritative store.
//
// The local value updates immediately so the UI renders without a round
// trip. On confirmation the store's row replaces the prediction, since
// the store performs the real arithmetic and clamp under concurrency.
// On failure the pre-mutation count is restored and a MutationError is
// returned; callers surface it and the UI snaps back. The rollback is
// compare-and-revert: when a concurrent increment already moved the
// count past this mutation's prediction, the newer value stands and the
// queued reconciliation refresh settles it instead.
//
// Either way, the garden's and user's cached aggregates are invalidated
// so no tier serves a pre-mutation count past its next read, a change
// notification goes out tagged with this client's actor id, and a
// reconciliation refresh is queued for the next idle window.
func (s *Service) IncrementOccurrence(ctx context.Context, occurrenceID string, amount int) error {
	occ, ok := s.state.Get(occurrenceID)
	if !ok {
		return ErrOccurrenceNotLoaded
	}

	prev, applied, ok := s.state.ApplyIncrement(occurrenceID, amount)
	if !ok {
		return ErrOccurrenceNotLoaded
	}
	s.bus.Publish(Event{Kind: EventOccurrencesChanged, OccurrenceID: occurrenceID})

	confirmed, err := s.client.IncrementOccurrence(ctx, occurrenceID, amount)
	if err != nil {
		s.metrics.IncMutation("failed")
		s.state.RevertIf(occurrenceID, prev, applied)
		s.bus.Publish(Event{Kind: EventOccurrencesChanged, OccurrenceID: occurrenceID})
		s.finishMutation(ctx, occ.GardenID, false)
		return &MutationError{OccurrenceID: occurrenceID, Err: err}
	}

	s.metrics.IncMutation("ok")
	s.state.ApplyAuthoritative(confirmed)
	s.bus.Publish(Event{Kind: EventOccurrencesChanged, OccurrenceID: occurrenceID})
	s.finishMutation(ctx, occ.GardenID, true)
	return nil
}

// CompleteOccurrence records one completed unit of work.
func (s *Service) CompleteOccurrence(ctx context.Context, occurrenceID string) error {
	return s.IncrementOccurrence(ctx, occurrenceID, 1)
}

// ProgressAllForTarget applies one completed unit to every occurrence
// of a garden plant that still has work outstanding today. Increments
// run concurrently against the store; the first failure cancels the
// rest and is returned after its own rollback completed.
func (s *Service) ProgressAllForTarget(ctx context.Context, gardenID, gardenPlantID string) error {
	var targets []string
	for _, occ := range s.state.List() {
		if occ.GardenID == gardenID && occ.GardenPlantID == gardenPlantID && occ.Remaining() > 0 {
			targets = append(targets, occ.ID)
		}
	}
	return s.incrementBatch(ctx, targets)
}

// MarkAllCompleted finishes every outstanding unit for today, in one
// garden or, with an empty gardenID, across every loaded garden. Each
// unit is a separate authoritative increment, so an occurrence needing
// two more waterings gets two +1 calls: the store serializes each
// against concurrent housemates and clamps at the requirement, which a
// single bulk write could not do race-free.
func (s *Service) MarkAllCompleted(ctx context.Context, gardenID string) error {
	var targets []string
	for _, occ := range s.state.List() {
		if gardenID != "" && occ.GardenID != gardenID {
			continue
		}
		for i := 0; i < occ.Remaining(); i++ {
			targets = append(targets, occ.ID)
		}
	}
	return s.incrementBatch(ctx, targets)
}

// incrementBatch runs one IncrementOccurrence per target with bounded
// concurrency.
func (s *Service) incrementBatch(ctx context.Context, occurrenceIDs []string) error {
	if len(occurrenceIDs) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(mutationConcurrency)
	for _, id := range occurrenceIDs {
		g.Go(func() error {
			return s.IncrementOccurrence(ctx, id, 1)
		})
	}
	return g.Wait()
}

// finishMutation runs the shared post-mutation tail: invalidate the
// affected aggregates, queue a reconciliation refresh for the next idle
// window, and notify other clients. The broadcast goes out even after a
// failed increment, because the failed attempt may have raced a
// concurrent success whose aggregate the others should refetch.
func (s *Service) finishMutation(ctx context.Context, gardenID string, succeeded bool) {
	s.invalidateGarden(ctx, gardenID)

	s.idle.Enqueue(func(ctx context.Context) {
		s.refreshAggregates()
		s.monitor.Check(ctx)
	})

	if s.pub == nil {
		return
	}
	msg := datatypes.BroadcastMessage{
		GardenID: gardenID,
		Kind:     datatypes.BroadcastTasks,
		ActorID:  s.cfg.ActorID,
	}
	if !succeeded {
		msg.Metadata = map[string]string{"outcome": "rolled_back"}
	}
	if err := s.pub.Publish(ctx, msg); err != nil {
		s.logger.Debug("broadcast publish failed", "gardenId", gardenID, "error", err)
	}
}
