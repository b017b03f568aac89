// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verdantlabs/verdant/services/progress/cache"
	"github.com/verdantlabs/verdant/services/progress/datatypes"
	"github.com/verdantlabs/verdant/services/progress/store"
)

// GetProgress returns the due/completed aggregate for a scope and date,
// resolving through the tiers fast-to-slow:
//
//  1. Fresh fast-tier entry: returned as-is.
//  2. Stale fast-tier entry: returned immediately while a revalidation
//     runs in the background (stale-while-revalidate).
//  3. Durable-tier entry: returned (fresh ones also repopulate the
//     fast tier so the next read stays in-process; stale ones are
//     served while a revalidation runs, same as case 2).
//  4. Nothing cached anywhere: a blocking authoritative fetch,
//     deduplicated across concurrent callers, that repopulates every
//     tier on success.
//
// Once any value exists the caller never blocks, and a store outage
// only means serving stale data until the outage ends. When the
// authoritative store is not configured, a zero snapshot is returned
// without error so empty-state UIs render normally.
func (s *Service) GetProgress(ctx context.Context, scope datatypes.Scope, id, date string) (datatypes.ProgressSnapshot, error) {
	if !scope.Valid() {
		return datatypes.ProgressSnapshot{}, fmt.Errorf("unknown progress scope %q", scope)
	}
	key := cache.Key(scope, id, date)
	now := s.cfg.Now()

	entry, ok, err := cache.GetTyped[datatypes.ProgressSnapshot](ctx, s.fast, key)
	if err != nil {
		s.logger.Debug("fast tier read failed", "key", key, "error", err)
	}
	if ok {
		if !entry.Stale(now) {
			s.metrics.IncCacheHit("fast")
			return entry.Data, nil
		}
		s.metrics.IncStaleServe()
		s.revalidate(scope, id, date)
		return entry.Data, nil
	}
	s.metrics.IncCacheMiss("fast")

	if s.durable != nil {
		entry, ok, err = cache.GetTyped[datatypes.ProgressSnapshot](ctx, s.durable, key)
		if err != nil {
			s.logger.Debug("durable tier read failed", "key", key, "error", err)
		}
		if ok {
			if entry.Stale(now) {
				s.metrics.IncStaleServe()
				s.revalidate(scope, id, date)
				return entry.Data, nil
			}
			s.metrics.IncCacheHit("durable")
			if err := cache.SetTyped(ctx, s.fast, key, entry.Data, s.cfg.FastTTL); err != nil {
				s.logger.Debug("fast tier repopulation failed", "key", key, "error", err)
			}
			return entry.Data, nil
		}
		s.metrics.IncCacheMiss("durable")
	}

	return s.fetchAndCache(ctx, scope, id, date)
}

// revalidate refreshes one aggregate in the background. Failures are
// swallowed: the stale value already went out and TTLs bound how long
// it can persist.
func (s *Service) revalidate(scope datatypes.Scope, id, date string) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		if _, err := s.fetchAndCache(ctx, scope, id, date); err != nil {
			s.logger.Debug("background revalidation failed",
				"scope", scope, "id", id, "date", date, "error", err)
		}
	}()
}

// fetchAndCache reads the authoritative aggregate and writes it to
// every tier. Concurrent fetches for the same key collapse into one
// store round trip.
func (s *Service) fetchAndCache(ctx context.Context, scope datatypes.Scope, id, date string) (datatypes.ProgressSnapshot, error) {
	key := cache.Key(scope, id, date)

	v, err, _ := s.flight.Do(key, func() (any, error) {
		start := s.cfg.Now()
		snapshot, err := s.client.ReadCachedProgress(ctx, scope, id, date)
		s.metrics.ObserveFetch(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, store.ErrNotConfigured) {
				return datatypes.ProgressSnapshot{}, nil
			}
			return datatypes.ProgressSnapshot{}, fmt.Errorf("fetch %s aggregate for %s: %w", scope, id, err)
		}

		changed := s.snapshotChanged(ctx, key, snapshot)
		for _, tier := range s.tiers() {
			if err := cache.SetTyped(ctx, tier.store, key, snapshot, tier.ttl); err != nil {
				s.logger.Debug("tier write failed", "tier", tier.name, "key", key, "error", err)
			}
		}
		if changed {
			s.bus.Publish(Event{
				Kind:     EventSnapshotUpdated,
				Scope:    scope,
				ID:       id,
				Date:     date,
				Snapshot: &snapshot,
			})
		}
		return snapshot, nil
	})
	if err != nil {
		return datatypes.ProgressSnapshot{}, err
	}
	return v.(datatypes.ProgressSnapshot), nil
}

// snapshotChanged reports whether the freshly fetched aggregate differs
// from what the fast tier held, so subscribers only re-render on real
// movement.
func (s *Service) snapshotChanged(ctx context.Context, key string, snapshot datatypes.ProgressSnapshot) bool {
	prev, ok, err := cache.GetTyped[datatypes.ProgressSnapshot](ctx, s.fast, key)
	if err != nil || !ok {
		return true
	}
	return !prev.Data.Equal(snapshot)
}
