// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache implements the tiered cache used by the progress
// subsystem.
//
// Each tier implements the same Store contract independently: a fast
// in-process tier with a short TTL and a durable BadgerDB tier with a
// longer TTL. There is no automatic promotion or demotion between
// tiers; callers query tiers in a fixed fast-to-slow order and
// repopulate faster tiers on a slow-tier hit.
//
// # Staleness
//
// An entry is stale once now - WrittenAt > TTL. Staleness does not
// imply deletion: stale entries are still returned so callers can serve
// them opportunistically while a refresh runs in the background
// (stale-while-revalidate). Entries disappear only on explicit
// invalidation, overwrite, or the durable tier's hard expiry.
//
// # Thread Safety
//
// All Store implementations are safe for concurrent use. Every Set
// replaces the whole entry atomically; readers never observe a
// partially written entry.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is a timestamped, TTL-bearing cache value.
type Entry[T any] struct {
	// Data is the cached value.
	Data T `json:"data"`

	// WrittenAt is when the entry was stored.
	WrittenAt time.Time `json:"writtenAt"`

	// TTL is the tier-specific freshness window.
	TTL time.Duration `json:"ttl"`
}

// Stale reports whether the entry's freshness window has elapsed at
// the given instant.
func (e Entry[T]) Stale(now time.Time) bool {
	return now.Sub(e.WrittenAt) > e.TTL
}

// Age returns how long ago the entry was written.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.WrittenAt)
}

// Raw is the wire form every tier stores: an Entry whose payload is an
// opaque JSON document.
type Raw = Entry[json.RawMessage]

// Store is the contract implemented by every cache tier.
//
// Keys are flat strings in the form "{scope}:{id}:{date}" (see Key).
// Prefix invalidation lets one garden's entries be cleared without a
// global flush; the empty prefix clears the whole tier.
type Store interface {
	// Get returns the entry for key. The second return is false when no
	// entry exists. Stale entries are returned; the caller decides what
	// staleness means.
	Get(ctx context.Context, key string) (Raw, bool, error)

	// Set stores data under key with the given freshness window,
	// replacing any previous entry atomically.
	Set(ctx context.Context, key string, data json.RawMessage, ttl time.Duration) error

	// InvalidatePrefix removes every entry whose key starts with
	// prefix. An empty prefix removes everything.
	InvalidatePrefix(ctx context.Context, prefix string) error

	// Close releases tier resources. The store must not be used after
	// Close returns.
	Close() error
}

// GetTyped reads and decodes the entry for key from s.
//
// The returned bool is false when no entry exists. A present but
// undecodable entry is treated as absent after being dropped, so one
// corrupt row cannot wedge the read path.
func GetTyped[T any](ctx context.Context, s Store, key string) (Entry[T], bool, error) {
	var out Entry[T]

	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}

	if err := json.Unmarshal(raw.Data, &out.Data); err != nil {
		// Drop the corrupt entry; the next authoritative read rewrites it.
		_ = s.InvalidatePrefix(ctx, key)
		return out, false, nil
	}

	out.WrittenAt = raw.WrittenAt
	out.TTL = raw.TTL
	return out, true, nil
}

// SetTyped encodes data and stores it under key in s.
func SetTyped[T any](ctx context.Context, s Store, key string, data T, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return s.Set(ctx, key, payload, ttl)
}
