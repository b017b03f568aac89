// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore is the fast in-process tier.
//
// It is a mutex-guarded map with no eviction policy of its own: entries
// live until overwritten or invalidated. The short TTL carried on each
// entry keeps very stale data from being trusted during a burst of
// changes; the map itself stays small because the subsystem caches one
// aggregate per (scope, id, date).
//
// Thread Safety:
//
//	MemoryStore is safe for concurrent use. Hit/miss counters use
//	atomics so Stats never contends with the read path.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Raw

	hits   int64
	misses int64
}

// NewMemoryStore creates an empty in-process tier.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Raw)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (Raw, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&m.misses, 1)
		return Raw{}, false, nil
	}

	atomic.AddInt64(&m.hits, 1)
	return entry, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, data json.RawMessage, ttl time.Duration) error {
	// Copy the payload so callers can reuse their buffer.
	payload := make(json.RawMessage, len(data))
	copy(payload, data)

	m.mu.Lock()
	m.entries[key] = Raw{Data: payload, WrittenAt: time.Now(), TTL: ttl}
	m.mu.Unlock()
	return nil
}

// InvalidatePrefix implements Store.
func (m *MemoryStore) InvalidatePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prefix == "" {
		m.entries = make(map[string]Raw)
		return nil
	}
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Close implements Store. It drops all entries.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]Raw)
	m.mu.Unlock()
	return nil
}

// Len returns the number of resident entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats returns the cumulative hit and miss counts.
func (m *MemoryStore) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&m.hits), atomic.LoadInt64(&m.misses)
}

var _ Store = (*MemoryStore)(nil)
