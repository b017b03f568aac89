// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"context"
	"testing"
	"time"

	"github.com/verdantlabs/verdant/services/progress/cache"
	"github.com/verdantlabs/verdant/services/progress/datatypes"
	"github.com/verdantlabs/verdant/services/progress/store"
)

func TestService_GetProgress_MissFetchesAndFillsEveryTier(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 3, 1))

	svc := newTestService(t, client, withDurable())
	ctx := context.Background()
	date := svc.cfg.Today()
	flushTiers(t, svc)

	snapshot, err := svc.GetProgress(ctx, datatypes.ScopeGarden, "garden-1", date)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	want := datatypes.ProgressSnapshot{Due: 3, Completed: 1}
	if !snapshot.Equal(want) {
		t.Errorf("snapshot = %+v, want %+v", snapshot, want)
	}

	key := cache.Key(datatypes.ScopeGarden, "garden-1", date)
	for name, tier := range map[string]cache.Store{"fast": svc.fast, "durable": svc.durable} {
		entry, ok, err := cache.GetTyped[datatypes.ProgressSnapshot](ctx, tier, key)
		if err != nil || !ok {
			t.Fatalf("%s tier not populated after fetch (ok=%v, err=%v)", name, ok, err)
		}
		if !entry.Data.Equal(want) {
			t.Errorf("%s tier holds %+v, want %+v", name, entry.Data, want)
		}
	}
}

func TestService_GetProgress_ServesStaleWhileRevalidating(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 3, 2))

	svc := newTestService(t, client)
	ctx := context.Background()
	date := svc.cfg.Today()
	key := cache.Key(datatypes.ScopeGarden, "garden-1", date)

	// Plant a stale entry with an outdated count.
	stale := datatypes.ProgressSnapshot{Due: 3, Completed: 0}
	if err := cache.SetTyped(ctx, svc.fast, key, stale, -time.Second); err != nil {
		t.Fatalf("seed stale entry: %v", err)
	}

	// The stale value is served immediately.
	snapshot, err := svc.GetProgress(ctx, datatypes.ScopeGarden, "garden-1", date)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if !snapshot.Equal(stale) {
		t.Errorf("expected the stale snapshot %+v, got %+v", stale, snapshot)
	}

	// The background revalidation replaces it with the fresh count.
	waitUntil(t, time.Second, func() bool {
		entry, ok, _ := cache.GetTyped[datatypes.ProgressSnapshot](ctx, svc.fast, key)
		return ok && entry.Data.Completed == 2 && !entry.Stale(time.Now())
	}, "revalidation never refreshed the fast tier")
}

func TestService_GetProgress_DurableHitRepopulatesFastTier(t *testing.T) {
	client := newFakeStore()
	svc := newTestService(t, client, withDurable())
	ctx := context.Background()
	date := svc.cfg.Today()
	key := cache.Key(datatypes.ScopeUser, "user-1", date)
	flushTiers(t, svc)

	want := datatypes.ProgressSnapshot{Due: 7, Completed: 4}
	if err := cache.SetTyped(ctx, svc.durable, key, want, time.Hour); err != nil {
		t.Fatalf("seed durable entry: %v", err)
	}

	snapshot, err := svc.GetProgress(ctx, datatypes.ScopeUser, "user-1", date)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if !snapshot.Equal(want) {
		t.Errorf("snapshot = %+v, want %+v", snapshot, want)
	}
	if got := client.listCount(); got > 1 { // 1 from the initial load
		t.Errorf("durable hit still reached the store (%d list calls)", got)
	}

	if _, ok, _ := cache.GetTyped[datatypes.ProgressSnapshot](ctx, svc.fast, key); !ok {
		t.Error("fast tier not repopulated from the durable hit")
	}
}

func TestService_GetProgress_ServesStaleDurableOnFastMiss(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 2, 2))

	svc := newTestService(t, client, withDurable())
	ctx := context.Background()
	date := svc.cfg.Today()
	key := cache.Key(datatypes.ScopeGarden, "garden-1", date)
	flushTiers(t, svc)

	stale := datatypes.ProgressSnapshot{Due: 2, Completed: 0}
	if err := cache.SetTyped(ctx, svc.durable, key, stale, -time.Second); err != nil {
		t.Fatalf("seed stale durable entry: %v", err)
	}

	// The stale durable value is served without blocking on the store.
	snapshot, err := svc.GetProgress(ctx, datatypes.ScopeGarden, "garden-1", date)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if !snapshot.Equal(stale) {
		t.Errorf("snapshot = %+v, want stale durable %+v", snapshot, stale)
	}

	// The background revalidation installs the authoritative count.
	waitUntil(t, time.Second, func() bool {
		entry, ok, _ := cache.GetTyped[datatypes.ProgressSnapshot](ctx, svc.fast, key)
		return ok && entry.Data.Completed == 2
	}, "revalidation never refreshed the tiers")
}

func TestService_GetProgress_UnconfiguredStoreReturnsZero(t *testing.T) {
	svc, err := New(Config{
		ActorID:   "actor-a",
		UserID:    "user-1",
		GardenIDs: []string{"garden-1"},
	}, Deps{
		Fast:  cache.NewMemoryStore(),
		Store: store.NewHTTPClient(store.HTTPConfig{}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snapshot, err := svc.GetProgress(context.Background(), datatypes.ScopeUser, "user-1", "2026-08-31")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if !snapshot.IsZero() {
		t.Errorf("expected zero snapshot, got %+v", snapshot)
	}
}

func TestService_GetProgress_RejectsUnknownScope(t *testing.T) {
	svc := newTestService(t, newFakeStore())

	if _, err := svc.GetProgress(context.Background(), "planet", "p-1", "2026-08-31"); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestService_Events_SnapshotUpdatedOnRealMovementOnly(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 2, 0))

	svc := newTestService(t, client)
	ctx := context.Background()
	date := svc.cfg.Today()

	events, cancel := svc.Events().Subscribe(16)
	defer cancel()

	// Drop the warm entry so the next read is a real fetch.
	flushTiers(t, svc)
	if _, err := svc.GetProgress(ctx, datatypes.ScopeGarden, "garden-1", date); err != nil {
		t.Fatalf("GetProgress: %v", err)
	}

	var updates []Event
	deadline := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case e := <-events:
			if e.Kind == EventSnapshotUpdated && e.Scope == datatypes.ScopeGarden {
				updates = append(updates, e)
			}
		case <-deadline:
			break drain
		}
	}

	if len(updates) == 0 {
		t.Fatal("no snapshot_updated event for the first fetch")
	}
	last := updates[len(updates)-1]
	if last.Snapshot == nil || last.Snapshot.Due != 2 {
		t.Errorf("event snapshot = %+v, want due 2", last.Snapshot)
	}
}
