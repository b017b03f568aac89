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
	"sync"
	"testing"
	"time"

	"github.com/verdantlabs/verdant/services/broadcast"
	"github.com/verdantlabs/verdant/services/progress/cache"
	"github.com/verdantlabs/verdant/services/progress/datatypes"
	"github.com/verdantlabs/verdant/services/progress/store"
)

// fakeStore is an in-memory store.Client with store-side increment
// arithmetic, so coordinator tests exercise the same clamp-at-the-store
// behavior the HTTP client would see.
type fakeStore struct {
	mu          sync.Mutex
	tasks       map[string][]datatypes.Task
	occurrences map[string]datatypes.Occurrence
	order       []string
	completions map[string][]datatypes.Completion

	incrementErr   error
	incrementCalls []string
	resyncCalls    int
	refreshCalls   int
	listCalls      int

	// aggregateOverride, when set, is returned for every
	// ReadCachedProgress call regardless of occurrence rows. Used to
	// stage aggregate/detail mismatches.
	aggregateOverride *datatypes.ProgressSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:       make(map[string][]datatypes.Task),
		occurrences: make(map[string]datatypes.Occurrence),
		completions: make(map[string][]datatypes.Completion),
	}
}

func (f *fakeStore) addOccurrence(occ datatypes.Occurrence) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.occurrences[occ.ID]; !ok {
		f.order = append(f.order, occ.ID)
	}
	f.occurrences[occ.ID] = occ

	tasks := f.tasks[occ.GardenID]
	for _, task := range tasks {
		if task.ID == occ.TaskID {
			return
		}
	}
	f.tasks[occ.GardenID] = append(tasks, datatypes.Task{ID: occ.TaskID, GardenID: occ.GardenID})
}

func (f *fakeStore) get(id string) datatypes.Occurrence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.occurrences[id]
}

func (f *fakeStore) incrementCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.incrementCalls)
}

func (f *fakeStore) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeStore) ListTasks(_ context.Context, gardenID string) ([]datatypes.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datatypes.Task(nil), f.tasks[gardenID]...), nil
}

func (f *fakeStore) ResyncOccurrences(_ context.Context, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncCalls++
	return nil
}

func (f *fakeStore) ListOccurrences(_ context.Context, taskIDs []string, _, _ string) ([]datatypes.Occurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	wanted := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		wanted[id] = true
	}
	var out []datatypes.Occurrence
	for _, id := range f.order {
		if occ := f.occurrences[id]; wanted[occ.TaskID] {
			out = append(out, occ)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCompletions(_ context.Context, occurrenceIDs []string) (map[string][]datatypes.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string][]datatypes.Completion)
	for _, id := range occurrenceIDs {
		if rows := f.completions[id]; len(rows) > 0 {
			out[id] = append([]datatypes.Completion(nil), rows...)
		}
	}
	return out, nil
}

func (f *fakeStore) IncrementOccurrence(_ context.Context, occurrenceID string, amount int) (datatypes.Occurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.incrementCalls = append(f.incrementCalls, occurrenceID)
	if f.incrementErr != nil {
		return datatypes.Occurrence{}, f.incrementErr
	}
	occ, ok := f.occurrences[occurrenceID]
	if !ok {
		return datatypes.Occurrence{}, fmt.Errorf("occurrence %s not found", occurrenceID)
	}
	occ.CompletedCount = occ.ClampCount(occ.CompletedCount + amount)
	if occ.IsComplete() && occ.CompletedAt == nil {
		now := time.Now()
		occ.CompletedAt = &now
	}
	f.occurrences[occurrenceID] = occ
	return occ, nil
}

func (f *fakeStore) ReadCachedProgress(_ context.Context, scope datatypes.Scope, id, _ string) (datatypes.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.aggregateOverride != nil {
		return *f.aggregateOverride, nil
	}
	var snapshot datatypes.ProgressSnapshot
	for _, occID := range f.order {
		occ := f.occurrences[occID]
		if scope == datatypes.ScopeGarden && occ.GardenID != id {
			continue
		}
		snapshot.Due += occ.RequiredCount
		snapshot.Completed += occ.ClampCount(occ.CompletedCount)
	}
	return snapshot, nil
}

func (f *fakeStore) RefreshProgressCache(_ context.Context, _ datatypes.Scope, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return nil
}

var _ store.Client = (*fakeStore)(nil)

// testOccurrence builds a minimal occurrence row.
func testOccurrence(id, gardenID, plantID string, required, completed int) datatypes.Occurrence {
	return datatypes.Occurrence{
		ID:             id,
		TaskID:         "task-" + id,
		GardenID:       gardenID,
		GardenPlantID:  plantID,
		RequiredCount:  required,
		CompletedCount: completed,
		TaskType:       datatypes.TaskWatering,
	}
}

type serviceOption func(*Config, *Deps)

func withPublisher(bus *broadcast.Bus) serviceOption {
	return func(_ *Config, deps *Deps) {
		deps.Subscriber = bus
		deps.Publisher = bus
	}
}

func withActorID(actorID string) serviceOption {
	return func(cfg *Config, _ *Deps) {
		cfg.ActorID = actorID
	}
}

func withDurable() serviceOption {
	return func(_ *Config, deps *Deps) {
		deps.Durable = cache.NewMemoryStore()
	}
}

// newTestService builds a started service on fast test intervals and an
// in-memory fast tier, and waits until the initial load and its
// aggregate refreshes have landed so tests can stage cache contents
// without racing startup. The sweep interval is long so tests control
// every monitor check explicitly.
func newTestService(t *testing.T, client store.Client, opts ...serviceOption) *Service {
	t.Helper()

	cfg := Config{
		ActorID:           "actor-a",
		UserID:            "user-1",
		GardenIDs:         []string{"garden-1"},
		FastTTL:           time.Minute,
		DurableTTL:        time.Hour,
		DebounceInterval:  20 * time.Millisecond,
		SettleDelay:       time.Millisecond,
		SweepInterval:     time.Hour,
		MaxRepairAttempts: 3,
		IdleDelay:         5 * time.Millisecond,
		IdleMaxWait:       50 * time.Millisecond,
	}
	deps := Deps{
		Fast:  cache.NewMemoryStore(),
		Store: client,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	svc, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	waitUntil(t, time.Second, svc.state.Loaded, "initial load never completed")

	ctx := context.Background()
	keys := []string{cache.Key(datatypes.ScopeUser, cfg.UserID, svc.cfg.Today())}
	for _, gardenID := range cfg.GardenIDs {
		keys = append(keys, cache.Key(datatypes.ScopeGarden, gardenID, svc.cfg.Today()))
	}
	waitUntil(t, time.Second, func() bool {
		for _, key := range keys {
			if _, ok, _ := svc.fast.Get(ctx, key); !ok {
				return false
			}
		}
		return true
	}, "startup aggregate refresh never landed")
	return svc
}

// flushTiers empties every cache tier of svc.
func flushTiers(t *testing.T, svc *Service) {
	t.Helper()

	for _, tier := range svc.tiers() {
		if err := tier.store.InvalidatePrefix(context.Background(), ""); err != nil {
			t.Fatalf("flush %s tier: %v", tier.name, err)
		}
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestService_New_RequiresFastTierAndStore(t *testing.T) {
	cfg := DefaultConfig("actor", "user-1", nil)

	if _, err := New(cfg, Deps{Store: newFakeStore()}); err == nil {
		t.Error("expected error without fast tier")
	}
	if _, err := New(cfg, Deps{Fast: cache.NewMemoryStore()}); err == nil {
		t.Error("expected error without store client")
	}
}

func TestService_Start_LoadsOccurrences(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 2, 0))
	client.addOccurrence(testOccurrence("occ-2", "garden-1", "plant-2", 1, 1))

	svc := newTestService(t, client)

	occs := svc.Occurrences()
	if len(occs) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(occs))
	}
	if occs[0].ID != "occ-1" || occs[1].ID != "occ-2" {
		t.Errorf("load order not preserved: %s, %s", occs[0].ID, occs[1].ID)
	}
}

func TestService_IncrementOccurrence_ConfirmsAuthoritativeRow(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 3, 1))

	svc := newTestService(t, client)

	if err := svc.CompleteOccurrence(context.Background(), "occ-1"); err != nil {
		t.Fatalf("CompleteOccurrence: %v", err)
	}

	occ, ok := svc.state.Get("occ-1")
	if !ok {
		t.Fatal("occurrence missing after increment")
	}
	if occ.CompletedCount != 2 {
		t.Errorf("expected completed count 2, got %d", occ.CompletedCount)
	}
	if got := client.get("occ-1").CompletedCount; got != 2 {
		t.Errorf("store count = %d, want 2", got)
	}
}

func TestService_IncrementOccurrence_RollsBackOnFailure(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 3, 1))

	svc := newTestService(t, client)
	client.mu.Lock()
	client.incrementErr = errors.New("backend rejected")
	client.mu.Unlock()

	err := svc.CompleteOccurrence(context.Background(), "occ-1")
	if err == nil {
		t.Fatal("expected mutation error")
	}
	if !errors.Is(err, ErrMutationFailed) {
		t.Errorf("error does not match ErrMutationFailed: %v", err)
	}
	var mutErr *MutationError
	if !errors.As(err, &mutErr) || mutErr.OccurrenceID != "occ-1" {
		t.Errorf("expected MutationError for occ-1, got %v", err)
	}

	occ, _ := svc.state.Get("occ-1")
	if occ.CompletedCount != 1 {
		t.Errorf("rollback failed: completed count = %d, want 1", occ.CompletedCount)
	}
}

func TestService_IncrementOccurrence_UnknownOccurrence(t *testing.T) {
	svc := newTestService(t, newFakeStore())

	err := svc.CompleteOccurrence(context.Background(), "nope")
	if !errors.Is(err, ErrOccurrenceNotLoaded) {
		t.Errorf("expected ErrOccurrenceNotLoaded, got %v", err)
	}
}

func TestService_IncrementOccurrence_InvalidatesAggregates(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 2, 0))

	svc := newTestService(t, client)
	ctx := context.Background()

	// Warm the garden aggregate, then mutate.
	if _, err := svc.GetProgress(ctx, datatypes.ScopeGarden, "garden-1", svc.cfg.Today()); err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if err := svc.CompleteOccurrence(ctx, "occ-1"); err != nil {
		t.Fatalf("CompleteOccurrence: %v", err)
	}

	// The cached pre-mutation aggregate must be gone; the next read
	// refetches and sees the new count.
	snapshot, err := svc.GetProgress(ctx, datatypes.ScopeGarden, "garden-1", svc.cfg.Today())
	if err != nil {
		t.Fatalf("GetProgress after mutation: %v", err)
	}
	if snapshot.Completed != 1 {
		t.Errorf("aggregate completed = %d, want 1", snapshot.Completed)
	}
}

func TestService_MarkAllCompleted_OneCallPerOutstandingUnit(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 2, 1)) // 1 remaining
	client.addOccurrence(testOccurrence("occ-2", "garden-1", "plant-1", 2, 0)) // 2 remaining
	client.addOccurrence(testOccurrence("occ-3", "garden-1", "plant-2", 1, 1)) // complete

	svc := newTestService(t, client)

	if err := svc.MarkAllCompleted(context.Background(), "garden-1"); err != nil {
		t.Fatalf("MarkAllCompleted: %v", err)
	}

	if got := client.incrementCount(); got != 3 {
		t.Errorf("increment calls = %d, want 3", got)
	}
	for _, id := range []string{"occ-1", "occ-2", "occ-3"} {
		occ := client.get(id)
		if !occ.IsComplete() {
			t.Errorf("occurrence %s not complete: %d/%d", id, occ.CompletedCount, occ.RequiredCount)
		}
	}
}

func TestService_ProgressAllForTarget_SkipsCompleteOccurrences(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 2, 0))
	client.addOccurrence(testOccurrence("occ-2", "garden-1", "plant-1", 1, 1))
	client.addOccurrence(testOccurrence("occ-3", "garden-1", "plant-2", 1, 0))

	svc := newTestService(t, client)

	if err := svc.ProgressAllForTarget(context.Background(), "garden-1", "plant-1"); err != nil {
		t.Fatalf("ProgressAllForTarget: %v", err)
	}

	if got := client.incrementCount(); got != 1 {
		t.Errorf("increment calls = %d, want 1 (only occ-1 has work left)", got)
	}
	if got := client.get("occ-1").CompletedCount; got != 1 {
		t.Errorf("occ-1 count = %d, want 1", got)
	}
	if got := client.get("occ-3").CompletedCount; got != 0 {
		t.Errorf("occ-3 (other plant) was touched: count = %d", got)
	}
}

func TestService_GardenView_GroupsByPlant(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 2, 1))
	client.addOccurrence(testOccurrence("occ-2", "garden-1", "plant-1", 1, 0))
	client.addOccurrence(testOccurrence("occ-3", "garden-1", "plant-2", 1, 5)) // over-completed upstream

	svc := newTestService(t, client)

	view := svc.GardenView("garden-1")
	if len(view.Plants) != 2 {
		t.Fatalf("expected 2 plants, got %d", len(view.Plants))
	}
	if view.Due != 4 {
		t.Errorf("due = %d, want 4", view.Due)
	}
	// Over-completion clamps at the requirement in derived counts.
	if view.Completed != 2 {
		t.Errorf("completed = %d, want 2", view.Completed)
	}
}

func TestService_Convergence_TwoClientsOverBus(t *testing.T) {
	client := newFakeStore()
	client.addOccurrence(testOccurrence("occ-1", "garden-1", "plant-1", 3, 0))

	bus := broadcast.NewBus()
	svcA := newTestService(t, client, withPublisher(bus), withActorID("actor-a"))
	svcB := newTestService(t, client, withPublisher(bus), withActorID("actor-b"))

	if err := svcA.CompleteOccurrence(context.Background(), "occ-1"); err != nil {
		t.Fatalf("CompleteOccurrence: %v", err)
	}

	// B hears the broadcast, waits out settle and debounce, reloads,
	// and converges on the authoritative count.
	waitUntil(t, 2*time.Second, func() bool {
		occ, ok := svcB.state.Get("occ-1")
		return ok && occ.CompletedCount == 1
	}, "svcB never converged on the authoritative count")

	// A's own echo is suppressed, so its count comes from the
	// confirmed increment, not from a broadcast-triggered reload.
	occ, _ := svcA.state.Get("occ-1")
	if occ.CompletedCount != 1 {
		t.Errorf("svcA count = %d, want 1", occ.CompletedCount)
	}
}

func TestService_Close_Idempotent(t *testing.T) {
	svc := newTestService(t, newFakeStore())

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
