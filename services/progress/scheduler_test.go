// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(interval time.Duration, runs *atomic.Int32) *ResyncScheduler {
	s := newResyncScheduler(interval, time.Now, func(context.Context) {
		runs.Add(1)
	}, slog.Default(), nil)
	s.Bind(context.Background())
	return s
}

func TestResyncScheduler_CoalescesBurstIntoOneReload(t *testing.T) {
	var runs atomic.Int32
	s := newTestScheduler(20*time.Millisecond, &runs)
	defer s.Stop()

	// Prime the window with a completed reload, then burst inside it.
	s.ScheduleReload()
	waitUntil(t, time.Second, func() bool { return runs.Load() == 1 }, "priming reload never fired")

	for i := 0; i < 10; i++ {
		s.ScheduleReload()
	}

	waitUntil(t, time.Second, func() bool { return runs.Load() == 2 }, "deferred reload never fired")
	// Nothing else pending; give a window for spurious extra runs.
	time.Sleep(60 * time.Millisecond)
	if got := runs.Load(); got != 2 {
		t.Errorf("reload ran %d times, want 2 (one priming, one for the burst)", got)
	}
}

func TestResyncScheduler_FiresImmediatelyWhenWindowHasPassed(t *testing.T) {
	const interval = 60 * time.Millisecond

	var runs atomic.Int32
	s := newTestScheduler(interval, &runs)
	defer s.Stop()

	s.ScheduleReload()
	waitUntil(t, time.Second, func() bool { return runs.Load() == 1 }, "first reload never fired")

	// Let the debounce window pass; the next request has no burst to
	// absorb and must not wait out another interval.
	time.Sleep(interval + interval/2)

	start := time.Now()
	s.ScheduleReload()
	waitUntil(t, time.Second, func() bool { return runs.Load() == 2 }, "idle reload never fired")
	if waited := time.Since(start); waited >= interval {
		t.Errorf("idle request waited %v before firing, want less than %v", waited, interval)
	}
}

func TestResyncScheduler_RequestDuringRunFoldsIntoFollowUp(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	s := newResyncScheduler(10*time.Millisecond, time.Now, func(context.Context) {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
	}, slog.Default(), nil)
	s.Bind(context.Background())
	defer s.Stop()

	s.ScheduleReload()
	<-started

	// These arrive mid-reload and must collapse into exactly one
	// follow-up run.
	s.ScheduleReload()
	s.ScheduleReload()
	close(release)

	waitUntil(t, time.Second, func() bool { return runs.Load() == 2 }, "follow-up reload never fired")
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 2 {
		t.Errorf("reload ran %d times, want 2", got)
	}
}

func TestResyncScheduler_SpacesConsecutiveReloads(t *testing.T) {
	const interval = 30 * time.Millisecond

	var stamps []time.Time
	done := make(chan struct{}, 2)
	s := newResyncScheduler(interval, time.Now, func(context.Context) {
		stamps = append(stamps, time.Now())
		done <- struct{}{}
	}, slog.Default(), nil)
	s.Bind(context.Background())
	defer s.Stop()

	s.ScheduleReload()
	<-done
	s.ScheduleReload()
	<-done

	if len(stamps) != 2 {
		t.Fatalf("expected 2 reloads, got %d", len(stamps))
	}
	gap := stamps[1].Sub(stamps[0])
	if gap < interval {
		t.Errorf("reloads only %v apart, want at least %v", gap, interval)
	}
	// The deferred reload fires one interval past the last finish, not
	// later.
	if gap >= 2*interval {
		t.Errorf("deferred reload waited %v, want less than %v", gap, 2*interval)
	}
}

func TestResyncScheduler_StopCancelsPending(t *testing.T) {
	var runs atomic.Int32
	s := newTestScheduler(20*time.Millisecond, &runs)

	s.ScheduleReload()
	s.Stop()

	time.Sleep(60 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Errorf("reload ran %d times after Stop, want 0", got)
	}
	if s.Pending() {
		t.Error("scheduler still pending after Stop")
	}

	// Requests after Stop are ignored, not queued.
	s.ScheduleReload()
	time.Sleep(40 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Errorf("reload ran %d times after post-Stop request, want 0", got)
	}
}
