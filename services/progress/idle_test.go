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

func TestIdleQueue_DrainsAfterQuietPeriod(t *testing.T) {
	q := newIdleQueue(10*time.Millisecond, time.Second, slog.Default())
	q.Start(context.Background())

	var ran atomic.Int32
	q.Enqueue(func(context.Context) { ran.Add(1) })
	q.Enqueue(func(context.Context) { ran.Add(1) })

	waitUntil(t, time.Second, func() bool { return ran.Load() == 2 }, "queued work never ran")
}

func TestIdleQueue_MaxWaitBoundsPostponement(t *testing.T) {
	const delay = 25 * time.Millisecond
	const maxWait = 80 * time.Millisecond

	q := newIdleQueue(delay, maxWait, slog.Default())
	q.Start(context.Background())

	var ran atomic.Int32
	start := time.Now()
	q.Enqueue(func(context.Context) { ran.Add(1) })

	// Keep the queue busy: every enqueue inside the quiet window pushes
	// the drain out, but never past maxWait from the first enqueue.
	stop := time.After(maxWait + 50*time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
poke:
	for {
		select {
		case <-ticker.C:
			if ran.Load() > 0 {
				break poke
			}
			q.Enqueue(func(context.Context) {})
		case <-stop:
			break poke
		}
	}

	waitUntil(t, time.Second, func() bool { return ran.Load() >= 1 }, "work postponed forever")
	if elapsed := time.Since(start); elapsed > maxWait+60*time.Millisecond {
		t.Errorf("first job waited %v, cap is %v", elapsed, maxWait)
	}
}

func TestIdleQueue_HoldsWorkUntilStart(t *testing.T) {
	q := newIdleQueue(5*time.Millisecond, time.Second, slog.Default())

	var ran atomic.Int32
	q.Enqueue(func(context.Context) { ran.Add(1) })

	time.Sleep(30 * time.Millisecond)
	if got := ran.Load(); got != 0 {
		t.Fatalf("work ran %d times before Start", got)
	}

	q.Start(context.Background())
	waitUntil(t, time.Second, func() bool { return ran.Load() == 1 }, "held work never ran after Start")
}

func TestIdleQueue_CancelledContextDropsWork(t *testing.T) {
	q := newIdleQueue(5*time.Millisecond, time.Second, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	cancel()

	var ran atomic.Int32
	q.Enqueue(func(context.Context) { ran.Add(1) })

	time.Sleep(30 * time.Millisecond)
	if got := ran.Load(); got != 0 {
		t.Errorf("work ran %d times on a cancelled context", got)
	}
}
