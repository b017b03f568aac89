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
	"sync"
	"time"

	"github.com/verdantlabs/verdant/services/progress/observability"
)

// ResyncScheduler debounces authoritative reload requests.
//
// A request arriving within the debounce interval of the last completed
// reload is deferred to fire a full interval past that finish; any
// number of requests inside one window collapse into that single
// deferred reload. A request arriving later than a full interval after
// the last finish fires right away, since there is no burst left to
// absorb.
//
// Thread Safety: safe for concurrent use.
type ResyncScheduler struct {
	interval time.Duration
	now      func() time.Time
	run      func(ctx context.Context)
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu           sync.Mutex
	timer        *time.Timer
	pending      bool
	running      bool
	rerun        bool
	lastFinished time.Time
	stopped      bool
	ctx          context.Context
}

func newResyncScheduler(interval time.Duration, now func() time.Time, run func(ctx context.Context), logger *slog.Logger, metrics *observability.Metrics) *ResyncScheduler {
	return &ResyncScheduler{
		interval: interval,
		now:      now,
		run:      run,
		logger:   logger,
		metrics:  metrics,
		ctx:      context.Background(),
	}
}

// Bind sets the context passed to scheduled reloads. Called once by the
// owning service before any reload can fire.
func (r *ResyncScheduler) Bind(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
}

// ScheduleReload requests an authoritative reload. Returns immediately.
func (r *ResyncScheduler) ScheduleReload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if r.pending {
		r.metrics.IncReloadCoalesced()
		return
	}
	if r.running {
		// Fold into the in-flight reload's follow-up run.
		r.rerun = true
		r.metrics.IncReloadCoalesced()
		return
	}
	r.pending = true
	r.timer = time.AfterFunc(r.delayLocked(), r.fire)
}

// delayLocked returns how long to wait before the next reload: a
// request inside the debounce window is deferred so it fires a full
// interval past the last finish, anything later fires right away.
// Callers hold r.mu.
func (r *ResyncScheduler) delayLocked() time.Duration {
	if r.lastFinished.IsZero() {
		return 0
	}
	elapsed := r.now().Sub(r.lastFinished)
	if elapsed >= r.interval {
		return 0
	}
	return r.interval - elapsed
}

// fire runs the reload off the timer goroutine.
func (r *ResyncScheduler) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.pending = false
	r.running = true
	ctx := r.ctx
	r.mu.Unlock()

	r.run(ctx)

	r.mu.Lock()
	r.running = false
	r.lastFinished = r.now()
	again := r.rerun
	r.rerun = false
	if again && !r.stopped && !r.pending {
		r.pending = true
		r.timer = time.AfterFunc(r.delayLocked(), r.fire)
	}
	r.mu.Unlock()
}

// Pending reports whether a reload is scheduled or running.
func (r *ResyncScheduler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending || r.running
}

// Stop cancels any pending reload. Safe to call more than once.
func (r *ResyncScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	r.pending = false
	r.rerun = false
	if r.timer != nil {
		r.timer.Stop()
	}
}
