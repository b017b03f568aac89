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
)

// idleQueue defers low-priority work so it never competes with an
// in-flight user interaction. Enqueued functions run after the queue
// has been quiet for delay, and no later than maxWait after they were
// enqueued; a burst of enqueues keeps pushing the quiet deadline but
// cannot postpone work past the cap.
//
// Thread Safety: safe for concurrent use. Work runs sequentially on a
// single goroutine.
type idleQueue struct {
	delay   time.Duration
	maxWait time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending []func(ctx context.Context)
	oldest  time.Time
	timer   *time.Timer
	ctx     context.Context
	started bool
}

func newIdleQueue(delay, maxWait time.Duration, logger *slog.Logger) *idleQueue {
	return &idleQueue{delay: delay, maxWait: maxWait, logger: logger}
}

// Start binds the queue to its run context. Work enqueued before Start
// is held until it.
func (q *idleQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ctx = ctx
	q.started = true
	if len(q.pending) > 0 {
		q.armLocked(q.delay)
	}
}

// Enqueue schedules fn for the next idle window.
func (q *idleQueue) Enqueue(fn func(ctx context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		q.oldest = time.Now()
	}
	q.pending = append(q.pending, fn)
	if !q.started {
		return
	}

	wait := q.delay
	if remaining := q.maxWait - time.Since(q.oldest); remaining < wait {
		wait = remaining
	}
	if wait < 0 {
		wait = 0
	}
	q.armLocked(wait)
}

// armLocked (re)sets the drain timer. Callers hold q.mu.
func (q *idleQueue) armLocked(wait time.Duration) {
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(wait, q.drain)
}

// drain runs every pending function in enqueue order.
func (q *idleQueue) drain() {
	q.mu.Lock()
	work := q.pending
	q.pending = nil
	ctx := q.ctx
	q.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}
	for _, fn := range work {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}
}
