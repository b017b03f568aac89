// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"sync"
	"sync/atomic"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// EventKind classifies an internal subsystem event.
type EventKind string

const (
	// EventSnapshotUpdated fires when a refreshed aggregate differs
	// from what was last served for a scope and date.
	EventSnapshotUpdated EventKind = "snapshot_updated"

	// EventOccurrencesChanged fires on a local optimistic change or
	// rollback, prompting an immediate re-render.
	EventOccurrencesChanged EventKind = "occurrences_changed"

	// EventOccurrencesReloaded fires after an authoritative reload
	// replaces the loaded occurrence list.
	EventOccurrencesReloaded EventKind = "occurrences_reloaded"

	// EventReloadSuggested fires when the mismatch monitor gives up;
	// the UI should surface a passive reload affordance instead of the
	// subsystem retrying forever.
	EventReloadSuggested EventKind = "reload_suggested"
)

// Event is a typed internal notification delivered to UI-facing
// subscribers. It replaces the original ad hoc DOM-style event bus.
type Event struct {
	Kind         EventKind
	Scope        datatypes.Scope
	ID           string
	Date         string
	Snapshot     *datatypes.ProgressSnapshot
	OccurrenceID string
}

// EventBus is a typed publish/subscribe channel scoped to this
// subsystem. Publishing never blocks: a subscriber that stops draining
// its channel loses events (the UI re-reads state anyway).
type EventBus struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	dropped int64
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel function. The
// channel is closed on cancel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber without blocking.
func (b *EventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			atomic.AddInt64(&b.dropped, 1)
		}
	}
}

// Dropped returns how many events were discarded on full subscriber
// channels.
func (b *EventBus) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}
