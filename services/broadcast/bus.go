// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// busSubscriberBuffer is the per-subscriber queue depth. A subscriber
// that falls further behind than this loses messages (counted in
// Dropped) instead of blocking publishers.
const busSubscriberBuffer = 64

// Bus is the in-process realtime boundary: a typed publish/subscribe
// channel scoped to this subsystem.
//
// Every subscriber gets its own buffered queue and pump goroutine, so
// one slow handler cannot stall another subscriber or the publisher.
//
// Thread Safety: safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]*busSubscription
	dropped int64
}

type busSubscription struct {
	userID  string
	gardens map[string]struct{}
	queue   chan datatypes.BroadcastMessage
	done    chan struct{}
}

// NewBus creates an empty in-process bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*busSubscription)}
}

// Subscribe implements Subscriber.
func (b *Bus) Subscribe(_ context.Context, userID string, gardenIDs []string, h Handler) (func(), error) {
	sub := &busSubscription{
		userID:  userID,
		gardens: make(map[string]struct{}, len(gardenIDs)),
		queue:   make(chan datatypes.BroadcastMessage, busSubscriberBuffer),
		done:    make(chan struct{}),
	}
	for _, id := range gardenIDs {
		sub.gardens[id] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case msg := <-sub.queue:
				h(msg)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
	return cancel, nil
}

// Publish implements Publisher. Delivery is asynchronous; Publish never
// blocks on consumers.
func (b *Bus) Publish(_ context.Context, msg datatypes.BroadcastMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(msg) {
			continue
		}
		select {
		case sub.queue <- msg:
		default:
			atomic.AddInt64(&b.dropped, 1)
		}
	}
	return nil
}

// wants reports whether the subscription should receive msg: garden
// messages route by garden membership, membership changes also route by
// the affected user.
func (s *busSubscription) wants(msg datatypes.BroadcastMessage) bool {
	if _, ok := s.gardens[msg.GardenID]; ok {
		return true
	}
	if msg.Kind == datatypes.BroadcastMembership && msg.Metadata["userId"] == s.userID {
		return true
	}
	return false
}

// Dropped returns how many messages were discarded because a subscriber
// queue was full.
func (b *Bus) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var (
	_ Subscriber = (*Bus)(nil)
	_ Publisher  = (*Bus)(nil)
)
