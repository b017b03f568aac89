// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package broadcast is the realtime boundary of the progress subsystem.
//
// A change notification (datatypes.BroadcastMessage) is published when
// a client mutates shared state and consumed by every other client
// watching the same garden. Three implementations of the boundary
// exist:
//
//   - Bus: in-process fan-out for tests and single-process deployments.
//   - Hub + HandleWS: the server side, fanning messages out over
//     websockets to subscribed connections, one channel per garden.
//   - WSClient: the client side, dialing a hub and bridging it to the
//     Subscriber/Publisher contracts.
//
// Messages are transient. Delivery is best-effort: a slow consumer's
// messages are dropped rather than backing up the hub, because every
// consumer self-heals through the reconciliation sweep.
package broadcast

import (
	"context"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// Handler consumes one change notification. Handlers must not block;
// long work belongs on the consumer's own scheduler.
type Handler func(msg datatypes.BroadcastMessage)

// Subscriber yields a stream of change notifications for one user and
// their garden set.
type Subscriber interface {
	// Subscribe registers h for every message affecting the given
	// gardens. The returned cancel function stops delivery; it is safe
	// to call more than once.
	Subscribe(ctx context.Context, userID string, gardenIDs []string, h Handler) (cancel func(), err error)
}

// Publisher emits change notifications to the realtime boundary.
// Implementations stamp nothing: the caller is responsible for tagging
// messages with its own actor id before publishing.
type Publisher interface {
	Publish(ctx context.Context, msg datatypes.BroadcastMessage) error
}
