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
	"time"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
	"github.com/verdantlabs/verdant/services/progress/observability"
)

// routerConfig wires an EventRouter to its owning service.
type routerConfig struct {
	// ActorID is this client's identity on the realtime boundary.
	ActorID string

	// SettleDelay is waited before acting on a foreign broadcast, so the
	// store's own aggregate recomputation has become visible by the time
	// the refetch runs.
	SettleDelay time.Duration

	// Invalidate clears one garden's cached aggregates.
	Invalidate func(ctx context.Context, gardenID string)

	// Schedule requests a debounced occurrence reload.
	Schedule func()

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// EventRouter turns incoming change notifications into cache
// invalidations and reload requests.
//
// The hub echoes every message back to its origin, so the router drops
// messages tagged with its own actor id: the local optimistic update
// already reflects the change, and acting on the echo would refetch
// before the store's aggregate recomputation finished, briefly showing
// the pre-mutation count.
//
// Thread Safety: safe for concurrent use; handlers return immediately
// and the settle wait runs on its own goroutine.
type EventRouter struct {
	cfg routerConfig
}

func newEventRouter(cfg routerConfig) *EventRouter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &EventRouter{cfg: cfg}
}

// Handle consumes one broadcast. It satisfies broadcast.Handler.
func (r *EventRouter) Handle(msg datatypes.BroadcastMessage) {
	if msg.IsSelf(r.cfg.ActorID) {
		r.cfg.Metrics.IncSelfEchoDropped()
		return
	}

	switch msg.Kind {
	case datatypes.BroadcastTasks, datatypes.BroadcastActivity:
		go r.settleAndResolve(msg.GardenID)
	case datatypes.BroadcastMembership:
		// Membership changes alter the garden set itself; a reload picks
		// up the new roster, no per-garden invalidation is meaningful.
		go r.settleAndResolve("")
	default:
		r.cfg.Logger.Debug("ignoring unknown broadcast kind", "kind", msg.Kind)
	}
}

func (r *EventRouter) settleAndResolve(gardenID string) {
	if r.cfg.SettleDelay > 0 {
		time.Sleep(r.cfg.SettleDelay)
	}
	if gardenID != "" {
		r.cfg.Invalidate(context.Background(), gardenID)
	}
	r.cfg.Schedule()
}
