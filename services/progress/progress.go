// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress implements the multi-tier progress-consistency core:
// for every garden a user belongs to, it tracks how many care-task
// occurrences are due today and how many have been completed, kept fast
// by cache tiers with different staleness windows and kept correct by
// optimistic mutation with rollback, debounced authoritative reloads,
// realtime invalidation, and a bounded self-healing mismatch monitor.
//
// # Architecture
//
//	UI ──▶ Aggregator ──▶ fast tier ──▶ durable tier ──▶ authoritative store
//	         │                                             ▲
//	         └── stale-while-revalidate ────────────────────┘
//	Coordinator: optimistic apply ─▶ authoritative increment ─▶ reconcile/rollback
//	EventRouter: broadcast ─▶ settle delay ─▶ invalidate + ScheduleReload
//	Monitor: aggregate vs. detail mismatch ─▶ bounded forced repairs
//
// Every component is owned by a Service, the explicit context object
// that replaces ambient module state: construction wires the tiers,
// store client and realtime boundary together, Start launches the
// background loops, Close tears them down.
//
// # Consistency Model
//
// The authoritative store is the sole place where concurrent increments
// are serialized. Every cache tier is an approximation that is allowed
// to be briefly wrong and is corrected by invalidation, reconciliation,
// or TTL expiry. Within one Service, a reload that raced with a local
// mutation is discarded via a generation counter and re-run, so the
// most recent authoritative read always wins.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/verdantlabs/verdant/services/broadcast"
	"github.com/verdantlabs/verdant/services/progress/cache"
	"github.com/verdantlabs/verdant/services/progress/datatypes"
	"github.com/verdantlabs/verdant/services/progress/observability"
	"github.com/verdantlabs/verdant/services/progress/store"
)

// Config holds the tuning knobs of the progress core.
type Config struct {
	// ActorID identifies this client on the realtime boundary. Every
	// published broadcast is stamped with it, and incoming broadcasts
	// carrying it are dropped as self-echoes.
	ActorID string

	// UserID is the user whose gardens this service tracks.
	UserID string

	// GardenIDs is the set of gardens the user belongs to.
	GardenIDs []string

	// FastTTL is the freshness window of the in-process tier.
	// Short, so a burst of changes cannot pin very stale data.
	// Default: 5s.
	FastTTL time.Duration

	// DurableTTL is the freshness window of the durable tier. Long
	// enough that a full client reload does not go back to the
	// authoritative store. Default: 90s.
	DurableTTL time.Duration

	// DebounceInterval is the minimum spacing between authoritative
	// reloads. Default: 750ms.
	DebounceInterval time.Duration

	// SettleDelay is waited after a broadcast arrives before resolving
	// the affected garden, giving the store's own aggregate
	// recomputation time to become visible. Default: 120ms.
	SettleDelay time.Duration

	// SweepInterval is the period of the fail-safe mismatch sweep.
	// Default: 5s.
	SweepInterval time.Duration

	// MaxRepairAttempts bounds consecutive mismatch repairs before the
	// monitor gives up. Default: 3.
	MaxRepairAttempts int

	// IdleDelay defers low-priority work (post-mutation reconciliation
	// refreshes) by this much. Default: 250ms.
	IdleDelay time.Duration

	// IdleMaxWait bounds how long deferred work can be postponed.
	// Default: 2s.
	IdleMaxWait time.Duration

	// Now is the clock, injectable for tests. Default: time.Now.
	Now func() time.Time

	// Today returns the calendar date under aggregation, injectable
	// for tests. Default: datatypes.Today.
	Today func() string
}

// DefaultConfig returns production defaults for a user and their
// gardens.
func DefaultConfig(actorID, userID string, gardenIDs []string) Config {
	return Config{
		ActorID:           actorID,
		UserID:            userID,
		GardenIDs:         gardenIDs,
		FastTTL:           5 * time.Second,
		DurableTTL:        90 * time.Second,
		DebounceInterval:  750 * time.Millisecond,
		SettleDelay:       120 * time.Millisecond,
		SweepInterval:     5 * time.Second,
		MaxRepairAttempts: 3,
		IdleDelay:         250 * time.Millisecond,
		IdleMaxWait:       2 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.FastTTL <= 0 {
		c.FastTTL = 5 * time.Second
	}
	if c.DurableTTL <= 0 {
		c.DurableTTL = 90 * time.Second
	}
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = 750 * time.Millisecond
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 120 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.MaxRepairAttempts <= 0 {
		c.MaxRepairAttempts = 3
	}
	if c.IdleDelay < 0 {
		c.IdleDelay = 250 * time.Millisecond
	}
	if c.IdleMaxWait <= 0 {
		c.IdleMaxWait = 2 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Today == nil {
		c.Today = datatypes.Today
	}
}

// Deps are the collaborators injected into a Service. Fast and Store
// are required; everything else is optional. The Service does not own
// the cache tiers: the caller that opened them closes them.
type Deps struct {
	// Fast is the in-process tier.
	Fast cache.Store

	// Durable is the slower persistent tier. May be nil.
	Durable cache.Store

	// Store is the authoritative-store client.
	Store store.Client

	// Subscriber delivers change notifications. May be nil (no
	// realtime updates; the sweep still self-heals).
	Subscriber broadcast.Subscriber

	// Publisher emits this client's change notifications. May be nil.
	Publisher broadcast.Publisher

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil; all instruments are nil-safe.
	Metrics *observability.Metrics
}

// Service is the explicit context object owning every component of the
// progress core.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	fast    cache.Store
	durable cache.Store
	client  store.Client
	sub     broadcast.Subscriber
	pub     broadcast.Publisher

	bus   *EventBus
	state *localState

	flight    singleflight.Group
	scheduler *ResyncScheduler
	router    *EventRouter
	monitor   *ReconciliationMonitor
	idle      *idleQueue

	mu          sync.Mutex
	started     bool
	closed      bool
	runCtx      context.Context
	runCancel   context.CancelFunc
	unsubscribe func()
}

// New wires a Service from its configuration and collaborators. Call
// Start to launch the background loops.
func New(cfg Config, deps Deps) (*Service, error) {
	cfg.applyDefaults()

	if deps.Fast == nil {
		return nil, errors.New("fast cache tier is required")
	}
	if deps.Store == nil {
		return nil, errors.New("authoritative store client is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if cfg.ActorID == "" {
		return nil, errors.New("actor id is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		metrics: deps.Metrics,
		fast:    deps.Fast,
		durable: deps.Durable,
		client:  deps.Store,
		sub:     deps.Subscriber,
		pub:     deps.Publisher,
		bus:     NewEventBus(),
		state:   newLocalState(),
	}

	s.scheduler = newResyncScheduler(cfg.DebounceInterval, cfg.Now, s.scheduledReload, logger, deps.Metrics)
	s.router = newEventRouter(routerConfig{
		ActorID:     cfg.ActorID,
		SettleDelay: cfg.SettleDelay,
		Invalidate:  s.invalidateGarden,
		Schedule:    s.scheduler.ScheduleReload,
		Logger:      logger,
		Metrics:     deps.Metrics,
	})
	s.monitor = newReconciliationMonitor(monitorConfig{
		MaxAttempts:   cfg.MaxRepairAttempts,
		SweepInterval: cfg.SweepInterval,
		ReadAggregate: s.userAggregate,
		DetailEmpty:   s.detailEmpty,
		Repair:        s.forceRepair,
		OnExhausted:   s.reloadSuggested,
		Logger:        logger,
		Metrics:       deps.Metrics,
	})
	s.idle = newIdleQueue(cfg.IdleDelay, cfg.IdleMaxWait, logger)

	return s, nil
}

// Events returns the subsystem's typed event bus.
func (s *Service) Events() *EventBus {
	return s.bus
}

// Start launches the background loops: the realtime subscription, the
// mismatch sweep, the idle queue, and an initial occurrence load.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	if s.started {
		return errors.New("progress service already started")
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.started = true
	s.scheduler.Bind(s.runCtx)

	if s.sub != nil {
		unsubscribe, err := s.sub.Subscribe(s.runCtx, s.cfg.UserID, s.cfg.GardenIDs, s.router.Handle)
		if err != nil {
			s.runCancel()
			s.started = false
			return fmt.Errorf("subscribe to realtime boundary: %w", err)
		}
		s.unsubscribe = unsubscribe
	}

	s.idle.Start(s.runCtx)
	s.monitor.StartSweep(s.runCtx)

	// Initial load runs in the background; the aggregator serves
	// whatever the durable tier has in the meantime.
	go func() {
		s.metrics.IncReload("initial")
		if err := s.reloadOccurrences(s.runCtx, false); err != nil {
			s.logger.Warn("initial occurrence load failed", "error", err)
		}
	}()

	return nil
}

// Close stops every background loop. It does not close the cache
// tiers, which belong to the caller.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	return nil
}

// Occurrences returns copies of the currently loaded occurrences.
func (s *Service) Occurrences() []datatypes.Occurrence {
	return s.state.List()
}

// GardenView assembles the UI-facing task view of one garden from the
// loaded occurrences, grouped by plant, with completions attached for
// attribution display.
func (s *Service) GardenView(gardenID string) datatypes.GardenTaskView {
	view := datatypes.GardenTaskView{GardenID: gardenID}

	byPlant := make(map[string]*datatypes.PlantTasks)
	var plantOrder []string
	for _, occ := range s.state.List() {
		if occ.GardenID != gardenID {
			continue
		}
		plant, ok := byPlant[occ.GardenPlantID]
		if !ok {
			plant = &datatypes.PlantTasks{
				GardenPlantID: occ.GardenPlantID,
				Completions:   make(map[string][]datatypes.Completion),
			}
			byPlant[occ.GardenPlantID] = plant
			plantOrder = append(plantOrder, occ.GardenPlantID)
		}
		plant.Occurrences = append(plant.Occurrences, occ)
		if completions := s.state.Completions(occ.ID); len(completions) > 0 {
			plant.Completions[occ.ID] = completions
		}
		view.Due += occ.RequiredCount
		view.Completed += occ.ClampCount(occ.CompletedCount)
	}
	for _, id := range plantOrder {
		view.Plants = append(view.Plants, *byPlant[id])
	}
	return view
}

// scheduledReload is the debounced reload target.
func (s *Service) scheduledReload(ctx context.Context) {
	s.metrics.IncReload("scheduled")
	if err := s.reloadOccurrences(ctx, false); err != nil {
		// Background refresh failures never propagate to the UI.
		s.logger.Warn("scheduled reload failed", "error", err)
	}
}

// reloadOccurrences pulls today's occurrence rows for every garden from
// the authoritative store and installs them in local state. When forced
// is true the store is first asked to resync its occurrence rows and
// recompute its materialized aggregates.
func (s *Service) reloadOccurrences(ctx context.Context, forced bool) error {
	today := s.cfg.Today()
	gen := s.state.Generation()

	var (
		occurrences []datatypes.Occurrence
		occIDs      []string
	)
	for _, gardenID := range s.cfg.GardenIDs {
		if forced {
			if err := s.client.ResyncOccurrences(ctx, gardenID, today, today); err != nil {
				if errors.Is(err, store.ErrNotConfigured) {
					return nil
				}
				return fmt.Errorf("resync occurrences for garden %s: %w", gardenID, err)
			}
			if err := s.client.RefreshProgressCache(ctx, datatypes.ScopeGarden, gardenID, today); err != nil {
				s.logger.Debug("aggregate refresh failed", "gardenId", gardenID, "error", err)
			}
		}

		tasks, err := s.client.ListTasks(ctx, gardenID)
		if err != nil {
			if errors.Is(err, store.ErrNotConfigured) {
				return nil
			}
			return fmt.Errorf("list tasks for garden %s: %w", gardenID, err)
		}
		taskIDs := make([]string, 0, len(tasks))
		for _, task := range tasks {
			taskIDs = append(taskIDs, task.ID)
		}

		rows, err := s.client.ListOccurrences(ctx, taskIDs, today, today)
		if err != nil {
			return fmt.Errorf("list occurrences for garden %s: %w", gardenID, err)
		}
		for _, occ := range rows {
			occurrences = append(occurrences, occ)
			occIDs = append(occIDs, occ.ID)
		}
	}

	if forced {
		if err := s.client.RefreshProgressCache(ctx, datatypes.ScopeUser, s.cfg.UserID, today); err != nil {
			s.logger.Debug("user aggregate refresh failed", "error", err)
		}
	}

	completions, err := s.client.ListCompletions(ctx, occIDs)
	if err != nil {
		s.logger.Debug("completion load failed, keeping attribution empty", "error", err)
		completions = nil
	}

	if !s.state.ReplaceAllIf(gen, occurrences, completions) {
		// A mutation landed while this reload was in flight; its data
		// is already out of date. Re-derive from a fresh read instead
		// of merging.
		s.logger.Debug("reload superseded by local mutation, rescheduling")
		s.scheduler.ScheduleReload()
		return nil
	}

	s.bus.Publish(Event{Kind: EventOccurrencesReloaded, Date: today})
	s.refreshAggregates()
	return nil
}

// refreshAggregates revalidates the user's and every garden's cached
// aggregate in the background.
func (s *Service) refreshAggregates() {
	today := s.cfg.Today()
	s.revalidate(datatypes.ScopeUser, s.cfg.UserID, today)
	for _, gardenID := range s.cfg.GardenIDs {
		s.revalidate(datatypes.ScopeGarden, gardenID, today)
	}
}

// invalidateGarden clears one garden's and the user's cached aggregates
// in every tier. Failures are logged and swallowed: invalidation is
// fire-and-forget and must never block the primary path.
func (s *Service) invalidateGarden(ctx context.Context, gardenID string) {
	for _, tier := range s.tiers() {
		if err := tier.store.InvalidatePrefix(ctx, cache.GardenPrefix(gardenID)); err != nil {
			s.logger.Debug("garden cache invalidation failed",
				"tier", tier.name, "gardenId", gardenID, "error", err)
		}
		if err := tier.store.InvalidatePrefix(ctx, cache.UserPrefix(s.cfg.UserID)); err != nil {
			s.logger.Debug("user cache invalidation failed", "tier", tier.name, "error", err)
		}
	}
}

// invalidateAll clears every task cache in every tier.
func (s *Service) invalidateAll(ctx context.Context) {
	for _, tier := range s.tiers() {
		if err := tier.store.InvalidatePrefix(ctx, ""); err != nil {
			s.logger.Debug("cache flush failed", "tier", tier.name, "error", err)
		}
	}
}

type tierRef struct {
	name  string
	store cache.Store
	ttl   time.Duration
}

// tiers returns the stores in fast-to-slow order.
func (s *Service) tiers() []tierRef {
	refs := []tierRef{{name: "fast", store: s.fast, ttl: s.cfg.FastTTL}}
	if s.durable != nil {
		refs = append(refs, tierRef{name: "durable", store: s.durable, ttl: s.cfg.DurableTTL})
	}
	return refs
}

// userAggregate reads the user-scope aggregate for today through the
// normal cache path. Used by the mismatch monitor.
func (s *Service) userAggregate(ctx context.Context) (datatypes.ProgressSnapshot, error) {
	return s.GetProgress(ctx, datatypes.ScopeUser, s.cfg.UserID, s.cfg.Today())
}

// detailEmpty reports whether the loaded occurrence list is empty after
// at least one completed load. Before the first load the detail side is
// unknown, not empty; treating it as empty would trip the monitor on
// every cold start.
func (s *Service) detailEmpty() bool {
	return s.state.Loaded() && s.state.Empty()
}

// forceRepair is the monitor's repair action: flush every task cache
// and run a forced resync reload.
func (s *Service) forceRepair(ctx context.Context) error {
	s.invalidateAll(ctx)
	s.metrics.IncReload("forced")
	return s.reloadOccurrences(ctx, true)
}

// reloadSuggested surfaces the passive reload affordance once the
// monitor gives up.
func (s *Service) reloadSuggested() {
	s.bus.Publish(Event{Kind: EventReloadSuggested})
}
