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

	"github.com/verdantlabs/verdant/services/progress/datatypes"
	"github.com/verdantlabs/verdant/services/progress/observability"
)

// monitorState tracks where the monitor is in its repair cycle.
type monitorState int

const (
	// monitorClean: aggregate and detail agree.
	monitorClean monitorState = iota

	// monitorSuspected: a mismatch was observed but no repair has run
	// for it yet.
	monitorSuspected

	// monitorRepairing: repairs are running; attempts counts them.
	monitorRepairing

	// monitorExhausted: the retry cap was hit. The monitor stays quiet
	// until the mismatch clears on its own or a reload resets it.
	monitorExhausted
)

// monitorConfig wires a ReconciliationMonitor to its owning service.
type monitorConfig struct {
	// MaxAttempts bounds consecutive repairs for one mismatch episode.
	MaxAttempts int

	// SweepInterval is the period of the fail-safe background check.
	SweepInterval time.Duration

	// ReadAggregate reads the user-scope aggregate through the cache.
	ReadAggregate func(ctx context.Context) (datatypes.ProgressSnapshot, error)

	// DetailEmpty reports whether the loaded detail list is empty. Must
	// return false before the first load completes.
	DetailEmpty func() bool

	// Repair flushes caches and forces an authoritative reload.
	Repair func(ctx context.Context) error

	// OnExhausted fires once per episode when the retry cap is hit.
	OnExhausted func()

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// ReconciliationMonitor detects and repairs divergence between the
// aggregate counts and the occurrence detail list.
//
// The canonical symptom is an aggregate claiming outstanding work for
// today while the loaded detail list is empty: the store's occurrence
// rows were never materialized for the day, so no amount of ordinary
// reloading fixes it. The repair path flushes every cache tier and
// forces the store to resync its rows before reloading.
//
// Repairs for one episode are bounded. A persistent mismatch after
// MaxAttempts repairs means something upstream is wrong, and hammering
// the store cannot fix it; the monitor reports the episode and goes
// quiet until the mismatch clears.
//
// Thread Safety: safe for concurrent use.
type ReconciliationMonitor struct {
	cfg monitorConfig

	mu       sync.Mutex
	state    monitorState
	attempts int
}

func newReconciliationMonitor(cfg monitorConfig) *ReconciliationMonitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ReconciliationMonitor{cfg: cfg}
}

// StartSweep launches the periodic fail-safe check. It stops when ctx
// is cancelled.
func (m *ReconciliationMonitor) StartSweep(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Check performs one mismatch evaluation and, if needed, one repair.
// Callable directly after suspicious observations (an aggregate refresh
// that moved while the detail list stayed empty) in addition to the
// periodic sweep.
func (m *ReconciliationMonitor) Check(ctx context.Context) {
	mismatched, ok := m.evaluate(ctx)
	if !ok {
		return
	}

	m.mu.Lock()
	if !mismatched {
		if m.state != monitorClean {
			m.cfg.Logger.Debug("mismatch cleared", "attempts", m.attempts)
		}
		m.state = monitorClean
		m.attempts = 0
		m.mu.Unlock()
		return
	}
	if m.state == monitorExhausted {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.state = monitorExhausted
		m.mu.Unlock()
		m.cfg.Metrics.IncRepairExhausted()
		m.cfg.Logger.Warn("reconciliation attempts exhausted",
			"error", ErrReconciliationExhausted, "attempts", m.cfg.MaxAttempts)
		if m.cfg.OnExhausted != nil {
			m.cfg.OnExhausted()
		}
		return
	}
	if m.state == monitorClean {
		m.state = monitorSuspected
		m.cfg.Logger.Debug("aggregate/detail mismatch suspected")
	}
	m.state = monitorRepairing
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	m.cfg.Metrics.IncRepair()
	m.cfg.Logger.Info("repairing aggregate/detail mismatch", "attempt", attempt)
	if err := m.cfg.Repair(ctx); err != nil {
		m.cfg.Logger.Warn("mismatch repair failed", "attempt", attempt, "error", err)
	}
}

// evaluate reads both sides of the comparison. The second return is
// false when the aggregate could not be read; no repair decision is
// made on missing data.
func (m *ReconciliationMonitor) evaluate(ctx context.Context) (mismatched, ok bool) {
	aggregate, err := m.cfg.ReadAggregate(ctx)
	if err != nil {
		m.cfg.Logger.Debug("mismatch check skipped, aggregate unavailable", "error", err)
		return false, false
	}
	// Anything due with no occurrence rows loaded is a mismatch, even
	// on a fully completed day: the rows exist upstream either way.
	return aggregate.Due > 0 && m.cfg.DetailEmpty(), true
}

// Attempts returns the repair count of the current episode.
func (m *ReconciliationMonitor) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Exhausted reports whether the current episode hit the retry cap.
func (m *ReconciliationMonitor) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == monitorExhausted
}
