// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for the durable BadgerDB tier.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// The durable tier is a cache, not a source of truth, so async
	// writes are the default.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// HardExpiry is the BadgerDB-level TTL applied to every entry.
	// Unlike the entry's own freshness window, a hard-expired entry is
	// gone: it cannot be served even stale. Keeps the store bounded to
	// roughly one day of aggregates. Default: 24 hours.
	HardExpiry time.Duration

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to a negative value to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults for the durable tier.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		HardExpiry:     24 * time.Hour,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns configuration for testing: in-memory
// mode, GC disabled.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{
		InMemory:   true,
		HardExpiry: 24 * time.Hour,
		GCInterval: -1,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// badgerEnvelope is the stored form of a durable-tier entry. The
// freshness metadata travels with the payload so a restarted daemon
// still knows how old its cache is.
type badgerEnvelope struct {
	Data      json.RawMessage `json:"data"`
	WrittenAt time.Time       `json:"writtenAt"`
	TTLMillis int64           `json:"ttlMillis"`
}

// BadgerStore is the durable cache tier, backed by BadgerDB.
//
// Entries survive a daemon restart, so a full reload of the client does
// not have to go back to the authoritative store. Each entry carries
// its freshness metadata in the value; BadgerDB's own TTL is used only
// as a hard expiry to bound disk usage.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions provide
// atomic whole-entry writes.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// OpenBadgerStore opens (or creates) the durable tier described by cfg.
//
// The caller must Close the returned store. Opening starts the value
// log GC loop unless GCInterval is negative.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache tier")
	}
	if cfg.HardExpiry <= 0 {
		cfg.HardExpiry = 24 * time.Hour
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = 5 * time.Minute
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio > 1 {
		cfg.GCDiscardRatio = 0.5
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache tier: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: cfg.Logger,
		gcStop: make(chan struct{}),
		gcDone: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC()
	} else {
		close(s.gcDone)
	}
	return s, nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, key string) (Raw, bool, error) {
	var env badgerEnvelope
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if err != nil {
		return Raw{}, false, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	if !found {
		return Raw{}, false, nil
	}

	return Raw{
		Data:      env.Data,
		WrittenAt: env.WrittenAt,
		TTL:       time.Duration(env.TTLMillis) * time.Millisecond,
	}, true, nil
}

// Set implements Store.
func (s *BadgerStore) Set(_ context.Context, key string, data json.RawMessage, ttl time.Duration) error {
	env := badgerEnvelope{
		Data:      data,
		WrittenAt: time.Now(),
		TTLMillis: ttl.Milliseconds(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), payload).WithTTL(s.cfg.HardExpiry)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

// InvalidatePrefix implements Store.
func (s *BadgerStore) InvalidatePrefix(_ context.Context, prefix string) error {
	// Collect keys under a read transaction, then delete in a write
	// batch. A WriteBatch handles ErrTxnTooBig splitting for us.
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan cache prefix %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("invalidate cache prefix %q: %w", prefix, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("invalidate cache prefix %q: %w", prefix, err)
	}
	return nil
}

// Close implements Store. It stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	close(s.gcStop)
	<-s.gcDone

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger cache tier: %w", err)
	}
	return nil
}

func (s *BadgerStore) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
			switch {
			case err == nil:
				if s.logger != nil {
					s.logger.Debug("badger value log GC completed")
				}
			case errors.Is(err, badger.ErrNoRewrite):
				// Nothing to collect.
			default:
				if s.logger != nil {
					s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}

var _ Store = (*BadgerStore)(nil)
