// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler runs the two periodic background jobs a replica needs:
// tombstone GC sweeps and persistence checkpoints. Each Scheduler owns its
// gocron.Scheduler instance directly rather than reaching for a
// package-level singleton, so a process can run more than one independently
// and tests can construct one without touching global state.
package scheduler

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/merklekv/merklekv/internal/storage"
	"github.com/merklekv/merklekv/pkg/log"
)

// Checkpointer is the subset of persist.Store the scheduler drives. A
// narrow interface here keeps scheduler free of a direct persist import,
// mirroring the Emitter/Metrics seams used elsewhere.
type Checkpointer interface {
	Checkpoint(entries []storage.Entry) error
}

// Config holds the two job intervals and the tombstone retention the GC job
// applies. Zero values fall back to the package defaults below.
type Config struct {
	GCInterval         time.Duration
	CheckpointInterval time.Duration
	TombstoneRetention time.Duration
}

const (
	defaultGCInterval         = time.Hour
	defaultCheckpointInterval = 5 * time.Minute
	defaultTombstoneRetention = 24 * time.Hour
)

// Scheduler owns a gocron.Scheduler running the GC-sweep and
// checkpoint-snapshot jobs against one storage.Engine and one
// Checkpointer.
type Scheduler struct {
	gc     gocron.Scheduler
	engine *storage.Engine
	store  Checkpointer
	cfg    Config
}

// New builds a Scheduler. It does not start any job until Start is called.
func New(engine *storage.Engine, store Checkpointer, cfg Config) (*Scheduler, error) {
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = defaultGCInterval
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}
	if cfg.TombstoneRetention <= 0 {
		cfg.TombstoneRetention = defaultTombstoneRetention
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &Scheduler{gc: s, engine: engine, store: store, cfg: cfg}, nil
}

// Start registers the GC-sweep and checkpoint-snapshot jobs and starts the
// underlying scheduler. Safe to call once per Scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.gc.NewJob(
		gocron.DurationJob(s.cfg.GCInterval),
		gocron.NewTask(s.runGC),
	); err != nil {
		return err
	}

	if _, err := s.gc.NewJob(
		gocron.DurationJob(s.cfg.CheckpointInterval),
		gocron.NewTask(s.runCheckpoint),
	); err != nil {
		return err
	}

	s.gc.Start()
	return nil
}

// Shutdown stops the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Shutdown() error {
	return s.gc.Shutdown()
}

func (s *Scheduler) runGC() {
	removed := s.engine.ScanTombstonesForGC(time.Now(), s.cfg.TombstoneRetention)
	if removed > 0 {
		log.Infof("scheduler: GC swept %d expired tombstones", removed)
	}
}

func (s *Scheduler) runCheckpoint() {
	entries := s.engine.Snapshot()
	if err := s.store.Checkpoint(entries); err != nil {
		log.Errorf("scheduler: checkpoint failed: %v", err)
		return
	}
	log.Debugf("scheduler: checkpoint wrote %d entries", len(entries))
}
