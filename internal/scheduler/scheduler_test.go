// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/merklekv/merklekv/internal/storage"
)

type countingStore struct {
	calls int32
}

func (c *countingStore) Checkpoint(entries []storage.Entry) error {
	atomic.AddInt32(&c.calls, 1)
	return nil
}

func TestSchedulerRunsCheckpointAndGC(t *testing.T) {
	engine := storage.New(4)
	if _, err := engine.Put(storage.Live("k", "v", "node-a", 1, 1)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	store := &countingStore{}
	s, err := New(engine, store, Config{
		GCInterval:         20 * time.Millisecond,
		CheckpointInterval: 10 * time.Millisecond,
		TombstoneRetention: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&store.calls) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("checkpoint job never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerDefaultsApplied(t *testing.T) {
	engine := storage.New(4)
	s, err := New(engine, &countingStore{}, Config{})
	require.NoError(t, err)
	require.Equal(t, defaultGCInterval, s.cfg.GCInterval)
	require.Equal(t, defaultCheckpointInterval, s.cfg.CheckpointInterval)
	require.Equal(t, defaultTombstoneRetention, s.cfg.TombstoneRetention)
}

func TestSchedulerGCRemovesExpiredTombstone(t *testing.T) {
	engine := storage.New(4)
	past := uint64(time.Now().Add(-48 * time.Hour).UnixMilli())
	if _, err := engine.ApplyReplication(storage.Tombstone("gone", "node-a", past, 1)); err != nil {
		t.Fatalf("ApplyReplication: %v", err)
	}

	s, err := New(engine, &countingStore{}, Config{TombstoneRetention: 24 * time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.runGC()

	if _, ok := engine.GetRaw("gone"); ok {
		t.Fatal("expired tombstone should have been swept")
	}
}
