// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"hash/fnv"
	"sync"
	"time"
)

const defaultShardCount = 64

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// dedupShard holds the highest observed seq per node_id for one shard of
// the origin space. Sharded independently of the key-space shards because
// dedup lookups key off node_id, not key.
type dedupShard struct {
	mu      sync.RWMutex
	highest map[string]uint64
}

// Engine is the concurrent LWW map. Keys are distributed over a fixed
// number of shards by FNV-1a hash so that writers to distinct keys never
// block each other.
type Engine struct {
	shards      []*shard
	dedupShards []*dedupShard
	shardCount  uint32
}

// New constructs an Engine with shardCount shards. A shardCount of zero or
// less falls back to defaultShardCount (64).
func New(shardCount int) *Engine {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	e := &Engine{
		shards:      make([]*shard, shardCount),
		dedupShards: make([]*dedupShard, shardCount),
		shardCount:  uint32(shardCount),
	}
	for i := range e.shards {
		e.shards[i] = &shard{entries: make(map[string]Entry)}
		e.dedupShards[i] = &dedupShard{highest: make(map[string]uint64)}
	}
	return e
}

func fnv1a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func (e *Engine) shardFor(key string) *shard {
	return e.shards[fnv1a(key)%e.shardCount]
}

func (e *Engine) dedupShardFor(nodeID string) *dedupShard {
	return e.dedupShards[fnv1a(nodeID)%e.shardCount]
}

// Get returns the live entry for key. A tombstoned or absent key reports
// ok=false: tombstones project to absence for reads.
func (e *Engine) Get(key string) (Entry, bool) {
	s := e.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entries[key]
	if !ok || ent.IsTombstone {
		return Entry{}, false
	}
	return ent, true
}

// GetRaw returns the stored entry for key even if it is a tombstone. Used
// by APPEND/PREPEND/INCR/DECR to see prior state including tombstones.
func (e *Engine) GetRaw(key string) (Entry, bool) {
	s := e.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entries[key]
	return ent, ok
}

// Put applies a locally-originated mutation. The caller (internal/processor)
// is responsible for allocating node_id/seq/timestamp_ms; Put performs
// validation and the LWW comparison, and records (node_id, seq) in the
// dedup table without consulting it.
func (e *Engine) Put(entry Entry) (AppliedDecision, error) {
	if err := ValidateKey(entry.Key); err != nil {
		return Rejected, err
	}
	if entry.HasValue {
		if err := ValidateValue(entry.Value); err != nil {
			return Rejected, err
		}
	}

	e.observeSeq(entry.NodeID, entry.Seq)

	s := e.shardFor(entry.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	return e.applyLocked(s, entry)
}

// ApplyReplication applies an inbound ReplicationEvent (already decoded and
// skew-checked by internal/replication). It performs deduplication against
// the per-origin (node_id, seq) table before the LWW comparison: an event
// whose (node_id, seq) was already observed (seq <= highest) is dropped
// before it ever reaches the LWW comparison.
func (e *Engine) ApplyReplication(entry Entry) (AppliedDecision, error) {
	if err := ValidateKey(entry.Key); err != nil {
		return Rejected, err
	}
	if entry.HasValue {
		if err := ValidateValue(entry.Value); err != nil {
			return Rejected, err
		}
	}

	ds := e.dedupShardFor(entry.NodeID)
	ds.mu.Lock()
	if highest, ok := ds.highest[entry.NodeID]; ok && entry.Seq <= highest {
		ds.mu.Unlock()
		return Duplicate, nil
	}
	ds.highest[entry.NodeID] = entry.Seq
	ds.mu.Unlock()

	s := e.shardFor(entry.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.applyLocked(s, entry)
}

// applyLocked performs the LWW comparison and store under s.mu held.
func (e *Engine) applyLocked(s *shard, entry Entry) (AppliedDecision, error) {
	current, exists := s.entries[entry.Key]
	if !exists {
		s.entries[entry.Key] = entry
		return Stored, nil
	}

	switch compare(entry, current) {
	case 1:
		s.entries[entry.Key] = entry
		return Stored, nil
	case 0:
		return Duplicate, nil
	default:
		return Rejected, nil
	}
}

// HighestSeq returns the highest seq ever observed for nodeID across both
// locally originated writes and replicated ones. Used on startup to seed
// the local seq counter at HighestSeq(nodeID)+1 so a restarted node never
// reuses a seq it previously originated.
func (e *Engine) HighestSeq(nodeID string) uint64 {
	ds := e.dedupShardFor(nodeID)
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.highest[nodeID]
}

// observeSeq records (nodeID, seq) in the dedup table without going through
// ApplyReplication's LWW path. Put uses this so that locally originated
// writes also populate the dedup table and HighestSeq stays accurate.
func (e *Engine) observeSeq(nodeID string, seq uint64) {
	ds := e.dedupShardFor(nodeID)
	ds.mu.Lock()
	if highest, ok := ds.highest[nodeID]; !ok || seq > highest {
		ds.highest[nodeID] = seq
	}
	ds.mu.Unlock()
}

// ScanTombstonesForGC removes tombstones older than retention. now is
// passed in by the caller (internal/scheduler) rather than read from
// time.Now() here, keeping the engine deterministic and testable.
func (e *Engine) ScanTombstonesForGC(now time.Time, retention time.Duration) int {
	cutoff := uint64(now.Add(-retention).UnixMilli())
	removed := 0
	for _, s := range e.shards {
		s.mu.Lock()
		for k, ent := range s.entries {
			if ent.IsTombstone && ent.TimestampMs < cutoff {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the total number of entries (live and tombstoned) in the map.
func (e *Engine) Len() int {
	n := 0
	for _, s := range e.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot copies every entry in the map. Used by internal/scheduler to
// feed the periodic persistence checkpoint.
func (e *Engine) Snapshot() []Entry {
	out := make([]Entry, 0, e.Len())
	for _, s := range e.shards {
		s.mu.RLock()
		for _, ent := range s.entries {
			out = append(out, ent)
		}
		s.mu.RUnlock()
	}
	return out
}
