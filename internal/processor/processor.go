// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package processor implements the command pipeline: structural
// validation, limits enforcement, idempotency lookup, dispatch, idempotency
// store, response emission, and triggering a replication publish for every
// successful mutation. A bounded pkg/lrucache.Cache sits in front of
// dispatch, backing request-level idempotence rather than response caching.
package processor

import (
	"sync/atomic"
	"time"

	"github.com/merklekv/merklekv/internal/codec"
	"github.com/merklekv/merklekv/internal/command"
	"github.com/merklekv/merklekv/internal/storage"
	"github.com/merklekv/merklekv/pkg/lrucache"
	"github.com/merklekv/merklekv/pkg/log"
)

// Emitter hands a locally originated mutation's replication event to the
// outbound side of the pipeline (internal/replication). Modeled as an
// interface rather than a concrete channel so tests can substitute a
// recording fake.
type Emitter interface {
	EmitOutbound(ev codec.Event)
}

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(ev codec.Event)

func (f EmitterFunc) EmitOutbound(ev codec.Event) { f(ev) }

// Metrics is the narrow slice of internal/metrics the processor reports
// to. nil is accepted and treated as a no-op, so tests can construct a
// Processor without a metrics registry.
type Metrics interface {
	MutationDispatched(op string)
	IdempotencyHit()
	IdempotencyMiss()
}

type noopMetrics struct{}

func (noopMetrics) MutationDispatched(string) {}
func (noopMetrics) IdempotencyHit()            {}
func (noopMetrics) IdempotencyMiss()           {}

// Processor is the command pipeline. One Processor is constructed per node
// and owns the idempotency cache and the local seq counter; both are
// explicit instance state, never package-level globals.
type Processor struct {
	engine   *storage.Engine
	idemp    *lrucache.Cache
	idempTTL time.Duration
	nodeID   string
	seq      uint64
	emitter  Emitter
	metrics  Metrics
}

// New constructs a Processor. idempotencyCacheSize bounds the idempotency
// cache in entry units (one unit per cached response); idempTTL is the
// cache entry lifetime (default 1024 entries / 10 minutes). The seq
// counter is seeded from engine.HighestSeq(nodeID)+1 so that a restarted
// node never reuses a seq it previously originated. metrics may be nil.
func New(engine *storage.Engine, nodeID string, idempotencyCacheSize int, idempTTL time.Duration, emitter Emitter, metrics Metrics) *Processor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Processor{
		engine:   engine,
		idemp:    lrucache.New(idempotencyCacheSize),
		idempTTL: idempTTL,
		nodeID:   nodeID,
		seq:      engine.HighestSeq(nodeID) + 1,
		emitter:  emitter,
		metrics:  metrics,
	}
}

func (p *Processor) nextSeq() uint64 {
	return atomic.AddUint64(&p.seq, 1) - 1
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Process runs cmd through the full pipeline and returns its Response.
// Empty-string id bypasses the idempotency cache entirely (caller opts
// out).
func (p *Processor) Process(cmd command.Command) command.Response {
	if err := validateStructure(cmd); err != nil {
		return *err
	}
	if err := enforceLimits(cmd); err != nil {
		return *err
	}

	if cmd.ID != "" {
		if cached := p.idemp.Get(cmd.ID, nil); cached != nil {
			p.metrics.IdempotencyHit()
			return cached.(command.Response)
		}
		p.metrics.IdempotencyMiss()
	}

	p.metrics.MutationDispatched(string(cmd.Op))
	resp := p.dispatch(cmd)

	if cmd.ID != "" {
		p.idemp.Put(cmd.ID, resp, 1, p.idempTTL)
	}
	return resp
}

// put applies a locally originated mutation to storage and, if it is
// stored, hands its replication event to the emitter. Returns the applied
// decision so callers can react to Rejected/Duplicate without the caller
// itself knowing about replication.
func (p *Processor) put(entry storage.Entry, operationTag string) (storage.AppliedDecision, error) {
	decision, err := p.engine.Put(entry)
	if err != nil {
		return decision, err
	}
	if decision == storage.Stored {
		p.emitter.EmitOutbound(codec.FromEntry(entry, operationTag))
	} else {
		log.Debugf("processor: local mutation on %q resulted in %v, not replicated", entry.Key, decision)
	}
	return decision, nil
}
