// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package replication wires the outbound (encode+publish) and inbound
// (decode+dedup+apply) halves of the replication pipeline. The outbound
// half is a message-passing seam: the processor deposits events into a
// queue that Run drains, so the processor never calls the broker client
// directly. The inbound half is not queued: HandleInbound decodes and
// applies each message synchronously on the caller's goroutine.
package replication

import (
	"context"
	"time"

	"github.com/merklekv/merklekv/internal/codec"
	"github.com/merklekv/merklekv/internal/storage"
	"github.com/merklekv/merklekv/pkg/log"
)

// Metrics is the narrow slice of internal/metrics the pipeline needs.
// Defined here rather than imported directly so the pipeline doesn't
// depend on the concrete Prometheus collectors.
type Metrics interface {
	ReplicationPublished()
	ReplicationDropped(reason string)
	ReplicationApplied(decision storage.AppliedDecision)
	ReplicationSkewRejected()
}

type noopMetrics struct{}

func (noopMetrics) ReplicationPublished()                               {}
func (noopMetrics) ReplicationDropped(reason string)                    {}
func (noopMetrics) ReplicationApplied(decision storage.AppliedDecision) {}
func (noopMetrics) ReplicationSkewRejected()                            {}

// Persister appends a stored mutation to the write-through replication log
// (internal/persist.Store). Defined here, rather than imported directly,
// so the pipeline doesn't depend on the concrete SQLite-backed store.
type Persister interface {
	AppendEvent(e storage.Entry) error
}

// Pipeline owns the outbound queue and drives both replication
// directions. It holds no locks of its own: the outbound channel and the
// storage engine's internal sharding already serialize the state that
// matters.
type Pipeline struct {
	engine        *storage.Engine
	skewMaxFuture time.Duration
	outbound      chan codec.Event
	metrics       Metrics
	persister     Persister
}

// AttachPersister wires a write-through log sink: every mutation this
// pipeline stores (outbound-originated or inbound-applied) is appended to
// it before/alongside publishing, building an append-only log of
// ReplicationEvents backing a periodic snapshot. Left nil, the pipeline
// runs in-memory only.
func (p *Pipeline) AttachPersister(persister Persister) {
	p.persister = persister
}

// New constructs a Pipeline. bufferSize sizes the outbound queue; a full
// queue causes EmitOutbound to drop the event rather than block the
// processor, which must never stall on a slow broker.
func New(engine *storage.Engine, skewMaxFuture time.Duration, bufferSize int, metrics Metrics) *Pipeline {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Pipeline{
		engine:        engine,
		skewMaxFuture: skewMaxFuture,
		outbound:      make(chan codec.Event, bufferSize),
		metrics:       metrics,
	}
}

// EmitOutbound implements processor.Emitter: it deposits a locally
// originated mutation's event onto the outbound queue for Run to publish,
// and appends it to the write-through log if one is attached. The entry
// was already committed to storage by the processor before this call, so
// the log append happens unconditionally, independent of whether the
// queue has room to publish it.
func (p *Pipeline) EmitOutbound(ev codec.Event) {
	p.appendToLog(ev)

	select {
	case p.outbound <- ev:
	default:
		log.Warnf("replication: outbound queue full, dropping event for key %q", ev.Key)
		p.metrics.ReplicationDropped("queue_full")
	}
}

func (p *Pipeline) appendToLog(ev codec.Event) {
	if p.persister == nil {
		return
	}
	if err := p.persister.AppendEvent(ev.ToEntry()); err != nil {
		log.Errorf("replication: appending event for key %q to log: %v", ev.Key, err)
	}
}

// Run drains the outbound queue, encoding and publishing each event via
// publish, until ctx is cancelled. Publish failures are logged and the
// event is dropped rather than retried indefinitely: the pipeline simply
// moves on rather than blocking every subsequent mutation behind one
// broker hiccup.
func (p *Pipeline) Run(ctx context.Context, publish func(ctx context.Context, payload []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.outbound:
			payload, err := codec.Encode(ev)
			if err != nil {
				log.Errorf("replication: encode failed for key %q: %v", ev.Key, err)
				p.metrics.ReplicationDropped("encode_error")
				continue
			}
			if err := publish(ctx, payload); err != nil {
				log.Warnf("replication: publish failed for key %q: %v", ev.Key, err)
				p.metrics.ReplicationDropped("publish_error")
				continue
			}
			p.metrics.ReplicationPublished()
		}
	}
}

// HandleInbound decodes an inbound replication message, rejects it under
// the future-skew guard, and applies it to storage. Decode failures and
// skew rejections are logged and dropped; they never terminate the
// pipeline.
func (p *Pipeline) HandleInbound(payload []byte) {
	ev, err := codec.Decode(payload)
	if err != nil {
		log.Warnf("replication: decode failed: %v", err)
		p.metrics.ReplicationDropped("decode_error")
		return
	}

	nowPlusSkew := uint64(time.Now().Add(p.skewMaxFuture).UnixMilli())
	if ev.TimestampMs > nowPlusSkew {
		log.Warnf("replication: rejecting event for key %q, timestamp %d exceeds skew bound", ev.Key, ev.TimestampMs)
		p.metrics.ReplicationSkewRejected()
		return
	}

	decision, err := p.engine.ApplyReplication(ev.ToEntry())
	if err != nil {
		log.Warnf("replication: apply failed for key %q: %v", ev.Key, err)
		p.metrics.ReplicationDropped("apply_error")
		return
	}
	if decision == storage.Stored {
		p.appendToLog(ev)
	}
	p.metrics.ReplicationApplied(decision)
}
