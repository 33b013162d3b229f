// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/merklekv/merklekv/internal/codec"
	"github.com/merklekv/merklekv/internal/storage"
)

func TestOutboundPublishesEncodedEvent(t *testing.T) {
	engine := storage.New(4)
	p := New(engine, 5*time.Minute, 8, nil)

	var mu sync.Mutex
	var published [][]byte
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, func(_ context.Context, payload []byte) error {
			mu.Lock()
			published = append(published, payload)
			mu.Unlock()
			return nil
		})
		close(done)
	}()

	p.EmitOutbound(codec.Event{Key: "k", Value: "v", TimestampMs: 1, NodeID: "n", Seq: 1})

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(published)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("event was not published in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestInboundAppliesValidEvent(t *testing.T) {
	engine := storage.New(4)
	p := New(engine, 5*time.Minute, 8, nil)

	ev := codec.Event{Key: "k", Value: "v", TimestampMs: uint64(time.Now().UnixMilli()), NodeID: "n", Seq: 1}
	payload, err := codec.Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	p.HandleInbound(payload)

	got, ok := engine.Get("k")
	if !ok || got.Value != "v" {
		t.Fatalf("storage after inbound apply = %+v, ok=%v", got, ok)
	}
}

// TestInboundRejectsFutureSkew asserts an event timestamped too far in the
// future is rejected rather than applied.
func TestInboundRejectsFutureSkew(t *testing.T) {
	engine := storage.New(4)
	p := New(engine, 5*time.Minute, 8, nil)

	farFuture := uint64(time.Now().Add(10 * time.Minute).UnixMilli())
	ev := codec.Event{Key: "k", Value: "v", TimestampMs: farFuture, NodeID: "n", Seq: 1}
	payload, err := codec.Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	p.HandleInbound(payload)

	if _, ok := engine.Get("k"); ok {
		t.Fatal("future-skewed event must not be applied")
	}
}

func TestInboundDropsGarbagePayloadWithoutPanicking(t *testing.T) {
	engine := storage.New(4)
	p := New(engine, 5*time.Minute, 8, nil)
	p.HandleInbound([]byte{0xff, 0xff, 0xff})
}

type recordingPersister struct {
	mu      sync.Mutex
	entries []storage.Entry
}

func (r *recordingPersister) AppendEvent(e storage.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func TestOutboundAppendsToAttachedPersister(t *testing.T) {
	engine := storage.New(4)
	p := New(engine, 5*time.Minute, 8, nil)
	rec := &recordingPersister{}
	p.AttachPersister(rec)

	p.EmitOutbound(codec.Event{Key: "k", Value: "v", TimestampMs: 1, NodeID: "n", Seq: 1})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 1 || rec.entries[0].Key != "k" {
		t.Fatalf("persister entries = %+v, want one entry for key k", rec.entries)
	}
}

func TestInboundAppendsStoredEventToAttachedPersister(t *testing.T) {
	engine := storage.New(4)
	p := New(engine, 5*time.Minute, 8, nil)
	rec := &recordingPersister{}
	p.AttachPersister(rec)

	ev := codec.Event{Key: "k", Value: "v", TimestampMs: uint64(time.Now().UnixMilli()), NodeID: "n", Seq: 1}
	payload, err := codec.Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p.HandleInbound(payload)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 1 || rec.entries[0].Key != "k" {
		t.Fatalf("persister entries = %+v, want one entry for key k", rec.entries)
	}
}

func TestOutboundQueueFullDropsRatherThanBlocks(t *testing.T) {
	engine := storage.New(4)
	p := New(engine, 5*time.Minute, 1, nil)

	// Fill the single buffer slot; nothing drains it.
	p.EmitOutbound(codec.Event{Key: "a", TimestampMs: 1, NodeID: "n", Seq: 1})

	done := make(chan struct{})
	go func() {
		p.EmitOutbound(codec.Event{Key: "b", TimestampMs: 2, NodeID: "n", Seq: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EmitOutbound blocked on a full queue instead of dropping")
	}
}
