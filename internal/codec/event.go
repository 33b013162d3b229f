// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package codec implements the deterministic CBOR encoding of
// ReplicationEvent: identical input always produces identical bytes, so two
// replicas that apply the same mutation locally publish byte-identical wire
// events. Built on github.com/fxamacker/cbor/v2.
package codec

import (
	"github.com/merklekv/merklekv/internal/storage"
)

// MaxEncodedBytes is the hard cap on an encoded ReplicationEvent. Events
// larger than this are rejected, not truncated.
const MaxEncodedBytes = 300 * 1024

// Event is the on-wire mutation record. Field order here controls nothing —
// canonical CBOR sorts map keys independent of struct field order — but
// grouping mirrors storage.Entry for review. Value is omitted on the wire
// whenever it is empty, which covers every tombstone and also a live entry
// holding "": there is no separate has-value flag, so a decoder must derive
// presence from IsTombstone rather than from whether the field appeared.
type Event struct {
	Key          string `cbor:"key"`
	Value        string `cbor:"value,omitempty"`
	TimestampMs  uint64 `cbor:"timestamp_ms"`
	NodeID       string `cbor:"node_id"`
	Seq          uint64 `cbor:"seq"`
	IsTombstone  bool   `cbor:"is_tombstone"`
	OperationTag string `cbor:"operation_tag,omitempty"`
}

// FromEntry builds an Event from a storage.Entry, attaching an advisory
// operation_tag for downstream telemetry; it is never consulted for LWW or
// dedup decisions.
func FromEntry(e storage.Entry, operationTag string) Event {
	return Event{
		Key:          e.Key,
		Value:        e.Value,
		TimestampMs:  e.TimestampMs,
		NodeID:       e.NodeID,
		Seq:          e.Seq,
		IsTombstone:  e.IsTombstone,
		OperationTag: operationTag,
	}
}

// ToEntry recovers the storage.Entry carried by ev, discarding OperationTag
// (advisory metadata, not part of storage state). HasValue is derived from
// IsTombstone rather than carried on the wire.
func (ev Event) ToEntry() storage.Entry {
	return storage.Entry{
		Key:         ev.Key,
		Value:       ev.Value,
		HasValue:    !ev.IsTombstone,
		TimestampMs: ev.TimestampMs,
		NodeID:      ev.NodeID,
		Seq:         ev.Seq,
		IsTombstone: ev.IsTombstone,
	}
}
