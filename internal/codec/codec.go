// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ErrPayloadTooLarge reports that an encoded event exceeds MaxEncodedBytes,
// or that the caller handed the decoder more bytes than that cap allows.
var ErrPayloadTooLarge = errors.New("codec: replication event exceeds 300 KiB")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
	once    sync.Once
	initErr error
)

func modes() (cbor.EncMode, cbor.DecMode, error) {
	once.Do(func() {
		encOpts := cbor.CanonicalEncOptions()
		encMode, initErr = encOpts.EncMode()
		if initErr != nil {
			return
		}

		decOpts := cbor.DecOptions{
			DupMapKey:         cbor.DupMapKeyEnforcedAPF,
			ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		}
		decMode, initErr = decOpts.DecMode()
	})
	return encMode, decMode, initErr
}

// Encode produces the canonical CBOR encoding of ev. Map keys sort
// length-first then bytewise, integers use shortest form, and containers
// are definite-length because cbor.CanonicalEncOptions enforces RFC 7049
// canonical form. For Event's short text keys that key order is the same
// as a bytewise sort of the encoded keys.
func Encode(ev Event) ([]byte, error) {
	enc, _, err := modes()
	if err != nil {
		return nil, fmt.Errorf("codec: building encoder: %w", err)
	}

	out, err := enc.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	if len(out) > MaxEncodedBytes {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}

// Decode parses a canonical CBOR ReplicationEvent. It rejects payloads over
// MaxEncodedBytes before parsing, and duplicate map keys or unrecognized
// fields during parsing.
func Decode(data []byte) (Event, error) {
	if len(data) > MaxEncodedBytes {
		return Event{}, ErrPayloadTooLarge
	}

	_, dec, err := modes()
	if err != nil {
		return Event{}, fmt.Errorf("codec: building decoder: %w", err)
	}

	var ev Event
	if err := dec.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("codec: unmarshal: %w", err)
	}
	return ev, nil
}
