// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package processor

import (
	"github.com/merklekv/merklekv/internal/command"
	"github.com/merklekv/merklekv/internal/storage"
)

// validateStructure enforces structural validation: required fields by op,
// unknown ops rejected. Returns nil when cmd is well-formed.
func validateStructure(cmd command.Command) *command.Response {
	switch cmd.Op {
	case command.OpGet, command.OpDel:
		if cmd.Key == "" {
			return invalidRequest(cmd.ID, "key is required")
		}
	case command.OpSet:
		if cmd.Key == "" {
			return invalidRequest(cmd.ID, "key is required")
		}
	case command.OpAppend, command.OpPrepend:
		if cmd.Key == "" {
			return invalidRequest(cmd.ID, "key is required")
		}
	case command.OpIncr, command.OpDecr:
		if cmd.Key == "" {
			return invalidRequest(cmd.ID, "key is required")
		}
	case command.OpMGet:
		if cmd.Keys == nil {
			return invalidRequest(cmd.ID, "keys is required")
		}
	case command.OpMSet:
		if cmd.KeyValues == nil {
			return invalidRequest(cmd.ID, "key_values is required")
		}
	default:
		return invalidRequest(cmd.ID, "unknown op")
	}
	return nil
}

// enforceLimits enforces per-op size and count limits. Size violations
// yield PAYLOAD_TOO_LARGE; count/shape violations yield INVALID_REQUEST.
func enforceLimits(cmd command.Command) *command.Response {
	switch cmd.Op {
	case command.OpGet, command.OpDel:
		return validateKeyLimit(cmd.ID, cmd.Key)

	case command.OpSet:
		if resp := validateKeyLimit(cmd.ID, cmd.Key); resp != nil {
			return resp
		}
		if err := storage.ValidateValue(cmd.Value); err != nil {
			return payloadTooLarge(cmd.ID, err.Error())
		}

	case command.OpAppend, command.OpPrepend:
		if resp := validateKeyLimit(cmd.ID, cmd.Key); resp != nil {
			return resp
		}
		if len(cmd.Value) > storage.MaxValueBytes {
			return payloadTooLarge(cmd.ID, "value exceeds 256 KiB")
		}

	case command.OpIncr, command.OpDecr:
		return validateKeyLimit(cmd.ID, cmd.Key)

	case command.OpMGet:
		if len(cmd.Keys) > MaxMGetKeys {
			return invalidRequest(cmd.ID, "too many keys in MGET")
		}
		for _, k := range cmd.Keys {
			if resp := validateKeyLimit(cmd.ID, k); resp != nil {
				return resp
			}
		}

	case command.OpMSet:
		if len(cmd.KeyValues) > MaxMSetPairs {
			return invalidRequest(cmd.ID, "too many pairs in MSET")
		}
		if bulkPayloadBytes(cmd.KeyValues) > MaxBulkPayloadBytes {
			return payloadTooLarge(cmd.ID, "MSET payload exceeds 512 KiB")
		}
	}
	return nil
}

func validateKeyLimit(id, key string) *command.Response {
	if err := storage.ValidateKey(key); err != nil {
		switch err {
		case storage.ErrKeyTooLarge:
			return payloadTooLarge(id, err.Error())
		default:
			return invalidRequest(id, err.Error())
		}
	}
	return nil
}

func invalidRequest(id, msg string) *command.Response {
	r := command.Err(id, command.ErrCodeInvalidRequest, msg)
	return &r
}

func payloadTooLarge(id, msg string) *command.Response {
	r := command.Err(id, command.ErrCodePayloadTooLarge, msg)
	return &r
}
