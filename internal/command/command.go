// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package command holds the wire-level Command/Response types shared by
// internal/processor and internal/correlator. Commands and responses travel
// as JSON over MQTT, distinct from the canonical CBOR used for replication
// events (internal/codec).
package command

import (
	"bytes"
	"encoding/json"
)

// Op enumerates the supported command operations.
type Op string

const (
	OpGet     Op = "GET"
	OpSet     Op = "SET"
	OpDel     Op = "DEL"
	OpIncr    Op = "INCR"
	OpDecr    Op = "DECR"
	OpAppend  Op = "APPEND"
	OpPrepend Op = "PREPEND"
	OpMGet    Op = "MGET"
	OpMSet    Op = "MSET"
)

// Command is an inbound request.
type Command struct {
	ID        string            `json:"id"`
	Op        Op                `json:"op"`
	Key       string            `json:"key,omitempty"`
	Value     string            `json:"value,omitempty"`
	Amount    *int64            `json:"amount,omitempty"`
	Keys      []string          `json:"keys,omitempty"`
	KeyValues map[string]string `json:"key_values,omitempty"`
}

// Status is the outcome reported in a Response.
type Status string

const (
	StatusOK              Status = "OK"
	StatusError           Status = "ERROR"
	StatusPayloadTooLarge Status = "PAYLOAD_TOO_LARGE"
	StatusNotFound        Status = "NOT_FOUND"
	StatusTimeout         Status = "TIMEOUT"
)

// ErrorCode is the stable numeric error taxonomy reported on failure.
type ErrorCode int

const (
	ErrCodeInvalidRequest  ErrorCode = 100
	ErrCodeNotFound        ErrorCode = 101
	ErrCodePayloadTooLarge ErrorCode = 102
	ErrCodeTimeout         ErrorCode = 103
	ErrCodeRangeOverflow   ErrorCode = 104
	ErrCodeInvalidType     ErrorCode = 105
	ErrCodeInternal        ErrorCode = 500
)

// PairResult is one entry of an MGET/MSET response.
type PairResult struct {
	Key    string  `json:"key"`
	Value  *string `json:"value,omitempty"`
	Status Status  `json:"status,omitempty"`
}

// Response echoes a Command's id with its outcome.
type Response struct {
	ID        string       `json:"id"`
	Status    Status       `json:"status"`
	Value     *string      `json:"value,omitempty"`
	Results   []PairResult `json:"results,omitempty"`
	ErrorCode *ErrorCode   `json:"error_code,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// OK builds a plain success Response, optionally carrying a value.
func OK(id string, value *string) Response {
	return Response{ID: id, Status: StatusOK, Value: value}
}

// Err builds an error Response with the given code and message.
func Err(id string, code ErrorCode, message string) Response {
	c := code
	return Response{ID: id, Status: errorStatusFor(code), ErrorCode: &c, Message: message}
}

// Timeout builds the Response the correlator emits when a pending command's
// deadline elapses without a matching reply.
func Timeout(id string) Response {
	c := ErrCodeTimeout
	return Response{ID: id, Status: StatusTimeout, ErrorCode: &c, Message: "operation deadline exceeded"}
}

func errorStatusFor(code ErrorCode) Status {
	switch code {
	case ErrCodePayloadTooLarge:
		return StatusPayloadTooLarge
	case ErrCodeNotFound:
		return StatusNotFound
	case ErrCodeTimeout:
		return StatusTimeout
	default:
		return StatusError
	}
}

// Marshal encodes r as the JSON wire form used over MQTT.
func (r Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ParseCommand decodes a JSON command payload, rejecting unknown fields as
// a structural-validation first line of defense.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
