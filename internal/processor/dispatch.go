// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package processor

import (
	"strconv"

	"github.com/merklekv/merklekv/internal/command"
	"github.com/merklekv/merklekv/internal/storage"
)

func (p *Processor) dispatch(cmd command.Command) command.Response {
	switch cmd.Op {
	case command.OpGet:
		return p.doGet(cmd)
	case command.OpSet:
		return p.doSet(cmd)
	case command.OpDel:
		return p.doDel(cmd)
	case command.OpIncr:
		return p.doIncrDecr(cmd, 1)
	case command.OpDecr:
		return p.doIncrDecr(cmd, -1)
	case command.OpAppend:
		return p.doAppendPrepend(cmd, true)
	case command.OpPrepend:
		return p.doAppendPrepend(cmd, false)
	case command.OpMGet:
		return p.doMGet(cmd)
	case command.OpMSet:
		return p.doMSet(cmd)
	default:
		return *invalidRequest(cmd.ID, "unknown op")
	}
}

func (p *Processor) doGet(cmd command.Command) command.Response {
	entry, ok := p.engine.Get(cmd.Key)
	if !ok {
		r := command.Err(cmd.ID, command.ErrCodeNotFound, "key not found")
		return r
	}
	v := entry.Value
	return command.OK(cmd.ID, &v)
}

func (p *Processor) doSet(cmd command.Command) command.Response {
	entry := storage.Live(cmd.Key, cmd.Value, p.nodeID, nowMs(), p.nextSeq())
	if _, err := p.put(entry, "set"); err != nil {
		return command.Err(cmd.ID, command.ErrCodeInternal, err.Error())
	}
	return command.OK(cmd.ID, nil)
}

func (p *Processor) doDel(cmd command.Command) command.Response {
	entry := storage.Tombstone(cmd.Key, p.nodeID, nowMs(), p.nextSeq())
	if _, err := p.put(entry, "delete"); err != nil {
		return command.Err(cmd.ID, command.ErrCodeInternal, err.Error())
	}
	return command.OK(cmd.ID, nil)
}

// doIncrDecr implements INCR/DECR. sign is +1 for INCR, -1 for DECR,
// applied to the command's amount (default 1 in either direction).
func (p *Processor) doIncrDecr(cmd command.Command, sign int64) command.Response {
	amount := int64(1)
	if cmd.Amount != nil {
		amount = *cmd.Amount
	}
	amount *= sign

	current, ok := p.engine.GetRaw(cmd.Key)
	var currentVal int64
	if ok && !current.IsTombstone {
		parsed, err := strconv.ParseInt(current.Value, 10, 64)
		if err != nil {
			return command.Err(cmd.ID, command.ErrCodeInvalidType, "existing value is not numeric")
		}
		currentVal = parsed
	}
	// A missing key is treated as 0.

	sum, overflow := addOverflows(currentVal, amount)
	if overflow {
		return command.Err(cmd.ID, command.ErrCodeRangeOverflow, "numeric operation overflows int64")
	}

	newVal := strconv.FormatInt(sum, 10)
	entry := storage.Live(cmd.Key, newVal, p.nodeID, nowMs(), p.nextSeq())
	tag := "incr"
	if sign < 0 {
		tag = "decr"
	}
	if _, err := p.put(entry, tag); err != nil {
		return command.Err(cmd.ID, command.ErrCodeInternal, err.Error())
	}
	return command.OK(cmd.ID, &newVal)
}

// addOverflows reports whether a+b overflows the signed 64-bit range.
func addOverflows(a, b int64) (sum int64, overflow bool) {
	sum = a + b
	if b > 0 && sum < a {
		return 0, true
	}
	if b < 0 && sum > a {
		return 0, true
	}
	return sum, false
}

// doAppendPrepend implements APPEND/PREPEND. isAppend=true for APPEND,
// false for PREPEND.
func (p *Processor) doAppendPrepend(cmd command.Command, isAppend bool) command.Response {
	current, ok := p.engine.GetRaw(cmd.Key)
	base := ""
	if ok && !current.IsTombstone {
		base = current.Value
	}

	var combined string
	tag := "prepend"
	if isAppend {
		combined = base + cmd.Value
		tag = "append"
	} else {
		combined = cmd.Value + base
	}

	if err := storage.ValidateValue(combined); err != nil {
		return command.Err(cmd.ID, command.ErrCodePayloadTooLarge, err.Error())
	}

	entry := storage.Live(cmd.Key, combined, p.nodeID, nowMs(), p.nextSeq())
	if _, err := p.put(entry, tag); err != nil {
		return command.Err(cmd.ID, command.ErrCodeInternal, err.Error())
	}
	return command.OK(cmd.ID, &combined)
}

// doMGet preserves input order, emitting one PairResult per requested key.
func (p *Processor) doMGet(cmd command.Command) command.Response {
	results := make([]command.PairResult, 0, len(cmd.Keys))
	for _, k := range cmd.Keys {
		entry, ok := p.engine.Get(k)
		if !ok {
			results = append(results, command.PairResult{Key: k, Status: command.StatusNotFound})
			continue
		}
		v := entry.Value
		results = append(results, command.PairResult{Key: k, Value: &v, Status: command.StatusOK})
	}
	return command.Response{ID: cmd.ID, Status: command.StatusOK, Results: results}
}

// doMSet applies MSET atomicity per-pair: each pair is applied independently
// under LWW, with no cross-key transaction guarantees.
func (p *Processor) doMSet(cmd command.Command) command.Response {
	results := make([]command.PairResult, 0, len(cmd.KeyValues))
	for k, v := range cmd.KeyValues {
		if err := storage.ValidateValue(v); err != nil {
			results = append(results, command.PairResult{Key: k, Status: command.StatusPayloadTooLarge})
			continue
		}
		entry := storage.Live(k, v, p.nodeID, nowMs(), p.nextSeq())
		if _, err := p.put(entry, "mset"); err != nil {
			results = append(results, command.PairResult{Key: k, Status: command.StatusError})
			continue
		}
		results = append(results, command.PairResult{Key: k, Status: command.StatusOK})
	}
	return command.Response{ID: cmd.ID, Status: command.StatusOK, Results: results}
}
