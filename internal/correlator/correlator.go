// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package correlator matches outbound commands to their eventual responses.
// It uses the same mutex-guarded wait-for-compute map shape as
// pkg/lrucache.Cache's in-flight tracking: here the map holds pending
// requests instead of in-flight cache fills, and each entry resolves either
// by an inbound response or by its own deadline timer, whichever happens
// first.
package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/merklekv/merklekv/internal/command"
)

// pending is one outstanding request awaiting a response.
type pending struct {
	ch     chan command.Response
	timer  *time.Timer
	once   sync.Once
	closed bool
}

// Correlator tracks requests by id and resolves them with either the
// matching response or a deterministic TIMEOUT.
type Correlator struct {
	mu      sync.Mutex
	entries map[string]*pending
}

// New constructs an empty Correlator.
func New() *Correlator {
	return &Correlator{entries: make(map[string]*pending)}
}

// Send registers id as pending with the given timeout, invokes publish to
// hand the command to the transport, then blocks until a matching Resolve,
// the timeout fires, or ctx is cancelled. On ctx cancellation the pending
// entry is removed; a response that arrives afterward is dropped.
func (c *Correlator) Send(ctx context.Context, id string, timeout time.Duration, publish func() error) (command.Response, error) {
	p := &pending{ch: make(chan command.Response, 1)}

	c.mu.Lock()
	c.entries[id] = p
	c.mu.Unlock()

	p.timer = time.AfterFunc(timeout, func() {
		c.resolve(id, p, command.Timeout(id))
	})

	if err := publish(); err != nil {
		c.remove(id, p)
		return command.Response{}, err
	}

	select {
	case resp := <-p.ch:
		return resp, nil
	case <-ctx.Done():
		c.remove(id, p)
		return command.Response{}, ctx.Err()
	}
}

// Resolve delivers resp to the pending request with the matching id, if
// any. A resolve for an unknown or already-resolved id is a silent no-op.
func (c *Correlator) Resolve(id string, resp command.Response) {
	c.mu.Lock()
	p, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.resolve(id, p, resp)
}

// resolve delivers resp to p exactly once and removes the entry.
func (c *Correlator) resolve(id string, p *pending, resp command.Response) {
	p.once.Do(func() {
		p.timer.Stop()
		p.ch <- resp
		c.mu.Lock()
		if c.entries[id] == p {
			delete(c.entries, id)
		}
		c.mu.Unlock()
	})
}

// remove cancels p's timer and drops it from the map without delivering a
// response, used when Send's caller cancels before anything resolves it.
func (c *Correlator) remove(id string, p *pending) {
	p.once.Do(func() {
		p.timer.Stop()
		c.mu.Lock()
		if c.entries[id] == p {
			delete(c.entries, id)
		}
		c.mu.Unlock()
	})
}

// Pending returns the number of requests currently awaiting resolution.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CancelAll resolves every pending request with TIMEOUT, used when the
// broker client disconnects mid-request.
func (c *Correlator) CancelAll() {
	c.mu.Lock()
	snapshot := make(map[string]*pending, len(c.entries))
	for id, p := range c.entries {
		snapshot[id] = p
	}
	c.mu.Unlock()

	for id, p := range snapshot {
		c.resolve(id, p, command.Timeout(id))
	}
}
