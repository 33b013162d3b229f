// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Disconnected:  "disconnected",
		Connecting:    "connecting",
		Connected:     "connected",
		Disconnecting: "disconnecting",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestNewClientStartsDisconnected(t *testing.T) {
	c := New(Config{BrokerURL: "tcp://localhost:1883", ClientID: "t"})
	if c.State() != Disconnected {
		t.Fatalf("new client state = %v, want Disconnected", c.State())
	}
}

// TestStateEventsBroadcastsTransitions exercises the broadcast stream
// directly via setStateLocked, without requiring a live broker connection.
func TestStateEventsBroadcastsTransitions(t *testing.T) {
	c := New(Config{BrokerURL: "tcp://localhost:1883", ClientID: "t"})
	events := c.StateEvents()

	c.mu.Lock()
	c.setStateLocked(Connecting, nil)
	c.mu.Unlock()

	select {
	case ev := <-events:
		if ev.State != Connecting {
			t.Fatalf("got state %v, want Connecting", ev.State)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive state event")
	}
}

func TestSlowSubscriberDoesNotBlockStateTransitions(t *testing.T) {
	c := New(Config{BrokerURL: "tcp://localhost:1883", ClientID: "t"})
	_ = c.StateEvents() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			c.mu.Lock()
			c.setStateLocked(Connecting, nil)
			c.mu.Unlock()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state transitions blocked on a slow subscriber")
	}
}
