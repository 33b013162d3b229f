// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package topic

import "testing"

func TestRouterCanonicalTopics(t *testing.T) {
	r, err := NewRouter("fleet-1", "device-42")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if got, want := r.CommandTopic(), "fleet-1/device-42/cmd"; got != want {
		t.Errorf("CommandTopic() = %q, want %q", got, want)
	}
	if got, want := r.ResponseTopic(), "fleet-1/device-42/res"; got != want {
		t.Errorf("ResponseTopic() = %q, want %q", got, want)
	}
	if got, want := r.ReplicationTopic(), "fleet-1/replication/events"; got != want {
		t.Errorf("ReplicationTopic() = %q, want %q", got, want)
	}
}

func TestRouterEmptyPrefix(t *testing.T) {
	r, err := NewRouter("", "device-42")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if got, want := r.CommandTopic(), "device-42/cmd"; got != want {
		t.Errorf("CommandTopic() = %q, want %q", got, want)
	}
	if got, want := r.ReplicationTopic(), "replication/events"; got != want {
		t.Errorf("ReplicationTopic() = %q, want %q", got, want)
	}
}

func TestNewRouterRejectsWildcards(t *testing.T) {
	cases := []struct{ prefix, clientID string }{
		{"fleet/+", "device"},
		{"fleet", "device#"},
		{"fleet", "de\x00vice"},
		{"/fleet", "device"},
		{"fleet/", "device"},
	}
	for _, c := range cases {
		if _, err := NewRouter(c.prefix, c.clientID); err == nil {
			t.Errorf("NewRouter(%q, %q) = nil error, want ErrInvalidSegment", c.prefix, c.clientID)
		}
	}
}

func TestNewRouterRejectsEmptyClientID(t *testing.T) {
	if _, err := NewRouter("fleet", ""); err == nil {
		t.Fatal("want error for empty client_id")
	}
}

func TestNormalizeCollapsesRepeatedSlashes(t *testing.T) {
	if got, want := Normalize("a//b///c"), "a/b/c"; got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}
