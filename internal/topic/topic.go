// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package topic builds and validates the canonical MQTT topics a MerkleKV
// node publishes and subscribes to.
package topic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSegment is returned when a prefix or client_id contains an MQTT
// wildcard, a NUL byte, or a leading/trailing '/'.
var ErrInvalidSegment = errors.New("topic: segment contains a wildcard, NUL byte, or leading/trailing slash")

// ValidateSegment rejects anything that could let one tenant's prefix or
// client_id reach into another tenant's namespace.
func ValidateSegment(s string) error {
	if strings.ContainsAny(s, "+#\x00") {
		return ErrInvalidSegment
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return ErrInvalidSegment
	}
	return nil
}

// Normalize collapses repeated '/' in s. It does not trim leading/trailing
// slashes; callers validate those separately so the error is specific.
func Normalize(s string) string {
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	return s
}

// Router computes the three canonical topics a node uses, rooted at a
// validated prefix and client_id.
type Router struct {
	prefix   string
	clientID string
}

// NewRouter validates prefix and clientID and returns a Router, or an error
// if either segment is invalid.
func NewRouter(prefix, clientID string) (*Router, error) {
	prefix = Normalize(prefix)
	clientID = Normalize(clientID)

	if prefix != "" {
		if err := ValidateSegment(prefix); err != nil {
			return nil, fmt.Errorf("topic: prefix %q: %w", prefix, err)
		}
	}
	if err := ValidateSegment(clientID); err != nil {
		return nil, fmt.Errorf("topic: client_id %q: %w", clientID, err)
	}
	if clientID == "" {
		return nil, fmt.Errorf("topic: client_id must not be empty")
	}

	return &Router{prefix: prefix, clientID: clientID}, nil
}

func (r *Router) join(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// CommandTopic is where callers publish commands addressed to this node:
// {prefix}/{client_id}/cmd.
func (r *Router) CommandTopic() string {
	return r.join(r.prefix, r.clientID, "cmd")
}

// ResponseTopic is where this node publishes command responses:
// {prefix}/{client_id}/res.
func (r *Router) ResponseTopic() string {
	return r.join(r.prefix, r.clientID, "res")
}

// ReplicationTopic is the shared topic every node publishes and subscribes
// to for replication events: {prefix}/replication/events.
func (r *Router) ReplicationTopic() string {
	return r.join(r.prefix, "replication", "events")
}
