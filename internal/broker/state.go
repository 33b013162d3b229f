// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker wraps an MQTT transport (paho.mqtt.golang) behind an
// explicit connection state machine with jittered reconnect backoff and
// Last Will Testament handling, using singleton-free, mutex-guarded
// subscription tracking rather than a package-level client.
package broker

// State is one of the client's connection states.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// StateEvent is broadcast on every state transition.
type StateEvent struct {
	State State
	Err   error
}
