// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"math/rand"
	"time"
)

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
	jitterFrac  = 0.20
)

// backoffDelay computes the exponential-with-jitter reconnect delay: base 1s,
// multiplier 2, cap 30s, ±20% jitter. attempt is 0-indexed (the first retry
// after a failed connect uses attempt=0).
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}

	jitter := float64(d) * jitterFrac
	delta := (rand.Float64()*2 - 1) * jitter
	d = time.Duration(float64(d) + delta)
	if d < 0 {
		d = 0
	}
	return d
}
