// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package persist

import (
	"context"
	"time"

	"github.com/merklekv/merklekv/pkg/log"
)

type queryTimingKey struct{}

// sqlHooks satisfies sqlhooks.Hooks, logging every query's elapsed time at
// debug level. Uses an unexported context key type rather than a string to
// avoid collisions; go vet flags string context keys.
type sqlHooks struct{}

func (sqlHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("persist: query %s %q", query, args)
	return context.WithValue(ctx, queryTimingKey{}, time.Now()), nil
}

func (sqlHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(queryTimingKey{}).(time.Time); ok {
		log.Debugf("persist: took %s", time.Since(begin))
	}
	return ctx, nil
}
