// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package lrucache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// cachedResponse mirrors the shape the idempotency cache actually stores:
// a command.Response keyed by request id, without importing internal/command
// from this package.
type cachedResponse struct {
	requestID string
	status    string
	value     string
}

func okResponse(id, value string) ComputeValue {
	return func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: id, status: "OK", value: value}, 10 * time.Minute, len(value)
	}
}

func TestBasics(t *testing.T) {
	cache := New(1024)

	first := cache.Get("req-1", okResponse("req-1", "active")).(cachedResponse)
	if first.value != "active" {
		t.Error("cache returned wrong response")
	}

	replayed := cache.Get("req-1", func() (interface{}, time.Duration, int) {
		t.Error("replayed request id should be served from cache")
		return cachedResponse{}, 0, 0
	}).(cachedResponse)
	if replayed.value != "active" {
		t.Error("cache returned wrong response on replay")
	}

	existed := cache.Del("req-1")
	if !existed {
		t.Error("delete did not evict the cached response")
	}

	reSet := cache.Get("req-1", okResponse("req-1", "inactive")).(cachedResponse)
	if reSet.value != "inactive" {
		t.Error("cache returned stale response after eviction")
	}

	cache.Keys(func(id string, val interface{}) {
		resp := val.(cachedResponse)
		if id != "req-1" || resp.value != "inactive" {
			t.Error("idempotency cache corrupted")
		}
	})
}

func TestExpiration(t *testing.T) {
	cache := New(1024)

	failIfCalled := func() (interface{}, time.Duration, int) {
		t.Error("response should still be cached")
		return cachedResponse{}, 0, 0
	}

	val1 := cache.Get("req-a", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-a", status: "OK", value: "v1"}, 5 * time.Millisecond, 0
	})
	val2 := cache.Get("req-b", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-b", status: "OK", value: "v2"}, 20 * time.Millisecond, 0
	})

	val3 := cache.Get("req-a", failIfCalled).(cachedResponse)
	val4 := cache.Get("req-b", failIfCalled).(cachedResponse)

	if val1.(cachedResponse).value != val3.value || val3.value != "v1" ||
		val2.(cachedResponse).value != val4.value || val4.value != "v2" {
		t.Error("wrong responses returned before expiry")
	}

	time.Sleep(10 * time.Millisecond)

	val5 := cache.Get("req-a", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-a", status: "OK", value: "v1-retried"}, 0, 0
	}).(cachedResponse)
	val6 := cache.Get("req-b", failIfCalled).(cachedResponse)

	if val5.value != "v1-retried" || val6.value != "v2" {
		t.Error("unexpected responses around expiry boundary")
	}

	cache.Keys(func(id string, val interface{}) {
		resp := val.(cachedResponse)
		if id != "req-b" || resp.value != "v2" {
			t.Error("wrong request id survived expiry")
		}
	})

	time.Sleep(15 * time.Millisecond)
	cache.Keys(func(id string, val interface{}) {
		t.Error("idempotency cache should be empty once all TTLs elapse")
	})
}

func TestEviction(t *testing.T) {
	c := New(100)
	failIfCalled := func() (interface{}, time.Duration, int) {
		t.Error("response should still be cached")
		return cachedResponse{}, 0, 0
	}

	v1 := c.Get("req-1", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-1", status: "OK", value: "first"}, time.Second, 1000
	})
	v2 := c.Get("req-1", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-1", status: "OK", value: "second"}, time.Second, 1000
	})

	if v1.(cachedResponse).value != "first" || v2.(cachedResponse).value != "second" {
		t.Error("wrong responses returned")
	}

	c.Keys(func(id string, val interface{}) {
		t.Error("oversized entries should have been evicted immediately")
	})

	_ = c.Get("req-a", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-a", status: "OK", value: "a"}, time.Second, 50
	})

	_ = c.Get("req-b", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-b", status: "OK", value: "b"}, time.Second, 50
	})

	_ = c.Get("req-a", failIfCalled)
	_ = c.Get("req-b", failIfCalled)
	_ = c.Get("req-c", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-c", status: "OK", value: "c"}, time.Second, 50
	})

	_ = c.Get("req-b", failIfCalled)
	_ = c.Get("req-c", failIfCalled)

	v4 := c.Get("req-a", func() (interface{}, time.Duration, int) {
		return cachedResponse{requestID: "req-a", status: "OK", value: "recomputed"}, time.Second, 25
	})

	if v4.(cachedResponse).value != "recomputed" {
		t.Error("least-recently-used request id should have been evicted")
	}

	c.Keys(func(id string, val interface{}) {
		if id != "req-a" && id != "req-c" {
			t.Errorf("%q was not expected to still be cached", id)
		}
	})
}

// TestConcurrency exercises the cache with many goroutines replaying the
// same request id, the way concurrent retries of one command would.
func TestConcurrency(t *testing.T) {
	c := New(100)
	var wg sync.WaitGroup

	numActions := 20000
	numThreads := 4
	wg.Add(numThreads)

	var concurrentComputations int32 = 0

	for i := 0; i < numThreads; i++ {
		go func() {
			for j := 0; j < numActions; j++ {
				_ = c.Get("req-shared", func() (interface{}, time.Duration, int) {
					m := atomic.AddInt32(&concurrentComputations, 1)
					if m != 1 {
						t.Error("only one goroutine at a time should dispatch for the same request id")
					}

					time.Sleep(1 * time.Millisecond)
					atomic.AddInt32(&concurrentComputations, -1)
					return cachedResponse{requestID: "req-shared", status: "OK", value: "v"}, 3 * time.Millisecond, 1
				})
			}

			wg.Done()
		}()
	}

	wg.Wait()

	c.Keys(func(id string, val interface{}) {})
}

func TestPanic(t *testing.T) {
	c := New(100)

	c.Put("req-cached", cachedResponse{requestID: "req-cached", status: "OK", value: "baz"}, 3, 1*time.Minute)

	testpanic := func() {
		defer func() {
			if r := recover(); r != nil {
				if r.(string) != "dispatch failed" {
					t.Fatal("unexpected panic value")
				}
			}
		}()

		_ = c.Get("req-panicking", func() (value interface{}, ttl time.Duration, size int) {
			panic("dispatch failed")
		})

		t.Fatal("should have paniced!")
	}

	testpanic()

	v := c.Get("req-cached", func() (value interface{}, ttl time.Duration, size int) {
		t.Fatal("should not be called, req-cached is already in the cache!")
		return nil, 0, 0
	})

	if v.(cachedResponse).value != "baz" {
		t.Fatal("unexpected cached response")
	}

	testpanic()
}
