// Copyright (c) 2017 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package bufpool provides sync.Pool-backed byte buffers sized for the
// packet and GSO-batch allocations on the hot send/receive path,
// adapted from pkg/rpc's fixed-size buffer pools (originally sized for
// 8/4/1 MiB tract and erasure-coding buffers) down to this transport's
// much smaller packet-sized working set.
package bufpool

import "sync"

const (
	packetSize = 2048   // one MTU-sized DATA/control packet, rounded up
	batchSize  = 65536  // one GSO-sized send batch
)

var (
	packetPool = sync.Pool{New: func() interface{} { b := make([]byte, packetSize); return &b }}
	batchPool  = sync.Pool{New: func() interface{} { b := make([]byte, batchSize); return &b }}
)

// Get returns a []byte with length n and capacity >= n. Its contents are
// not zeroed.
func Get(n int) []byte {
	switch {
	case n <= packetSize:
		return (*packetPool.Get().(*[]byte))[:n]
	case n <= batchSize:
		return (*batchPool.Get().(*[]byte))[:n]
	default:
		return make([]byte, n)
	}
}

// Put returns b to the appropriate pool, if it originated from one.
// b must not be used again afterward.
func Put(b []byte) {
	switch cap(b) {
	case packetSize:
		packetPool.Put(&b)
	case batchSize:
		batchPool.Put(&b)
	}
}
