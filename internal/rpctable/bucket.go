// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package rpctable

import "sync"

// NumBuckets is the number of hash buckets in each of a socket's client
// and server RPC tables (spec §4.3).
const NumBuckets = 1024

// Bucket is a hash bucket that doubles as the lock for every RPC it
// contains: the kernel source fuses "bucket-structure lock" and
// "per-RPC lock" into one spinlock because safe access to any RPC in the
// bucket requires the bucket lock anyway (spec §4.3, design note §9).
type Bucket struct {
	mu   sync.Mutex
	rpcs map[uint64]*Rpc
}

func newBucket() *Bucket {
	return &Bucket{rpcs: make(map[uint64]*Rpc)}
}

// Lock acquires the bucket lock. Holding it authorizes mutation of every
// RPC currently in the bucket.
func (b *Bucket) Lock() { b.mu.Lock() }

// Unlock releases the bucket lock.
func (b *Bucket) Unlock() { b.mu.Unlock() }

// TryLock attempts to acquire the bucket lock without blocking. Used by
// the pacer (spec §4.7 step 2) so a busy bucket is skipped rather than
// stalling the whole pacer loop.
func (b *Bucket) TryLock() bool { return b.mu.TryLock() }

// LookupLocked returns the RPC with the given id, or nil. Caller must
// hold the bucket lock.
func (b *Bucket) LookupLocked(id uint64) *Rpc {
	return b.rpcs[id]
}

// InsertLocked adds rpc to the bucket. Caller must hold the bucket lock.
func (b *Bucket) InsertLocked(rpc *Rpc) {
	b.rpcs[rpc.ID] = rpc
}

// RemoveLocked removes the RPC with the given id from the bucket. Caller
// must hold the bucket lock.
func (b *Bucket) RemoveLocked(id uint64) {
	delete(b.rpcs, id)
}

// LenLocked returns how many RPCs are currently in the bucket. Caller
// must hold the bucket lock.
func (b *Bucket) LenLocked() int { return len(b.rpcs) }

// Do locks the bucket, applies f to every RPC currently in it, then
// unlocks. Used by the recovery timer's per-tick walk (spec §4.8), which
// requires each RPC's bucket lock held for the whole decision.
func (b *Bucket) Do(f func(*Rpc)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rpc := range b.rpcs {
		f(rpc)
	}
}
