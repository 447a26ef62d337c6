// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package rpctable

import (
	"sync"
	"sync/atomic"
)

// Table is a socket's pair of RPC hash tables (client-issued and
// server-issued) plus the two-phase reap bookkeeping described in spec
// §4.3 and §4.9: freeing an RPC is cheap and lock-scoped (Free), while
// the actual release of its buffers happens later, off the hot path,
// under Reap.
type Table struct {
	clientBuckets [NumBuckets]*Bucket
	serverBuckets [NumBuckets]*Bucket

	deadMu   sync.Mutex
	dead     []*Rpc
	maxDead  int

	reapDisable int32 // atomic

	localPort int
}

// SetLocalPort records the socket port this table belongs to, so packet
// encoding can recover a sending RPC's source port from the RPC alone
// (via Rpc.Owner()) without threading the owning socket through every
// layer that builds outbound packets.
func (t *Table) SetLocalPort(port int) { t.localPort = port }

// LocalPort returns the port set by SetLocalPort, or 0 if never set.
func (t *Table) LocalPort() int { return t.localPort }

// NewTable creates an empty per-socket RPC table. maxDeadBuffs mirrors
// Config.MaxDeadBuffs: once the dead list grows past this, Reap should be
// invoked aggressively (spec §4.9) rather than at its usual lazy pace.
func NewTable(maxDeadBuffs int) *Table {
	t := &Table{maxDead: maxDeadBuffs}
	for i := range t.clientBuckets {
		t.clientBuckets[i] = newBucket()
	}
	for i := range t.serverBuckets {
		t.serverBuckets[i] = newBucket()
	}
	return t
}

// BucketFor returns the bucket that owns (id, isClient).
func (t *Table) BucketFor(id uint64, isClient bool) *Bucket {
	idx := int(id % NumBuckets)
	if isClient {
		return t.clientBuckets[idx]
	}
	return t.serverBuckets[idx]
}

// Lookup finds an RPC by key, acquiring and releasing the owning bucket's
// lock itself. Prefer BucketFor+LookupLocked when the caller needs to hold
// the lock across a subsequent mutation.
func (t *Table) Lookup(key Key) *Rpc {
	b := t.BucketFor(key.ID, key.IsClient)
	b.Lock()
	defer b.Unlock()
	return b.LookupLocked(key.ID)
}

// Insert adds rpc to its owning bucket and records t as its owner.
func (t *Table) Insert(rpc *Rpc) {
	rpc.SetOwner(t)
	b := t.BucketFor(rpc.ID, rpc.IsClient)
	b.Lock()
	b.InsertLocked(rpc)
	b.Unlock()
}

// Walk applies f to every RPC currently in the table, one bucket at a
// time, holding that bucket's lock for the duration of each call to f
// (spec §4.8: the timer's per-tick walk requires the bucket lock for the
// whole resend/abort decision).
func (t *Table) Walk(f func(*Rpc)) {
	for _, b := range t.clientBuckets {
		b.Do(f)
	}
	for _, b := range t.serverBuckets {
		b.Do(f)
	}
}

// DisableReap increments the reap_disable counter, per spec §4.9: a
// receiver copying data out of an RPC bumps this before releasing the
// bucket lock so a concurrent Reap cannot free the buffers out from under
// it, without needing to hold the bucket lock for the whole copy.
func (t *Table) DisableReap() {
	atomic.AddInt32(&t.reapDisable, 1)
}

// EnableReap undoes one DisableReap.
func (t *Table) EnableReap() {
	atomic.AddInt32(&t.reapDisable, -1)
}

func (t *Table) reapDisabled() bool {
	return atomic.LoadInt32(&t.reapDisable) > 0
}

// Free is phase one of reaping: it removes rpc from its bucket (which
// requires the bucket lock) and appends it to the dead list for later
// release. It does not touch buffer memory. It acquires the bucket lock
// itself, so the caller must not already hold it.
func (t *Table) Free(rpc *Rpc) {
	b := t.BucketFor(rpc.ID, rpc.IsClient)
	b.Lock()
	b.RemoveLocked(rpc.ID)
	b.Unlock()

	rpc.State = StateDead
	rpc.dead = true

	t.deadMu.Lock()
	t.dead = append(t.dead, rpc)
	t.deadMu.Unlock()
}

// NeedsAggressiveReap reports whether the dead list has grown past
// MaxDeadBuffs, per spec §4.9: past this threshold the socket should call
// Reap with a larger limit (or unlimited) instead of the usual small
// per-call batch.
func (t *Table) NeedsAggressiveReap() bool {
	t.deadMu.Lock()
	defer t.deadMu.Unlock()
	return t.maxDead > 0 && len(t.dead) > t.maxDead
}

// DeadCount returns the current size of the dead list.
func (t *Table) DeadCount() int {
	t.deadMu.Lock()
	defer t.deadMu.Unlock()
	return len(t.dead)
}

// Reap is phase two: it releases up to limit dead RPCs' buffers, skipping
// entirely if reap is currently disabled by an in-flight copy (spec
// §4.9). It returns how many RPCs were actually reaped.
func (t *Table) Reap(limit int) int {
	if t.reapDisabled() {
		return 0
	}

	t.deadMu.Lock()
	if limit <= 0 || limit > len(t.dead) {
		limit = len(t.dead)
	}
	victims := t.dead[:limit]
	t.dead = t.dead[limit:]
	t.deadMu.Unlock()

	for _, rpc := range victims {
		rpc.MsgIn = nil
		rpc.MsgOut = nil
	}
	return len(victims)
}
